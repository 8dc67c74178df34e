// Package inplace rebuilds a new firmware image directly over the old one,
// without a second full-size partial image partition.
//
// # Overview
//
// A patch engine (see package patch) reads the patch and the old image and
// emits the new image strictly in order. The Updater stages that output in a
// bounded staging area. Whenever the area fills up it is committed: the next
// range of the old image is erased and the staged bytes are copied there.
// Because the engine never reads old data below what it has already written,
// overwriting that prefix is safe.
//
// # Basic Usage
//
//	table := flash.NewTable()
//	// ... add devices and partitions
//	patchPart, _ := table.Find("download")
//	app, _ := table.Find("app")
//
//	u := inplace.New(patch.Raw{})
//	res, err := u.Apply(ctx, patchPart, app, patchLen, newLen, rbl.HeaderSize)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("committed %d bytes in %d commits\n", res.Committed, res.Commits)
//
// # Staging Strategies
//
// RAMBuffer stages data in memory and commits it with a single write:
//
//	u := inplace.New(engine, inplace.WithStrategy(inplace.RAMBuffer(8192)))
//
// FlashSwap stages data in a window of a spare partition and copies it over
// through a small bounce buffer. The window is erased once when the update
// starts and again after every commit:
//
//	swap, _ := table.Find("swap")
//	u := inplace.New(engine,
//	    inplace.WithStrategy(inplace.FlashSwap(swap, 0)),
//	    inplace.WithCopyBufferSize(1024),
//	)
//
// Either staging area must be a whole number of blocks of the old partition,
// so that block rounded erases never reach old data the engine still needs.
//
// # Finalization
//
// After the engine succeeds the residual staged bytes are committed. The old
// partition is then erased from the block aligned end of the new image to
// its end; a failure there is only logged and recorded in Result. Finally
// the committed length must equal the expected new length, otherwise Apply
// returns a LengthMismatchError.
//
// # Error Handling
//
// Errors are typed and classed with containerd/errdefs:
//
//	res, err := u.Apply(ctx, patchPart, app, patchLen, newLen, 0)
//	var commitErr *inplace.CommitError
//	switch {
//	case errors.As(err, &commitErr):
//	    fmt.Printf("commit at %d failed\n", commitErr.Committed)
//	case errdefs.IsDataLoss(err):
//	    fmt.Println("length mismatch")
//	case inplace.IsIOError(err):
//	    fmt.Println("flash failure")
//	}
//
// Once the first commit has happened the old image is partially replaced.
// A failed update leaves the partition between versions and must be
// recovered by a full image, not by retrying the patch.
//
// # Thread Safety
//
// An Updater serializes calls to Apply. Progress callbacks run on the
// goroutine that called Apply.
package inplace
