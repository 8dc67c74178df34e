package inplace

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/moffa90/go-qpatch/flash"
	"github.com/moffa90/go-qpatch/patch"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

const (
	appSize = 96 * kib
	oldLen  = 64 * kib
	newLen  = 80 * kib
)

// newScenario returns a rig whose app partition holds 64 KiB of 0xAA and
// whose download partition holds an 80 KiB raw image of 0x55.
func newScenario(t testing.TB) *rig {
	t.Helper()
	r := newRig(t, appSize, appSize, 8*kib)
	program(t, r.app, 0, bytes.Repeat([]byte{0xAA}, oldLen))
	program(t, r.download, 0, bytes.Repeat([]byte{0x55}, newLen))
	return r
}

var strategies = []struct {
	name     string
	strategy func(r *rig) Strategy
}{
	{"ram", func(*rig) Strategy { return RAMBuffer(testBlock) }},
	{"swap", func(r *rig) Strategy { return FlashSwap(r.swap, 4*kib) }},
}

func TestApplyRawImage(t *testing.T) {
	for _, tt := range strategies {
		t.Run(tt.name, func(t *testing.T) {
			r := newScenario(t)

			var percents []int
			u := New(patch.Raw{},
				WithStrategy(tt.strategy(r)),
				WithProgressCallback(func(p Progress) {
					percents = append(percents, p.Percent)
				}),
			)

			res, err := u.Apply(context.Background(), r.download, r.app, newLen, newLen, 0)
			assert.NilError(t, err)

			assert.Check(t, is.Equal(res.Committed, int64(newLen)))
			assert.Check(t, is.Equal(res.Commits, 20))
			assert.Check(t, is.Equal(res.PatchRead, int64(newLen)))
			assert.Check(t, is.Equal(res.MaxOldReadOffset, int64(-1)))
			assert.Check(t, is.Equal(res.TailEraseStart, int64(newLen)))
			assert.Check(t, is.Equal(res.TailEraseSize, int64(appSize-newLen)))
			assert.Check(t, res.TailEraseErr)

			assert.Check(t, checkFilled(readAll(t, r.app, 0, newLen), 0x55))
			assert.Check(t, checkFilled(readAll(t, r.app, newLen, appSize-newLen), flash.ErasedByte))

			assert.Check(t, is.Len(percents, 20))
			for i, p := range percents {
				assert.Check(t, is.Equal(p, (i+1)*5))
			}
		})
	}
}

// One large write reports progress once, after all of it is staged.
func TestApplyProgressPerWrite(t *testing.T) {
	for _, tt := range strategies {
		t.Run(tt.name, func(t *testing.T) {
			r := newScenario(t)
			image := bytes.Repeat([]byte{0x5A}, newLen)
			engine := patch.EngineFunc(func(l patch.Listener, _, _ int) error {
				if err := l.WriteNew(image[:testBlock/2]); err != nil {
					return err
				}
				return l.WriteNew(image[testBlock/2:])
			})

			var percents []int
			res, err := Apply(context.Background(), engine, r.download, r.app, 0, newLen, 0,
				WithStrategy(tt.strategy(r)),
				WithProgressCallback(func(p Progress) { percents = append(percents, p.Percent) }),
			)
			assert.NilError(t, err)
			assert.Check(t, is.Equal(res.Committed, int64(newLen)))
			assert.Check(t, is.DeepEqual(percents, []int{100}))
			assert.Check(t, checkFilled(readAll(t, r.app, 0, newLen), 0x5A))
		})
	}
}

func TestApplyUnalignedLength(t *testing.T) {
	const size = newLen + 100

	for _, tt := range strategies {
		t.Run(tt.name, func(t *testing.T) {
			r := newScenario(t)
			program(t, r.download, newLen, bytes.Repeat([]byte{0x55}, testBlock))

			res, err := Apply(context.Background(), patch.Raw{}, r.download, r.app, size, size, 0,
				WithStrategy(tt.strategy(r)))
			assert.NilError(t, err)

			assert.Check(t, is.Equal(res.Committed, int64(size)))
			assert.Check(t, is.Equal(res.Commits, 21))
			assert.Check(t, is.Equal(res.TailEraseStart, int64(newLen+testBlock)))
			assert.Check(t, checkFilled(readAll(t, r.app, 0, size), 0x55))
			assert.Check(t, checkFilled(readAll(t, r.app, size, appSize-size), flash.ErasedByte))
		})
	}
}

func TestApplyEmptyImage(t *testing.T) {
	r := newScenario(t)

	res, err := New(patch.Raw{}).Apply(context.Background(), r.download, r.app, 0, 0, 0)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res.Committed, int64(0)))
	assert.Check(t, is.Equal(res.Commits, 0))
	assert.Check(t, is.Equal(res.TailEraseSize, int64(appSize)))
	assert.Check(t, checkFilled(readAll(t, r.app, 0, appSize), flash.ErasedByte))
}

func TestApplyPatchOffset(t *testing.T) {
	r := newRig(t, appSize, appSize, 8*kib)
	image := make([]byte, 10*kib)
	for i := range image {
		image[i] = byte(i % 251)
	}
	program(t, r.download, 96, image)

	res, err := Apply(context.Background(), patch.Raw{}, r.download, r.app, int64(len(image)), int64(len(image)), 96)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res.Committed, int64(len(image))))
	assert.Check(t, is.DeepEqual(readAll(t, r.app, 0, int64(len(image))), image))
}

func TestApplyIPS(t *testing.T) {
	const newSize = 72 * kib

	old := make([]byte, oldLen)
	for i := range old {
		old[i] = byte(i % 251)
	}
	recs := []patch.Record{
		{Offset: 1000, Data: bytes.Repeat([]byte{0x11}, 300)},
		{Offset: 20000, Repeat: 5000, Data: []byte{0x22}},
		{Offset: 70000, Data: bytes.Repeat([]byte{0x33}, 100)},
	}

	want := make([]byte, newSize)
	copy(want, old)
	for _, rec := range recs {
		for i := int64(0); i < rec.Len(); i++ {
			want[int64(rec.Offset)+i] = rec.Data[0]
		}
	}

	var buf bytes.Buffer
	assert.NilError(t, patch.EncodeIPS(&buf, recs, -1))

	for _, tt := range strategies {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, appSize, appSize, 8*kib)
			program(t, r.app, 0, old)
			program(t, r.download, 96, buf.Bytes())

			u := New(patch.IPS{OldSize: oldLen, NewSize: newSize},
				WithStrategy(tt.strategy(r)),
				WithReadOrderCheck(true),
				WithBlockSizeHints(512, 1024),
			)
			res, err := u.Apply(context.Background(), r.download, r.app, int64(buf.Len()), newSize, 96)
			assert.NilError(t, err)
			assert.Check(t, is.Equal(res.Committed, int64(newSize)))
			assert.Check(t, res.MaxOldReadOffset >= 0)
			assert.Check(t, bytes.Equal(readAll(t, r.app, 0, newSize), want), "new image differs")
		})
	}
}

func TestApplySwapWriteFailure(t *testing.T) {
	r := newScenario(t)
	swap := &faultyRegion{Region: r.swap, failWrites: map[int]bool{10: true}}
	logger := &recordingLogger{}

	res, err := New(patch.Raw{},
		WithStrategy(FlashSwap(swap, 4*kib)),
		WithLogger(logger),
	).Apply(context.Background(), r.download, r.app, newLen, newLen, 0)

	var engineErr *EngineError
	assert.Assert(t, errors.As(err, &engineErr), "got %v", err)
	assert.Check(t, IsIOError(err))
	assert.Check(t, errors.Is(err, errInjected))

	assert.Check(t, is.Equal(res.Committed, int64(9*testBlock)))
	assert.Check(t, is.Equal(res.TailEraseSize, int64(0)))
	assert.Check(t, checkFilled(readAll(t, r.app, 0, 9*testBlock), 0x55))
	assert.Check(t, checkFilled(readAll(t, r.app, 9*testBlock, oldLen-9*testBlock), 0xAA))
	assert.Check(t, logger.count("error") > 0)
}

func TestApplyCommitEraseFailure(t *testing.T) {
	r := newScenario(t)
	app := &faultyRegion{Region: r.app, failErases: map[int]bool{3: true}}

	res, err := Apply(context.Background(), patch.Raw{}, r.download, app, newLen, newLen, 0)

	var commitErr *CommitError
	assert.Assert(t, errors.As(err, &commitErr), "got %v", err)
	assert.Check(t, is.Equal(commitErr.Committed, int64(2*testBlock)))
	assert.Check(t, is.Equal(commitErr.Staged, testBlock))
	assert.Check(t, IsIOError(err))
	assert.Check(t, is.Equal(res.Committed, int64(2*testBlock)))
}

func TestApplySwapResetFailure(t *testing.T) {
	t.Run("recovered", func(t *testing.T) {
		r := newScenario(t)
		// erase 1 prepares the window, erase 2 is the first reset
		swap := &faultyRegion{Region: r.swap, failErases: map[int]bool{2: true}}
		logger := &recordingLogger{}

		res, err := Apply(context.Background(), patch.Raw{}, r.download, r.app, newLen, newLen, 0,
			WithStrategy(FlashSwap(swap, 4*kib)), WithLogger(logger))
		assert.NilError(t, err)
		assert.Check(t, is.Equal(res.Committed, int64(newLen)))
		assert.Check(t, is.Equal(logger.count("warn"), 1))
		assert.Check(t, checkFilled(readAll(t, r.app, 0, newLen), 0x55))
	})

	t.Run("retry fails", func(t *testing.T) {
		r := newScenario(t)
		swap := &faultyRegion{Region: r.swap, failErases: map[int]bool{2: true, 3: true}}

		res, err := Apply(context.Background(), patch.Raw{}, r.download, r.app, newLen, newLen, 0,
			WithStrategy(FlashSwap(swap, 4*kib)))
		assert.Check(t, IsIOError(err), "got %v", err)
		assert.Check(t, is.Equal(res.Committed, int64(testBlock)))
	})
}

func TestApplyTailEraseFailure(t *testing.T) {
	r := newScenario(t)
	// 20 commit erases, then the tail
	app := &faultyRegion{Region: r.app, failErases: map[int]bool{21: true}}
	logger := &recordingLogger{}

	res, err := Apply(context.Background(), patch.Raw{}, r.download, app, newLen, newLen, 0, WithLogger(logger))
	assert.NilError(t, err)
	assert.Check(t, IsIOError(res.TailEraseErr))
	assert.Check(t, is.Equal(res.Committed, int64(newLen)))
	assert.Check(t, logger.count("warn") > 0)
}

func TestApplyUnknownBlockSize(t *testing.T) {
	r := newScenario(t)
	app := &faultyRegion{Region: r.app, blockSize: -1}
	logger := &recordingLogger{}

	res, err := Apply(context.Background(), patch.Raw{}, r.download, app, newLen, newLen, 0,
		WithLogger(logger))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res.TailEraseSize, int64(0)))
	assert.Check(t, is.Equal(logger.count("warn"), 1))
}

func TestApplyLengthMismatch(t *testing.T) {
	r := newScenario(t)

	res, err := Apply(context.Background(), patch.Raw{}, r.download, r.app, newLen/2, newLen, 0)

	var mismatch *LengthMismatchError
	assert.Assert(t, errors.As(err, &mismatch), "got %v", err)
	assert.Check(t, is.Equal(mismatch.Committed, int64(newLen/2)))
	assert.Check(t, is.Equal(mismatch.Expected, int64(newLen)))
	assert.Check(t, errdefs.IsDataLoss(err))
	assert.Check(t, is.Equal(res.Committed, int64(newLen/2)))
}

func TestApplyEngineFailure(t *testing.T) {
	r := newScenario(t)

	engine := patch.EngineFunc(func(patch.Listener, int, int) error {
		return patch.ErrCorrupt
	})
	_, err := Apply(context.Background(), engine, r.download, r.app, newLen, newLen, 0)

	var engineErr *EngineError
	assert.Assert(t, errors.As(err, &engineErr))
	assert.Check(t, errors.Is(err, patch.ErrCorrupt))
	assert.Check(t, checkFilled(readAll(t, r.app, 0, oldLen), 0xAA), "old image touched")
}

func TestApplyRejectsConfiguration(t *testing.T) {
	tests := []struct {
		name     string
		strategy func(r *rig) Strategy
		patchLen int64
		newLen   int64
		offset   int64
		check    func(error) bool
	}{
		{
			name:     "swap not found",
			strategy: func(*rig) Strategy { return FlashSwap(nil, 0) },
			check:    errdefs.IsNotFound,
		},
		{
			name:     "swap offset not aligned",
			strategy: func(r *rig) Strategy { return FlashSwap(r.swap, 100) },
			check:    errdefs.IsInvalidArgument,
		},
		{
			name:     "swap offset past end",
			strategy: func(r *rig) Strategy { return FlashSwap(r.swap, 8*kib) },
			check:    errdefs.IsInvalidArgument,
		},
		{
			name:     "ram buffer not block multiple",
			strategy: func(*rig) Strategy { return RAMBuffer(1000) },
			check:    errdefs.IsInvalidArgument,
		},
		{
			name:     "ram buffer empty",
			strategy: func(*rig) Strategy { return RAMBuffer(0) },
			check:    errdefs.IsInvalidArgument,
		},
		{
			name:     "ram buffer too large",
			strategy: func(*rig) Strategy { return RAMBuffer(MaxRAMBufferSize + testBlock) },
			check:    errdefs.IsResourceExhausted,
		},
		{
			name:   "new image too large",
			newLen: appSize + 1,
			check:  errdefs.IsInvalidArgument,
		},
		{
			name:     "patch past partition",
			patchLen: appSize,
			offset:   1,
			check:    errdefs.IsInvalidArgument,
		},
		{
			name:     "patch length overflows offset",
			patchLen: math.MaxInt64,
			offset:   testBlock,
			check:    errdefs.IsInvalidArgument,
		},
		{
			name:     "negative length",
			patchLen: -1,
			check:    errdefs.IsInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newScenario(t)
			var opts []Option
			if tt.strategy != nil {
				opts = append(opts, WithStrategy(tt.strategy(r)))
			}

			res, err := Apply(context.Background(), patch.Raw{}, r.download, r.app, tt.patchLen, tt.newLen, tt.offset, opts...)
			assert.Check(t, tt.check(err), "got %v", err)
			assert.Check(t, is.Nil(res))
			assert.Check(t, checkFilled(readAll(t, r.app, 0, oldLen), 0xAA), "old image touched")
		})
	}
}

func TestApplyNilPartitions(t *testing.T) {
	r := newScenario(t)
	_, err := Apply(context.Background(), patch.Raw{}, nil, r.app, 0, 0, 0)
	assert.Check(t, errdefs.IsInvalidArgument(err))
}

func TestNewPanicsOnNilEngine(t *testing.T) {
	defer func() {
		assert.Check(t, recover() != nil)
	}()
	New(nil)
}

func TestApplyReadOrderCheck(t *testing.T) {
	engine := patch.EngineFunc(func(l patch.Listener, _, _ int) error {
		block := make([]byte, testBlock)
		for i := 0; i < 2; i++ {
			if err := l.WriteNew(block); err != nil {
				return err
			}
		}
		// the first block has been committed by now
		return l.ReadOld(0, make([]byte, 16))
	})

	t.Run("enabled", func(t *testing.T) {
		r := newScenario(t)
		_, err := Apply(context.Background(), engine, r.download, r.app, 0, 2*testBlock, 0, WithReadOrderCheck(true))

		var orderErr *ReadOrderError
		assert.Assert(t, errors.As(err, &orderErr), "got %v", err)
		assert.Check(t, is.Equal(orderErr.Offset, int64(0)))
		assert.Check(t, is.Equal(orderErr.Committed, int64(testBlock)))
		assert.Check(t, errdefs.IsFailedPrecondition(err))
	})

	t.Run("disabled", func(t *testing.T) {
		r := newScenario(t)
		res, err := Apply(context.Background(), engine, r.download, r.app, 0, 2*testBlock, 0)
		assert.NilError(t, err)
		assert.Check(t, is.Equal(res.MaxOldReadOffset, int64(0)))
	})
}

func TestApplyCancelled(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		r := newScenario(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := Apply(ctx, patch.Raw{}, r.download, r.app, newLen, newLen, 0)
		assert.Check(t, errors.Is(err, context.Canceled), "got %v", err)
		assert.Check(t, is.Equal(res.Committed, int64(0)))
		assert.Check(t, checkFilled(readAll(t, r.app, 0, oldLen), 0xAA))
	})

	t.Run("midway", func(t *testing.T) {
		r := newScenario(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		res, err := Apply(ctx, patch.Raw{}, r.download, r.app, newLen, newLen, 0,
			WithProgressCallback(func(p Progress) {
				if p.Percent >= 50 {
					cancel()
				}
			}))
		assert.Check(t, errors.Is(err, context.Canceled), "got %v", err)
		assert.Check(t, res.Committed < newLen)
		assert.Check(t, res.Committed > 0)
	})
}

func TestUpdaterSerializesApply(t *testing.T) {
	u := New(patch.Raw{}, WithStrategy(RAMBuffer(2*testBlock)))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		r := newScenario(t)
		wg.Add(1)
		go func(i int, r *rig) {
			defer wg.Done()
			_, errs[i] = u.Apply(context.Background(), r.download, r.app, newLen, newLen, 0)
		}(i, r)
	}
	wg.Wait()

	for _, err := range errs {
		assert.Check(t, err)
	}
}

func TestTailEraseStart(t *testing.T) {
	tests := []struct {
		newLen    int64
		blockSize int64
		want      int64
	}{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
		{81920, 4096, 81920},
		{100, 0, 100},
	}

	for _, tt := range tests {
		assert.Check(t, is.Equal(TailEraseStart(tt.newLen, tt.blockSize), tt.want),
			"newLen=%d block=%d", tt.newLen, tt.blockSize)
	}
}

func BenchmarkApply(b *testing.B) {
	for _, tt := range strategies {
		b.Run(tt.name, func(b *testing.B) {
			r := newScenario(b)
			u := New(patch.Raw{}, WithStrategy(tt.strategy(r)))
			b.SetBytes(newLen)
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := u.Apply(context.Background(), r.download, r.app, newLen, newLen, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
