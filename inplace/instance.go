package inplace

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-qpatch/flash"
)

// instance is the state of one update. It implements patch.Listener and is
// only ever driven by a single engine run.
type instance struct {
	ctx   context.Context
	cfg   *Config
	start time.Time

	patchPart   flash.Region
	patchOffset int64
	patchLen    int64
	patchPos    int64

	old        flash.Region
	newLen     int64
	written    int64
	committed  int64
	maxOldRead int64

	area stagingArea
	pos  int

	percent int
	commits int
}

func newInstance(ctx context.Context, cfg *Config, area stagingArea, patchPart, old flash.Region, patchLen, newLen, patchOffset int64) *instance {
	return &instance{
		ctx:         ctx,
		cfg:         cfg,
		start:       time.Now(),
		patchPart:   patchPart,
		patchOffset: patchOffset,
		patchLen:    patchLen,
		old:         old,
		newLen:      newLen,
		maxOldRead:  -1,
		area:        area,
		percent:     -1,
	}
}

func (in *instance) cancelled() error {
	if err := in.ctx.Err(); err != nil {
		return fmt.Errorf("cancelled: %w", err)
	}
	return nil
}

// ReadPatch reads the next patch bytes. It returns 0 once patchLen bytes
// have been delivered.
func (in *instance) ReadPatch(p []byte) (int, error) {
	if err := in.cancelled(); err != nil {
		return 0, err
	}

	n := int64(len(p))
	if rest := in.patchLen - in.patchPos; n > rest {
		n = rest
	}
	if n <= 0 {
		return 0, nil
	}

	off := in.patchOffset + in.patchPos
	if err := in.patchPart.Read(off, p[:n]); err != nil {
		in.cfg.logError("failed to read patch data", "partition", in.patchPart.Name(), "offset", off, "error", err)
		return 0, ioError("read", in.patchPart, off, n, err)
	}
	in.patchPos += n
	return int(n), nil
}

// ReadOld reads len(p) bytes of the old image at off.
func (in *instance) ReadOld(off int64, p []byte) error {
	if err := in.cancelled(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	if in.cfg.ReadOrderCheck && off < in.committed {
		return &ReadOrderError{Offset: off, Committed: in.committed}
	}
	if off > in.maxOldRead {
		in.maxOldRead = off
	}

	if err := in.old.Read(off, p); err != nil {
		in.cfg.logError("failed to read old image", "partition", in.old.Name(), "offset", off, "error", err)
		return ioError("read", in.old, off, int64(len(p)), err)
	}
	return nil
}

// WriteNew stages the next bytes of the new image. Whenever the staging
// area fills up it is committed over the old image.
func (in *instance) WriteNew(p []byte) error {
	if err := in.cancelled(); err != nil {
		return err
	}

	capacity := in.area.capacity()
	for len(p) > 0 {
		if in.pos == capacity {
			if err := in.commit(); err != nil {
				return err
			}
		}

		chunk := p
		if free := capacity - in.pos; len(chunk) > free {
			chunk = chunk[:free]
		}
		if err := in.area.put(in.pos, chunk); err != nil {
			in.cfg.logError("failed to stage new data", "position", in.pos, "error", err)
			return err
		}
		in.pos += len(chunk)
		in.written += int64(len(chunk))
		p = p[len(chunk):]
	}
	in.reportProgress()
	return nil
}

// commit erases [committed, committed+pos) of the old image, transfers the
// staged bytes there and resets the staging area. On failure committed is
// left unchanged.
func (in *instance) commit() error {
	if in.pos == 0 {
		return nil
	}

	n := in.pos
	off := in.committed
	in.cfg.logDebug("committing staged data", "offset", off, "size", n)

	if err := in.old.Erase(off, int64(n)); err != nil {
		in.cfg.logError("failed to erase old image", "offset", off, "size", n, "error", err)
		return &CommitError{Committed: off, Staged: n, Err: ioError("erase", in.old, off, int64(n), err)}
	}
	if err := in.area.transfer(in.old, off, n); err != nil {
		in.cfg.logError("failed to transfer staged data", "offset", off, "size", n, "error", err)
		return &CommitError{Committed: off, Staged: n, Err: err}
	}

	// The data is already in place; a failed reset is retried on the next put.
	if err := in.area.reset(); err != nil {
		in.cfg.logWarn("failed to reset staging area", "error", err)
	}

	in.committed += int64(n)
	in.pos = 0
	in.commits++
	return nil
}

func (in *instance) reportProgress() {
	percent := 100
	if in.newLen > 0 {
		percent = int(in.written * 100 / in.newLen)
	}
	if percent == in.percent || percent%5 != 0 {
		return
	}
	in.percent = percent

	in.cfg.reportProgress(Progress{
		Percent:     percent,
		Written:     in.written,
		Total:       in.newLen,
		Committed:   in.committed,
		ElapsedTime: time.Since(in.start),
	})
}

// eraseTail erases the old partition beyond the block aligned end of the
// new image. Failures are recorded in res and do not fail the update.
func (in *instance) eraseTail(res *Result) {
	size := in.old.Size()
	if in.newLen >= size {
		return
	}
	bs := in.old.BlockSize()
	if bs <= 0 {
		in.cfg.logWarn("flash block size unknown, skipping tail erase", "partition", in.old.Name())
		return
	}

	start := TailEraseStart(in.newLen, bs)
	if start >= size {
		return
	}
	res.TailEraseStart = start
	res.TailEraseSize = size - start

	in.cfg.logInfo("erasing remaining space", "partition", in.old.Name(), "offset", start, "size", size-start)
	if err := in.old.Erase(start, size-start); err != nil {
		res.TailEraseErr = ioError("erase", in.old, start, size-start, err)
		in.cfg.logWarn("failed to erase remaining space", "error", res.TailEraseErr)
	}
}

func (in *instance) fill(res *Result) {
	res.Committed = in.committed
	res.Commits = in.commits
	res.PatchRead = in.patchPos
	res.MaxOldReadOffset = in.maxOldRead
	res.Elapsed = time.Since(in.start)
}
