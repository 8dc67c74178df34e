package inplace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/moffa90/go-qpatch/flash"
	"github.com/moffa90/go-qpatch/patch"
)

// Updater rebuilds a new firmware image over the old one in place, driving
// a patch engine and staging its output in bounded chunks.
//
// Updater is safe for concurrent use; updates are serialized.
type Updater struct {
	mu     sync.Mutex
	engine patch.Engine
	config Config
}

// Result summarizes a finished or failed update.
type Result struct {
	// Committed is the number of new image bytes written over the old image
	Committed int64

	// Expected is the new image length the update was started with
	Expected int64

	// Commits is the number of staging area commits
	Commits int

	// PatchRead is the number of patch bytes handed to the engine
	PatchRead int64

	// MaxOldReadOffset is the highest old image read offset, or -1
	MaxOldReadOffset int64

	// TailEraseStart and TailEraseSize describe the erased tail of the
	// old partition; both are zero when nothing was erased
	TailEraseStart int64
	TailEraseSize  int64

	// TailEraseErr is set when the tail erase failed. The update itself
	// still succeeded.
	TailEraseErr error

	// Elapsed is the duration of the update
	Elapsed time.Duration
}

// New creates a new Updater with the given engine and options.
//
// Example:
//
//	u := inplace.New(patch.Raw{},
//	    inplace.WithStrategy(inplace.RAMBuffer(8192)),
//	    inplace.WithLogger(logger),
//	)
func New(engine patch.Engine, opts ...Option) *Updater {
	if engine == nil {
		panic("engine cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Updater{
		engine: engine,
		config: cfg,
	}
}

// Apply performs a complete in-place update:
//  1. Open the staging area (a swap window is erased here)
//  2. Run the engine, committing the staging area whenever it fills up
//  3. Commit the residual staged bytes
//  4. Erase the old partition beyond the new image
//  5. Verify that exactly newLen bytes were committed
//
// The patch is read from patchPart starting at patchOffset, patchLen bytes
// long. The old image is read from and replaced in oldPart.
//
// Once the first commit has happened the old image is partially replaced
// and a failed update cannot be retried from it.
func (u *Updater) Apply(ctx context.Context, patchPart, oldPart flash.Region, patchLen, newLen, patchOffset int64) (*Result, error) {
	if patchPart == nil || oldPart == nil {
		return nil, fmt.Errorf("partitions cannot be nil: %w", errdefs.ErrInvalidArgument)
	}
	if patchLen < 0 || newLen < 0 || patchOffset < 0 {
		return nil, fmt.Errorf("negative length or offset: %w", errdefs.ErrInvalidArgument)
	}
	if patchLen > patchPart.Size()-patchOffset {
		return nil, fmt.Errorf("patch of %d bytes at offset %d exceeds %q (%d bytes): %w",
			patchLen, patchOffset, patchPart.Name(), patchPart.Size(), errdefs.ErrInvalidArgument)
	}
	if newLen > oldPart.Size() {
		return nil, fmt.Errorf("new image of %d bytes does not fit %q (%d bytes): %w",
			newLen, oldPart.Name(), oldPart.Size(), errdefs.ErrInvalidArgument)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	cfg := &u.config
	cfg.logInfo("starting in-place update",
		"strategy", cfg.Strategy.String(),
		"patch", patchPart.Name(),
		"target", oldPart.Name(),
		"patch_len", patchLen,
		"new_len", newLen,
	)

	area, err := cfg.Strategy.open(oldPart, cfg)
	if err != nil {
		cfg.logError("failed to open staging area", "error", err)
		return nil, fmt.Errorf("open staging area: %w", err)
	}
	defer area.close()

	in := newInstance(ctx, cfg, area, patchPart, oldPart, patchLen, newLen, patchOffset)
	res := &Result{Expected: newLen}
	finish := func(err error) (*Result, error) {
		in.fill(res)
		return res, err
	}

	if err := u.engine.Apply(in, cfg.PatchBlockSize, cfg.OldBlockSize); err != nil {
		cfg.logError("update failed", "committed", in.committed, "error", err)
		if in.commits > 0 {
			cfg.logError("old image partially replaced, update cannot be retried from it", "committed", in.committed)
		}
		return finish(&EngineError{Err: err})
	}

	if err := in.commit(); err != nil {
		return finish(fmt.Errorf("final commit: %w", err))
	}
	area.close()

	in.eraseTail(res)

	if in.committed != newLen {
		err := &LengthMismatchError{Committed: in.committed, Expected: newLen}
		cfg.logError("update failed", "error", err)
		return finish(err)
	}

	cfg.logInfo("update successful",
		"size", in.committed,
		"commits", in.commits,
		"elapsed", time.Since(in.start),
	)
	return finish(nil)
}

// Apply runs a single update with a new Updater.
func Apply(ctx context.Context, engine patch.Engine, patchPart, oldPart flash.Region, patchLen, newLen, patchOffset int64, opts ...Option) (*Result, error) {
	return New(engine, opts...).Apply(ctx, patchPart, oldPart, patchLen, newLen, patchOffset)
}

// TailEraseStart returns the first offset of the tail erase for a new image
// of newLen bytes on flash with the given block size.
func TailEraseStart(newLen, blockSize int64) int64 {
	return flash.AlignUp(newLen, blockSize)
}

func (c *Config) reportProgress(progress Progress) {
	if c.ProgressCallback != nil {
		c.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (c *Config) logDebug(msg string, keysAndValues ...interface{}) {
	if c.Logger != nil {
		c.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (c *Config) logInfo(msg string, keysAndValues ...interface{}) {
	if c.Logger != nil {
		c.Logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is configured.
func (c *Config) logWarn(msg string, keysAndValues ...interface{}) {
	if c.Logger != nil {
		c.Logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (c *Config) logError(msg string, keysAndValues ...interface{}) {
	if c.Logger != nil {
		c.Logger.Error(msg, keysAndValues...)
	}
}
