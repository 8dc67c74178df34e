package inplace

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/moffa90/go-qpatch/flash"
)

type flashSwap struct {
	region flash.Region
	offset int64
}

// FlashSwap stages new data in region, using the window from offset to the
// end of the region. The window is erased once when the update starts and
// again after every commit.
func FlashSwap(region flash.Region, offset int64) Strategy {
	return &flashSwap{region: region, offset: offset}
}

func (s *flashSwap) String() string {
	if s.region == nil {
		return "flash-swap(<nil>)"
	}
	return fmt.Sprintf("flash-swap(%s+%d)", s.region.Name(), s.offset)
}

func (s *flashSwap) open(old flash.Region, cfg *Config) (stagingArea, error) {
	if s.region == nil {
		return nil, fmt.Errorf("swap partition: %w", errdefs.ErrNotFound)
	}
	if s.offset < 0 || s.offset >= s.region.Size() {
		return nil, fmt.Errorf("swap offset %d outside %q (%d bytes): %w",
			s.offset, s.region.Name(), s.region.Size(), errdefs.ErrInvalidArgument)
	}
	if bs := s.region.BlockSize(); bs > 0 && s.offset%bs != 0 {
		return nil, fmt.Errorf("swap offset %d is not aligned to %q block size %d: %w",
			s.offset, s.region.Name(), bs, errdefs.ErrInvalidArgument)
	}
	size := s.region.Size() - s.offset
	if err := checkAreaSize(size, old); err != nil {
		return nil, err
	}

	cfg.logInfo("erasing swap area before use", "partition", s.region.Name(), "offset", s.offset, "size", size)
	if err := s.region.Erase(s.offset, size); err != nil {
		return nil, ioError("erase", s.region, s.offset, size, err)
	}

	return &swapArea{
		region:  s.region,
		offset:  s.offset,
		size:    int(size),
		bufSize: cfg.CopyBufferSize,
	}, nil
}

// swapArea stages data in a flash window.
type swapArea struct {
	region  flash.Region
	offset  int64
	size    int
	bufSize int

	// dirty is set when the post-commit erase failed; the window must be
	// erased again before it is written.
	dirty bool
}

func (a *swapArea) capacity() int { return a.size }

func (a *swapArea) put(pos int, p []byte) error {
	if a.dirty {
		if err := a.erase(); err != nil {
			return err
		}
	}
	off := a.offset + int64(pos)
	if err := a.region.Write(off, p); err != nil {
		return ioError("write", a.region, off, int64(len(p)), err)
	}
	return nil
}

func (a *swapArea) transfer(dst flash.Region, off int64, n int) error {
	return copyRegion(a.region, a.offset, dst, off, int64(n), a.bufSize)
}

func (a *swapArea) reset() error {
	return a.erase()
}

func (a *swapArea) erase() error {
	if err := a.region.Erase(a.offset, int64(a.size)); err != nil {
		a.dirty = true
		return ioError("erase", a.region, a.offset, int64(a.size), err)
	}
	a.dirty = false
	return nil
}

func (a *swapArea) close() {}
