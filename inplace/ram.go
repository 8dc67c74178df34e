package inplace

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/moffa90/go-qpatch/flash"
)

type ramBuffer struct {
	size int
}

// RAMBuffer stages new data in a RAM buffer of size bytes. The buffer is
// allocated when an update starts and released when it ends.
func RAMBuffer(size int) Strategy {
	return &ramBuffer{size: size}
}

func (s *ramBuffer) String() string {
	return fmt.Sprintf("ram-buffer(%d)", s.size)
}

func (s *ramBuffer) open(old flash.Region, cfg *Config) (stagingArea, error) {
	if s.size > MaxRAMBufferSize {
		return nil, fmt.Errorf("ram buffer of %d bytes exceeds limit %d: %w",
			s.size, MaxRAMBufferSize, errdefs.ErrResourceExhausted)
	}
	if err := checkAreaSize(int64(s.size), old); err != nil {
		return nil, err
	}

	cfg.logDebug("allocated ram buffer", "size", s.size)
	return &ramArea{buf: make([]byte, s.size)}, nil
}

// ramArea stages data in memory. It is never cleared between commits; only
// the first n staged bytes are ever transferred.
type ramArea struct {
	buf []byte
}

func (a *ramArea) capacity() int { return len(a.buf) }

func (a *ramArea) put(pos int, p []byte) error {
	copy(a.buf[pos:], p)
	return nil
}

func (a *ramArea) transfer(dst flash.Region, off int64, n int) error {
	if err := dst.Write(off, a.buf[:n]); err != nil {
		return ioError("write", dst, off, int64(n), err)
	}
	return nil
}

func (a *ramArea) reset() error { return nil }

func (a *ramArea) close() { a.buf = nil }
