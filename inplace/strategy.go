package inplace

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/moffa90/go-qpatch/flash"
)

// Strategy selects where reconstructed bytes are staged before they are
// committed over the old image. Use FlashSwap or RAMBuffer.
type Strategy interface {
	String() string

	// open prepares a staging area for one update of old.
	open(old flash.Region, cfg *Config) (stagingArea, error)
}

// stagingArea is the bounded buffer between the engine and the old image.
// The shared commit protocol in instance drives it.
type stagingArea interface {
	// capacity is the number of bytes the area holds when full.
	capacity() int

	// put stores p at position pos; pos+len(p) <= capacity().
	put(pos int, p []byte) error

	// transfer copies the first n staged bytes to the erased range at off
	// of dst.
	transfer(dst flash.Region, off int64, n int) error

	// reset prepares the area for the next round after a commit.
	reset() error

	// close releases the area. It is safe to call more than once.
	close()
}

// checkAreaSize rejects staging sizes that would make block rounded erases
// of the old image reach past the range being committed.
func checkAreaSize(size int64, old flash.Region) error {
	if size <= 0 {
		return fmt.Errorf("staging area size %d: %w", size, errdefs.ErrInvalidArgument)
	}
	if bs := old.BlockSize(); bs > 0 && size%bs != 0 {
		return fmt.Errorf("staging area of %d bytes is not a multiple of %q block size %d: %w",
			size, old.Name(), bs, errdefs.ErrInvalidArgument)
	}
	return nil
}
