package flash

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// ErasedByte is the value every byte of an erased block reads back as.
const ErasedByte = 0xFF

var (
	// ErrWriteRequiresErase is returned when a write would have to set a bit
	// that is currently cleared.
	ErrWriteRequiresErase = errors.New("flash write requires erase")

	// ErrOutOfRange is returned for accesses outside a region.
	ErrOutOfRange = fmt.Errorf("flash access out of range: %w", errdefs.ErrOutOfRange)
)

// Region is a byte addressable area of flash. Offsets are relative to the
// start of the region.
type Region interface {
	// Name identifies the region in logs and errors.
	Name() string

	// Size is the region length in bytes.
	Size() int64

	// BlockSize is the erase block size of the underlying device.
	// A value <= 0 means the geometry is unknown.
	BlockSize() int64

	// Read fills p from offset off.
	Read(off int64, p []byte) error

	// Write programs p at offset off. The target range must be erased.
	Write(off int64, p []byte) error

	// Erase erases [off, off+size), rounded outward to whole blocks.
	Erase(off, size int64) error
}

// AlignUp rounds n up to the next multiple of block.
// A block <= 0 leaves n unchanged.
func AlignUp(n, block int64) int64 {
	if block <= 0 || n%block == 0 {
		return n
	}
	return (n/block + 1) * block
}

// AlignDown rounds n down to a multiple of block.
func AlignDown(n, block int64) int64 {
	if block <= 0 {
		return n
	}
	return n - n%block
}

func checkRange(name, op string, off, size, limit int64) error {
	if off < 0 || size < 0 || off > limit || size > limit-off {
		return fmt.Errorf("%s %s at %d size %d (limit %d): %w", name, op, off, size, limit, ErrOutOfRange)
	}
	return nil
}
