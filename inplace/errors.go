package inplace

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// IOError indicates that a partition read, write or erase failed.
type IOError struct {
	Op        string
	Partition string
	Offset    int64
	Size      int64
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %q at offset %d size %d: %v", e.Op, e.Partition, e.Offset, e.Size, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CommitError indicates that staged data could not be written over the old
// image. Committed is unchanged by the failed commit.
type CommitError struct {
	Committed int64
	Staged    int
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of %d bytes at offset %d failed: %v", e.Staged, e.Committed, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// LengthMismatchError indicates that the update finished with a committed
// length different from the expected new image length.
type LengthMismatchError struct {
	Committed int64
	Expected  int64
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("length mismatch: committed %d bytes, expected %d", e.Committed, e.Expected)
}

func (e *LengthMismatchError) Unwrap() error { return errdefs.ErrDataLoss }

// ReadOrderError indicates an old image read below the committed length.
// The bytes there have already been replaced with new data.
type ReadOrderError struct {
	Offset    int64
	Committed int64
}

func (e *ReadOrderError) Error() string {
	return fmt.Sprintf("old image read at offset %d is below committed length %d", e.Offset, e.Committed)
}

func (e *ReadOrderError) Unwrap() error { return errdefs.ErrFailedPrecondition }

// EngineError indicates that the reconstruction engine reported a failure.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("patch engine failed: %v", e.Err)
}

func (e *EngineError) Unwrap() error {
	if e.Err == nil {
		return errdefs.ErrUnknown
	}
	return e.Err
}

// IsIOError returns true if err was caused by a partition I/O failure.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

func ioError(op string, part interface{ Name() string }, off, size int64, err error) error {
	return &IOError{Op: op, Partition: part.Name(), Offset: off, Size: size, Err: err}
}
