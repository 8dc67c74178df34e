// Package patch defines the contract between a patch reconstruction engine
// and the storage it reads from and writes to.
//
// An Engine never touches flash directly. It pulls patch bytes, reads the
// old image and emits the new image through a Listener, which lets the caller
// decide where the bytes come from and how the output is staged.
//
// Engines used for in-place updates must produce output strictly in order
// and must never read an old image offset below the number of bytes written
// so far: those bytes may already have been overwritten by new data. Raw and
// IPS both follow this rule.
package patch

import (
	"errors"
	"io"
)

// DefaultBlockSize is the block size hint used when none is given.
const DefaultBlockSize = 4096

// ErrCorrupt is returned when a patch stream cannot be decoded.
var ErrCorrupt = errors.New("corrupt patch")

// Listener supplies the I/O callbacks an Engine drives.
type Listener interface {
	// ReadPatch reads up to len(p) bytes of the patch stream. It returns
	// (0, nil) once the stream is exhausted.
	ReadPatch(p []byte) (int, error)

	// ReadOld reads exactly len(p) bytes of the old image at off.
	ReadOld(off int64, p []byte) error

	// WriteNew appends p to the new image.
	WriteNew(p []byte) error
}

// Engine reconstructs a new image from a patch and an old image.
// A nil return means reconstruction succeeded.
type Engine interface {
	Apply(l Listener, patchBlockSize, oldBlockSize int) error
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(l Listener, patchBlockSize, oldBlockSize int) error

// Apply calls f.
func (f EngineFunc) Apply(l Listener, patchBlockSize, oldBlockSize int) error {
	return f(l, patchBlockSize, oldBlockSize)
}

// streamReader turns the ReadPatch callback into an io.Reader.
type streamReader struct {
	l Listener
}

func (r streamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.l.ReadPatch(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// NewStreamReader returns an io.Reader over the patch stream of l.
func NewStreamReader(l Listener) io.Reader {
	return streamReader{l: l}
}

func blockSize(hint int) int {
	if hint <= 0 {
		return DefaultBlockSize
	}
	return hint
}
