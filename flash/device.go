package flash

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/containerd/errdefs"
)

// store is the raw cell array behind a Device.
type store interface {
	io.ReaderAt
	io.WriterAt
}

// memStore keeps the cells in RAM.
type memStore []byte

func (m memStore) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m memStore) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(m)) {
		return 0, io.ErrShortWrite
	}
	return copy(m[off:], p), nil
}

// Device is a simulated flash array. It is safe for concurrent use.
type Device struct {
	mu        sync.Mutex
	name      string
	size      int64
	blockSize int64
	cells     store
	closer    io.Closer
	erased    []byte
}

// NewMemDevice creates a RAM backed device with every block erased.
func NewMemDevice(name string, size, blockSize int64) (*Device, error) {
	if err := checkGeometry(name, size, blockSize); err != nil {
		return nil, err
	}
	cells := memStore(bytes.Repeat([]byte{ErasedByte}, int(size)))
	return newDevice(name, size, blockSize, cells, nil), nil
}

// OpenFileDevice opens (or creates) a file backed device. A new or empty
// file is extended to size with erased blocks; an existing file must be
// exactly size bytes long.
func OpenFileDevice(name, path string, size, blockSize int64) (*Device, error) {
	if err := checkGeometry(name, size, blockSize); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flash image: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat flash image: %w", err)
	}

	d := newDevice(name, size, blockSize, f, f)
	switch {
	case st.Size() == 0:
		for off := int64(0); off < size; off += blockSize {
			if _, err := f.WriteAt(d.erased, off); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("initialize flash image: %w", err)
			}
		}
	case st.Size() != size:
		_ = f.Close()
		return nil, fmt.Errorf("flash image %s is %d bytes, device %s expects %d: %w",
			path, st.Size(), name, size, errdefs.ErrInvalidArgument)
	}
	return d, nil
}

func newDevice(name string, size, blockSize int64, cells store, closer io.Closer) *Device {
	return &Device{
		name:      name,
		size:      size,
		blockSize: blockSize,
		cells:     cells,
		closer:    closer,
		erased:    bytes.Repeat([]byte{ErasedByte}, int(blockSize)),
	}
}

func checkGeometry(name string, size, blockSize int64) error {
	if blockSize <= 0 || size <= 0 || size%blockSize != 0 {
		return fmt.Errorf("device %q: size %d must be a positive multiple of block size %d: %w",
			name, size, blockSize, errdefs.ErrInvalidArgument)
	}
	return nil
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Size returns the device capacity in bytes.
func (d *Device) Size() int64 { return d.size }

// BlockSize returns the erase block size.
func (d *Device) BlockSize() int64 { return d.blockSize }

// Read fills p from absolute offset off.
func (d *Device) Read(off int64, p []byte) error {
	if err := checkRange(d.name, "read", off, int64(len(p)), d.size); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.cells.ReadAt(p, off); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s read at %d: %w", d.name, off, err)
	}
	return nil
}

// Write programs p at absolute offset off. Every target cell must already
// hold the bits p sets, which in practice means the range was erased.
func (d *Device) Write(off int64, p []byte) error {
	if err := checkRange(d.name, "write", off, int64(len(p)), d.size); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cur := make([]byte, len(p))
	if _, err := d.cells.ReadAt(cur, off); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s read before write at %d: %w", d.name, off, err)
	}
	for i := range p {
		if cur[i]&p[i] != p[i] {
			return fmt.Errorf("%s write at %d: %w", d.name, off+int64(i), ErrWriteRequiresErase)
		}
	}
	if _, err := d.cells.WriteAt(p, off); err != nil {
		return fmt.Errorf("%s write at %d: %w", d.name, off, err)
	}
	return nil
}

// Erase erases every block touched by [off, off+size).
func (d *Device) Erase(off, size int64) error {
	if err := checkRange(d.name, "erase", off, size, d.size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	start := AlignDown(off, d.blockSize)
	end := AlignUp(off+size, d.blockSize)

	d.mu.Lock()
	defer d.mu.Unlock()

	for blk := start; blk < end; blk += d.blockSize {
		if _, err := d.cells.WriteAt(d.erased, blk); err != nil {
			return fmt.Errorf("%s erase block at %d: %w", d.name, blk, err)
		}
	}
	return nil
}

// Close releases the backing file, if any.
func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
