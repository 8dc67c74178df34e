package flash

import (
	"errors"
	"fmt"
	"sort"

	"github.com/containerd/errdefs"
)

// Partition is a named window on a Device. Offset and size are block
// aligned, so block rounded erases never reach a neighbouring partition.
type Partition struct {
	name   string
	dev    *Device
	offset int64
	size   int64
}

// NewPartition creates a partition of size bytes at offset on dev.
func NewPartition(name string, dev *Device, offset, size int64) (*Partition, error) {
	if dev == nil {
		return nil, fmt.Errorf("partition %q: nil device: %w", name, errdefs.ErrInvalidArgument)
	}
	if err := checkRange(name, "layout", offset, size, dev.Size()); err != nil {
		return nil, err
	}
	if size == 0 || offset%dev.BlockSize() != 0 || size%dev.BlockSize() != 0 {
		return nil, fmt.Errorf("partition %q: offset %d and size %d must be non-empty multiples of block size %d: %w",
			name, offset, size, dev.BlockSize(), errdefs.ErrInvalidArgument)
	}
	return &Partition{name: name, dev: dev, offset: offset, size: size}, nil
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// Size returns the partition length in bytes.
func (p *Partition) Size() int64 { return p.size }

// BlockSize returns the erase block size of the containing device.
func (p *Partition) BlockSize() int64 { return p.dev.BlockSize() }

// Device returns the containing device.
func (p *Partition) Device() *Device { return p.dev }

// Offset returns the partition start on its device.
func (p *Partition) Offset() int64 { return p.offset }

func (p *Partition) Read(off int64, buf []byte) error {
	if err := checkRange(p.name, "read", off, int64(len(buf)), p.size); err != nil {
		return err
	}
	return p.dev.Read(p.offset+off, buf)
}

func (p *Partition) Write(off int64, buf []byte) error {
	if err := checkRange(p.name, "write", off, int64(len(buf)), p.size); err != nil {
		return err
	}
	return p.dev.Write(p.offset+off, buf)
}

func (p *Partition) Erase(off, size int64) error {
	if err := checkRange(p.name, "erase", off, size, p.size); err != nil {
		return err
	}
	return p.dev.Erase(p.offset+off, size)
}

func (p *Partition) String() string {
	return fmt.Sprintf("%s@%s[0x%x+0x%x]", p.name, p.dev.Name(), p.offset, p.size)
}

// Table is a set of devices and the partitions laid out on them.
type Table struct {
	devices map[string]*Device
	parts   map[string]*Partition
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		devices: make(map[string]*Device),
		parts:   make(map[string]*Partition),
	}
}

// AddDevice registers dev under its name.
func (t *Table) AddDevice(dev *Device) error {
	if _, ok := t.devices[dev.Name()]; ok {
		return fmt.Errorf("device %q: %w", dev.Name(), errdefs.ErrAlreadyExists)
	}
	t.devices[dev.Name()] = dev
	return nil
}

// AddPartition lays out a new partition on a registered device. Partitions
// on the same device must not overlap.
func (t *Table) AddPartition(name, device string, offset, size int64) (*Partition, error) {
	if _, ok := t.parts[name]; ok {
		return nil, fmt.Errorf("partition %q: %w", name, errdefs.ErrAlreadyExists)
	}
	dev, err := t.Device(device)
	if err != nil {
		return nil, fmt.Errorf("partition %q: %w", name, err)
	}
	part, err := NewPartition(name, dev, offset, size)
	if err != nil {
		return nil, err
	}
	for _, other := range t.parts {
		if other.dev == dev && offset < other.offset+other.size && other.offset < offset+size {
			return nil, fmt.Errorf("partition %q overlaps %q: %w", name, other.name, errdefs.ErrConflict)
		}
	}
	t.parts[name] = part
	return part, nil
}

// Find returns the partition called name.
func (t *Table) Find(name string) (*Partition, error) {
	part, ok := t.parts[name]
	if !ok {
		return nil, fmt.Errorf("partition %q: %w", name, errdefs.ErrNotFound)
	}
	return part, nil
}

// Device returns the device called name.
func (t *Table) Device(name string) (*Device, error) {
	dev, ok := t.devices[name]
	if !ok {
		return nil, fmt.Errorf("flash device %q: %w", name, errdefs.ErrNotFound)
	}
	return dev, nil
}

// Partitions returns all partitions ordered by device and offset.
func (t *Table) Partitions() []*Partition {
	out := make([]*Partition, 0, len(t.parts))
	for _, p := range t.parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dev.Name() != out[j].dev.Name() {
			return out[i].dev.Name() < out[j].dev.Name()
		}
		return out[i].offset < out[j].offset
	})
	return out
}

// Close closes every device in the table.
func (t *Table) Close() error {
	var errs []error
	for _, dev := range t.devices {
		if err := dev.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
