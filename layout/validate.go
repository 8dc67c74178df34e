package layout

import (
	"fmt"
	"sort"

	"github.com/containerd/errdefs"
)

// Validate checks that names are unique, partitions fit their devices on
// block boundaries without overlapping, and the update section refers to
// known partitions. Errors are classed as errdefs.ErrInvalidArgument.
func (l *Layout) Validate() error {
	if len(l.Devices) == 0 {
		return invalid("no devices")
	}

	devices := make(map[string]*Device, len(l.Devices))
	for i := range l.Devices {
		d := &l.Devices[i]
		if err := validateDevice(d); err != nil {
			return err
		}
		if _, dup := devices[d.Name]; dup {
			return invalid("device %q defined twice", d.Name)
		}
		devices[d.Name] = d
	}

	parts := make(map[string]*Partition, len(l.Partitions))
	for i := range l.Partitions {
		p := &l.Partitions[i]
		if p.Name == "" {
			return invalid("partition #%d: missing name", i)
		}
		if _, dup := parts[p.Name]; dup {
			return invalid("partition %q defined twice", p.Name)
		}
		d, ok := devices[p.Device]
		if !ok {
			return invalid("partition %q: unknown device %q", p.Name, p.Device)
		}
		if err := validatePartition(p, d); err != nil {
			return err
		}
		parts[p.Name] = p
	}
	if err := checkOverlaps(l.Partitions); err != nil {
		return err
	}

	return l.Update.validate(parts, devices)
}

func validateDevice(d *Device) error {
	switch {
	case d.Name == "":
		return invalid("device: missing name")
	case d.BlockSize <= 0:
		return invalid("device %q: missing block size", d.Name)
	case d.Size <= 0:
		return invalid("device %q: missing size", d.Name)
	case d.Size%d.BlockSize != 0:
		return invalid("device %q: size %d is not a multiple of block size %d", d.Name, d.Size, d.BlockSize)
	}
	return nil
}

func validatePartition(p *Partition, d *Device) error {
	switch {
	case p.Size <= 0:
		return invalid("partition %q: missing size", p.Name)
	case p.Offset < 0:
		return invalid("partition %q: negative offset", p.Name)
	case p.Offset%d.BlockSize != 0 || p.Size%d.BlockSize != 0:
		return invalid("partition %q: offset %d and size %d must be aligned to block size %d",
			p.Name, p.Offset, p.Size, d.BlockSize)
	case p.Offset+p.Size > d.Size:
		return invalid("partition %q: ends at %d, past the end of device %q (%d)",
			p.Name, p.Offset+p.Size, d.Name, d.Size)
	}
	return nil
}

func checkOverlaps(parts []Partition) error {
	sorted := make([]Partition, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Device != sorted[j].Device {
			return sorted[i].Device < sorted[j].Device
		}
		return sorted[i].Offset < sorted[j].Offset
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Device == cur.Device && prev.Offset+prev.Size > cur.Offset {
			return invalid("partitions %q and %q overlap", prev.Name, cur.Name)
		}
	}
	return nil
}

func (u *Update) validate(parts map[string]*Partition, devices map[string]*Device) error {
	switch u.Strategy {
	case "", StrategyRAM:
		if u.RAMBufferSize < 0 {
			return invalid("update: negative ram buffer size")
		}
	case StrategySwap:
		p, ok := parts[u.SwapPartition]
		if !ok {
			return invalid("update: unknown swap partition %q", u.SwapPartition)
		}
		bs := devices[p.Device].BlockSize
		if u.SwapOffset < 0 || u.SwapOffset >= p.Size || u.SwapOffset%bs != 0 {
			return invalid("update: swap offset %d must be a block aligned offset inside %q", u.SwapOffset, p.Name)
		}
	default:
		return invalid("update: unknown strategy %q", u.Strategy)
	}
	if u.CopyBufferSize < 0 {
		return invalid("update: negative copy buffer size")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("invalid layout: %s: %w", fmt.Sprintf(format, args...), errdefs.ErrInvalidArgument)
}
