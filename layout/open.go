package layout

import (
	"fmt"
	"path/filepath"

	"github.com/moffa90/go-qpatch/flash"
	"github.com/moffa90/go-qpatch/inplace"
)

// Open creates the devices and partitions of the layout. File backed device
// paths that are relative are resolved against baseDir. The caller must
// Close the returned table.
func (l *Layout) Open(baseDir string) (*flash.Table, error) {
	t := flash.NewTable()

	for _, d := range l.Devices {
		dev, err := openDevice(d, baseDir)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		if err := t.AddDevice(dev); err != nil {
			_ = dev.Close()
			_ = t.Close()
			return nil, err
		}
	}

	for _, p := range l.Partitions {
		if _, err := t.AddPartition(p.Name, p.Device, int64(p.Offset), int64(p.Size)); err != nil {
			_ = t.Close()
			return nil, err
		}
	}
	return t, nil
}

func openDevice(d Device, baseDir string) (*flash.Device, error) {
	if d.File == "" {
		return flash.NewMemDevice(d.Name, int64(d.Size), int64(d.BlockSize))
	}
	path := d.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	dev, err := flash.OpenFileDevice(d.Name, path, int64(d.Size), int64(d.BlockSize))
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", d.Name, err)
	}
	return dev, nil
}

// Options returns the updater options the update section describes.
// The swap partition is resolved in t.
func (u *Update) Options(t *flash.Table) ([]inplace.Option, error) {
	var opts []inplace.Option

	switch u.Strategy {
	case StrategySwap:
		swap, err := t.Find(u.SwapPartition)
		if err != nil {
			return nil, fmt.Errorf("swap partition: %w", err)
		}
		opts = append(opts, inplace.WithStrategy(inplace.FlashSwap(swap, int64(u.SwapOffset))))
	default:
		size := inplace.DefaultRAMBufferSize
		if u.RAMBufferSize > 0 {
			size = int(u.RAMBufferSize)
		}
		opts = append(opts, inplace.WithStrategy(inplace.RAMBuffer(size)))
	}

	if u.CopyBufferSize > 0 {
		opts = append(opts, inplace.WithCopyBufferSize(int(u.CopyBufferSize)))
	}
	if u.ReadOrderCheck {
		opts = append(opts, inplace.WithReadOrderCheck(true))
	}
	return opts, nil
}
