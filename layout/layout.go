package layout

import (
	"fmt"
	"strconv"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Update strategies accepted in the update section.
const (
	StrategySwap = "swap"
	StrategyRAM  = "ram"
)

// Layout describes the flash devices of a target, how they are split into
// partitions and how updates are staged.
type Layout struct {
	// Devices are the flash arrays of the target
	Devices []Device `yaml:"devices"`

	// Partitions are named, block aligned windows on the devices
	Partitions []Partition `yaml:"partitions"`

	// Update holds the default update settings
	Update Update `yaml:"update,omitempty"`
}

// Device describes one flash array.
type Device struct {
	Name      string `yaml:"name"`
	Size      Size   `yaml:"size"`
	BlockSize Size   `yaml:"block-size"`

	// File is the image backing the device. Relative paths are resolved
	// against the layout file directory. Without a file the device lives
	// in memory.
	File string `yaml:"file,omitempty"`
}

// Partition describes a named range of a device.
type Partition struct {
	Name   string `yaml:"name"`
	Device string `yaml:"device"`
	Offset Size   `yaml:"offset"`
	Size   Size   `yaml:"size"`
}

// Update holds the staging settings used by the apply command.
type Update struct {
	// Strategy is StrategySwap or StrategyRAM; empty means StrategyRAM
	Strategy string `yaml:"strategy,omitempty"`

	// SwapPartition and SwapOffset select the swap window
	SwapPartition string `yaml:"swap-partition,omitempty"`
	SwapOffset    Size   `yaml:"swap-offset,omitempty"`

	RAMBufferSize  Size `yaml:"ram-buffer-size,omitempty"`
	CopyBufferSize Size `yaml:"copy-buffer-size,omitempty"`

	// ReadOrderCheck rejects engine reads of already replaced old data
	ReadOrderCheck bool `yaml:"read-order-check,omitempty"`
}

// Size is a byte count. In YAML it is either an integer or a human
// readable size such as "4KiB" or "96k" (binary multiples).
type Size int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	if n, err := strconv.ParseInt(node.Value, 0, 64); err == nil {
		*s = Size(n)
		return nil
	}
	n, err := units.RAMInBytes(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", node.Line, node.Value, err)
	}
	*s = Size(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler. Sizes that are whole KiB multiples
// are written in human readable form.
func (s Size) MarshalYAML() (interface{}, error) {
	if s > 0 && s%1024 == 0 {
		if str := s.String(); parseSize(str) == int64(s) {
			return str, nil
		}
	}
	return int64(s), nil
}

// String returns the size in binary units, e.g. "96KiB".
func (s Size) String() string {
	return units.BytesSize(float64(s))
}

func parseSize(s string) int64 {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return -1
	}
	return n
}
