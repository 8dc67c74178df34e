package layout

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse parses and validates a layout file from the given path.
//
// Example:
//
//	l, err := layout.Parse("board.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	table, err := l.Open(filepath.Dir("board.yaml"))
func Parse(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader parses and validates a layout from any io.Reader. Unknown
// keys are rejected.
func ParseReader(r io.Reader) (*Layout, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var l Layout
	if err := dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty layout")
		}
		return nil, fmt.Errorf("cannot parse layout: %w", err)
	}

	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Marshal encodes the layout as YAML.
func (l *Layout) Marshal(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return err
	}
	return enc.Close()
}
