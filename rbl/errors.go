package rbl

import (
	"errors"
	"fmt"
)

// ErrBadMagic is returned when a header does not start with Magic.
var ErrBadMagic = errors.New("not an RBL package")

// ChecksumMismatchError indicates that the stored header CRC does not match
// the header contents.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("header checksum mismatch: stored 0x%08X, computed 0x%08X",
		e.Expected, e.Actual)
}

// FieldError indicates a header field that cannot be encoded.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("header field %s: %s", e.Field, e.Reason)
}
