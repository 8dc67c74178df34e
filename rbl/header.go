package rbl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"
)

// Header is the fixed size descriptor in front of an update package body.
type Header struct {
	// Algo holds the encryption (AlgoCrypt*) and compression
	// (AlgoCompress*) algorithms of the body
	Algo uint16

	// Algo2 holds the verification algorithm (Algo2Verify*)
	Algo2 uint16

	// Timestamp is the package build time in Unix seconds
	Timestamp uint32

	// PartName is the partition the package targets
	PartName string

	// FirmwareVersion is the version string of the new image
	FirmwareVersion string

	// ProductCode identifies the product the package is built for
	ProductCode string

	// PackageCRC is the CRC32 of the package body
	PackageCRC uint32

	// RawCRC is the CRC32 of the reconstructed image
	RawCRC uint32

	// RawSize is the length of the reconstructed image
	RawSize uint32

	// PackageSize is the length of the package body
	PackageSize uint32

	// HeaderCRC is the CRC32 of the preceding header bytes
	HeaderCRC uint32
}

// Metadata describes a package being built.
type Metadata struct {
	Algo            uint16
	Algo2           uint16
	Time            time.Time
	PartName        string
	FirmwareVersion string
	ProductCode     string
}

// Build returns the header for a package whose body is body and whose
// reconstructed image is image.
func Build(body, image []byte, meta Metadata) *Header {
	return &Header{
		Algo:            meta.Algo,
		Algo2:           meta.Algo2,
		Timestamp:       uint32(meta.Time.Unix()),
		PartName:        meta.PartName,
		FirmwareVersion: meta.FirmwareVersion,
		ProductCode:     meta.ProductCode,
		PackageCRC:      crc32.ChecksumIEEE(body),
		RawCRC:          crc32.ChecksumIEEE(image),
		RawSize:         uint32(len(image)),
		PackageSize:     uint32(len(body)),
	}
}

// Compression returns the AlgoCompress* value of the header.
func (h *Header) Compression() uint16 { return h.Algo & AlgoCompressMask }

// Crypt returns the AlgoCrypt* value of the header.
func (h *Header) Crypt() uint16 { return h.Algo & AlgoCryptMask }

// BodyOffset is the offset of the body within the package.
func (h *Header) BodyOffset() int64 { return HeaderSize }

// MarshalBinary encodes the header and fills in HeaderCRC.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	copy(buf[typeOffset:], Magic)
	binary.LittleEndian.PutUint16(buf[algoOffset:], h.Algo)
	binary.LittleEndian.PutUint16(buf[algo2Offset:], h.Algo2)
	binary.LittleEndian.PutUint32(buf[timestampOffset:], h.Timestamp)

	fields := []struct {
		name  string
		value string
		off   int
		size  int
	}{
		{"part_name", h.PartName, partNameOffset, PartNameSize},
		{"fw_ver", h.FirmwareVersion, fwVersionOffset, FwVersionSize},
		{"prod_code", h.ProductCode, prodCodeOffset, ProductCodeSize},
	}
	for _, f := range fields {
		if len(f.value) > f.size {
			return nil, &FieldError{
				Field:  f.name,
				Reason: fmt.Sprintf("%d bytes exceeds %d", len(f.value), f.size),
			}
		}
		copy(buf[f.off:f.off+f.size], f.value)
	}

	binary.LittleEndian.PutUint32(buf[packageCRCOffset:], h.PackageCRC)
	binary.LittleEndian.PutUint32(buf[rawCRCOffset:], h.RawCRC)
	binary.LittleEndian.PutUint32(buf[rawSizeOffset:], h.RawSize)
	binary.LittleEndian.PutUint32(buf[packageSizeOffset:], h.PackageSize)

	h.HeaderCRC = crc32.ChecksumIEEE(buf[:headerCRCOffset])
	binary.LittleEndian.PutUint32(buf[headerCRCOffset:], h.HeaderCRC)
	return buf, nil
}

// Unmarshal decodes a header and checks its CRC. Only the header is
// verified, never the body.
func Unmarshal(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: got %d bytes, need %d", len(data), HeaderSize)
	}
	data = data[:HeaderSize]
	if string(data[typeOffset:typeOffset+len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}

	h := &Header{
		Algo:            binary.LittleEndian.Uint16(data[algoOffset:]),
		Algo2:           binary.LittleEndian.Uint16(data[algo2Offset:]),
		Timestamp:       binary.LittleEndian.Uint32(data[timestampOffset:]),
		PartName:        cString(data[partNameOffset : partNameOffset+PartNameSize]),
		FirmwareVersion: cString(data[fwVersionOffset : fwVersionOffset+FwVersionSize]),
		ProductCode:     cString(data[prodCodeOffset : prodCodeOffset+ProductCodeSize]),
		PackageCRC:      binary.LittleEndian.Uint32(data[packageCRCOffset:]),
		RawCRC:          binary.LittleEndian.Uint32(data[rawCRCOffset:]),
		RawSize:         binary.LittleEndian.Uint32(data[rawSizeOffset:]),
		PackageSize:     binary.LittleEndian.Uint32(data[packageSizeOffset:]),
		HeaderCRC:       binary.LittleEndian.Uint32(data[headerCRCOffset:]),
	}

	if sum := crc32.ChecksumIEEE(data[:headerCRCOffset]); sum != h.HeaderCRC {
		return nil, &ChecksumMismatchError{Expected: h.HeaderCRC, Actual: sum}
	}
	return h, nil
}

// Parse reads the header of the package file at path.
//
// Example:
//
//	hdr, err := rbl.Parse("app_patch.rbl")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("new image: %d bytes\n", hdr.RawSize)
func Parse(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader reads a header from r.
func ParseReader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return Unmarshal(buf)
}

// WritePackage writes h followed by body to w.
func WritePackage(w io.Writer, h *Header, body []byte) error {
	hdr, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
