package rbl

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/containerd/errdefs"
)

// CompressionName returns a short name for the compression of the body.
func (h *Header) CompressionName() string {
	switch h.Compression() {
	case AlgoCompressNone:
		return "none"
	case AlgoCompressGzip:
		return "gzip"
	case AlgoCompressQuickLZ:
		return "quicklz"
	case AlgoCompressFastLZ:
		return "fastlz"
	case AlgoCompressHPatchLite:
		return "hpatchlite"
	}
	return fmt.Sprintf("unknown(0x%04X)", h.Compression())
}

// VerifyBody checks the package body read from r against PackageSize and
// PackageCRC.
func (h *Header) VerifyBody(r io.Reader) error {
	return verify(r, "package body", h.PackageSize, h.PackageCRC)
}

// VerifyImage checks a reconstructed image read from r against RawSize
// and RawCRC.
func (h *Header) VerifyImage(r io.Reader) error {
	return verify(r, "image", h.RawSize, h.RawCRC)
}

func verify(r io.Reader, what string, size, sum uint32) error {
	crc := crc32.NewIEEE()
	n, err := io.Copy(crc, io.LimitReader(r, int64(size)+1))
	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	}
	if n != int64(size) {
		return fmt.Errorf("%s is %d bytes, header says %d: %w", what, n, size, errdefs.ErrDataLoss)
	}
	if got := crc.Sum32(); got != sum {
		return fmt.Errorf("%s crc 0x%08X, header says 0x%08X: %w", what, got, sum, errdefs.ErrDataLoss)
	}
	return nil
}
