package flash

import "io"

type regionReaderAt struct {
	r Region
}

// ReaderAt adapts r to io.ReaderAt. Reads past the end of r return io.EOF.
func ReaderAt(r Region) io.ReaderAt {
	return regionReaderAt{r: r}
}

// NewSectionReader returns a reader over n bytes of r starting at off.
func NewSectionReader(r Region, off, n int64) *io.SectionReader {
	return io.NewSectionReader(ReaderAt(r), off, n)
}

func (a regionReaderAt) ReadAt(p []byte, off int64) (int, error) {
	size := a.r.Size()
	if off >= size {
		return 0, io.EOF
	}
	n := len(p)
	if rest := size - off; int64(n) > rest {
		n = int(rest)
	}
	if err := a.r.Read(off, p[:n]); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
