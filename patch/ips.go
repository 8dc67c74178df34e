package patch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
)

// IPS record stream markers.
const (
	ipsHeader = "PATCH"
	ipsFooter = 0x454f46 // "EOF"

	// IPSMaxOffset is the largest offset an IPS record can address.
	IPSMaxOffset = 1<<24 - 1
)

// ErrUnordered is returned by IPS when a record starts below the end of the
// previous one. Such a patch cannot be applied in a single forward pass.
var ErrUnordered = errors.New("ips records out of order")

// IPS applies an IPS patch on top of the old image.
//
// Bytes not covered by a record are copied from the old image, so records
// must be sorted by offset and must not overlap. Old image bytes at or beyond
// OldSize read as zero.
type IPS struct {
	// OldSize is the number of readable old image bytes.
	OldSize int64

	// NewSize is the output length. When zero, the length is the truncate
	// value of the patch if present, else max(OldSize, end of last record).
	NewSize int64
}

// Record is a single IPS write. If Repeat is non-zero the record is run
// length encoded: Data[0] repeated Repeat times.
type Record struct {
	Offset uint32
	Data   []byte
	Repeat uint16
}

// Len returns the number of output bytes the record covers.
func (r Record) Len() int64 {
	if r.Repeat > 0 {
		return int64(r.Repeat)
	}
	return int64(len(r.Data))
}

func (r Record) String() string {
	if r.Repeat > 0 {
		return fmt.Sprintf("IPS RLE: %x written to %x %d times", r.Data[0], r.Offset, r.Repeat)
	}
	return fmt.Sprintf("IPS data: %d bytes written to %x", len(r.Data), r.Offset)
}

// Apply streams the patch through l, writing the new image front to back.
func (e IPS) Apply(l Listener, patchBlockSize, oldBlockSize int) error {
	a := ipsApplier{
		l:       l,
		r:       bufio.NewReaderSize(NewStreamReader(l), blockSize(patchBlockSize)),
		oldSize: e.OldSize,
		chunk:   make([]byte, blockSize(oldBlockSize)),
	}
	return a.run(e.NewSize)
}

type ipsApplier struct {
	l       Listener
	r       *bufio.Reader
	oldSize int64
	pos     int64
	chunk   []byte
}

func (a *ipsApplier) run(newSize int64) error {
	head := make([]byte, len(ipsHeader))
	if err := a.read(head); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if string(head) != ipsHeader {
		return fmt.Errorf("not an IPS patch: %w", ErrCorrupt)
	}

	for {
		rec, eof, err := a.next()
		if err != nil {
			return err
		}
		if eof {
			break
		}
		if int64(rec.Offset) < a.pos {
			return fmt.Errorf("record at 0x%x after output position 0x%x: %w", rec.Offset, a.pos, ErrUnordered)
		}
		if newSize > 0 && int64(rec.Offset)+rec.Len() > newSize {
			return fmt.Errorf("record at 0x%x runs past new size %d: %w", rec.Offset, newSize, ErrCorrupt)
		}
		if err := a.copyOld(int64(rec.Offset)); err != nil {
			return err
		}
		if err := a.emit(rec); err != nil {
			return err
		}
	}

	end := newSize
	if end == 0 {
		trunc, ok, err := a.truncate()
		if err != nil {
			return err
		}
		switch {
		case ok:
			end = trunc
		case a.oldSize > a.pos:
			end = a.oldSize
		default:
			end = a.pos
		}
	}
	if end < a.pos {
		return fmt.Errorf("patch output %d exceeds new size %d: %w", a.pos, end, ErrCorrupt)
	}
	return a.copyOld(end)
}

// next decodes one record, reporting eof at the footer.
func (a *ipsApplier) next() (Record, bool, error) {
	var hdr [5]byte
	if err := a.read(hdr[:3]); err != nil {
		return Record{}, false, fmt.Errorf("read record offset: %w", err)
	}
	off := uint32(hdr[0])<<16 | uint32(hdr[1])<<8 | uint32(hdr[2])
	if off == ipsFooter {
		return Record{}, true, nil
	}
	if err := a.read(hdr[3:5]); err != nil {
		return Record{}, false, fmt.Errorf("read record size: %w", err)
	}
	size := uint16(hdr[3])<<8 | uint16(hdr[4])
	if size == 0 {
		var rle [3]byte
		if err := a.read(rle[:]); err != nil {
			return Record{}, false, fmt.Errorf("read rle record: %w", err)
		}
		repeat := uint16(rle[0])<<8 | uint16(rle[1])
		if repeat == 0 {
			return Record{}, false, fmt.Errorf("empty rle record at 0x%x: %w", off, ErrCorrupt)
		}
		return Record{Offset: off, Repeat: repeat, Data: []byte{rle[2]}}, false, nil
	}
	data := make([]byte, size)
	if err := a.read(data); err != nil {
		return Record{}, false, fmt.Errorf("read record data: %w", err)
	}
	return Record{Offset: off, Data: data}, false, nil
}

// truncate reads the optional 3-byte length after the footer.
func (a *ipsApplier) truncate() (int64, bool, error) {
	var b [3]byte
	n, err := io.ReadFull(a.r, b[:])
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read truncate length: %w", corrupt(err))
	}
	return int64(b[0])<<16 | int64(b[1])<<8 | int64(b[2]), true, nil
}

// copyOld copies old bytes [pos, end) to the output.
func (a *ipsApplier) copyOld(end int64) error {
	for a.pos < end {
		n := int64(len(a.chunk))
		if rest := end - a.pos; rest < n {
			n = rest
		}
		buf := a.chunk[:n]
		switch {
		case a.pos >= a.oldSize:
			clear(buf)
		case a.pos+n > a.oldSize:
			split := a.oldSize - a.pos
			if err := a.l.ReadOld(a.pos, buf[:split]); err != nil {
				return err
			}
			clear(buf[split:])
		default:
			if err := a.l.ReadOld(a.pos, buf); err != nil {
				return err
			}
		}
		if err := a.l.WriteNew(buf); err != nil {
			return err
		}
		a.pos += n
	}
	return nil
}

func (a *ipsApplier) emit(rec Record) error {
	if rec.Repeat == 0 {
		if err := a.l.WriteNew(rec.Data); err != nil {
			return err
		}
		a.pos += int64(len(rec.Data))
		return nil
	}
	remain := int64(rec.Repeat)
	for remain > 0 {
		n := int64(len(a.chunk))
		if remain < n {
			n = remain
		}
		buf := a.chunk[:n]
		for i := range buf {
			buf[i] = rec.Data[0]
		}
		if err := a.l.WriteNew(buf); err != nil {
			return err
		}
		remain -= n
	}
	a.pos += int64(rec.Repeat)
	return nil
}

func (a *ipsApplier) read(p []byte) error {
	if _, err := io.ReadFull(a.r, p); err != nil {
		return corrupt(err)
	}
	return nil
}

// corrupt maps a premature end of stream to ErrCorrupt and keeps I/O
// failures as they are.
func corrupt(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("truncated stream: %w", ErrCorrupt)
	}
	return err
}

// EncodeIPS writes recs as an IPS patch. A truncate >= 0 is appended after
// the footer.
func EncodeIPS(w io.Writer, recs []Record, truncate int64) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(ipsHeader); err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Offset > IPSMaxOffset || rec.Offset == ipsFooter {
			return fmt.Errorf("record offset 0x%x not encodable", rec.Offset)
		}
		off := []byte{byte(rec.Offset >> 16), byte(rec.Offset >> 8), byte(rec.Offset)}
		if _, err := bw.Write(off); err != nil {
			return err
		}
		switch {
		case rec.Repeat > 0:
			if len(rec.Data) != 1 {
				return fmt.Errorf("rle record at 0x%x needs exactly one data byte", rec.Offset)
			}
			if _, err := bw.Write([]byte{0, 0, byte(rec.Repeat >> 8), byte(rec.Repeat), rec.Data[0]}); err != nil {
				return err
			}
		case len(rec.Data) == 0 || len(rec.Data) > math.MaxUint16:
			return fmt.Errorf("record at 0x%x has invalid size %d", rec.Offset, len(rec.Data))
		default:
			if _, err := bw.Write([]byte{byte(len(rec.Data) >> 8), byte(len(rec.Data))}); err != nil {
				return err
			}
			if _, err := bw.Write(rec.Data); err != nil {
				return err
			}
		}
	}
	if _, err := bw.Write([]byte{'E', 'O', 'F'}); err != nil {
		return err
	}
	if truncate >= 0 {
		if truncate > IPSMaxOffset {
			return fmt.Errorf("truncate length %d not encodable", truncate)
		}
		if _, err := bw.Write([]byte{byte(truncate >> 16), byte(truncate >> 8), byte(truncate)}); err != nil {
			return err
		}
	}
	return bw.Flush()
}
