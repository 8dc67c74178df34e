package patch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"
)

// memListener serves the callbacks from memory and enforces the in-place
// read rule: no old read may start below the bytes already written.
type memListener struct {
	patch    []byte
	old      []byte
	out      bytes.Buffer
	pos      int
	readErr  error
	writeErr error
	oldReads int
}

func (m *memListener) ReadPatch(p []byte) (int, error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	n := copy(p, m.patch[m.pos:])
	m.pos += n
	return n, nil
}

func (m *memListener) ReadOld(off int64, p []byte) error {
	m.oldReads++
	if off < int64(m.out.Len()) {
		return fmt.Errorf("old read at %d below output position %d", off, m.out.Len())
	}
	if off+int64(len(p)) > int64(len(m.old)) {
		return io.ErrUnexpectedEOF
	}
	copy(p, m.old[off:])
	return nil
}

func (m *memListener) WriteNew(p []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.out.Write(p)
	return nil
}

func TestRawCopiesStream(t *testing.T) {
	data := bytes.Repeat([]byte{0x55}, 10000)
	l := &memListener{patch: data}

	assert.NilError(t, Raw{}.Apply(l, 4096, 4096))
	assert.Check(t, bytes.Equal(l.out.Bytes(), data))
	assert.Check(t, is.Equal(l.oldReads, 0))
}

func TestRawPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")

	l := &memListener{patch: []byte("abc"), readErr: boom}
	assert.Check(t, is.ErrorIs(Raw{}.Apply(l, 0, 0), boom))

	l = &memListener{patch: []byte("abc"), writeErr: boom}
	assert.Check(t, is.ErrorIs(Raw{}.Apply(l, 0, 0), boom))
}

func encode(t *testing.T, recs []Record, truncate int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	assert.NilError(t, EncodeIPS(&buf, recs, truncate))
	return buf.Bytes()
}

func TestIPSApply(t *testing.T) {
	old := []byte("0123456789abcdef")

	tests := []struct {
		name    string
		recs    []Record
		trunc   int64
		engine  IPS
		want    string
		wantErr error
	}{
		{
			name:   "no records copies old image",
			trunc:  -1,
			engine: IPS{OldSize: 16},
			want:   "0123456789abcdef",
		},
		{
			name: "data and rle records",
			recs: []Record{
				{Offset: 2, Data: []byte("XY")},
				{Offset: 10, Repeat: 3, Data: []byte{'z'}},
			},
			trunc:  -1,
			engine: IPS{OldSize: 16},
			want:   "01XY456789zzzdef",
		},
		{
			name:   "record past old image zero fills the gap",
			recs:   []Record{{Offset: 18, Data: []byte("!")}},
			trunc:  -1,
			engine: IPS{OldSize: 16},
			want:   "0123456789abcdef\x00\x00!",
		},
		{
			name:   "truncate shortens the image",
			recs:   []Record{{Offset: 0, Data: []byte("A")}},
			trunc:  4,
			engine: IPS{OldSize: 16},
			want:   "A123",
		},
		{
			name:   "explicit new size wins",
			recs:   []Record{{Offset: 0, Data: []byte("A")}},
			trunc:  4,
			engine: IPS{OldSize: 16, NewSize: 6},
			want:   "A12345",
		},
		{
			name: "overlapping records rejected",
			recs: []Record{
				{Offset: 4, Data: []byte("AAAA")},
				{Offset: 6, Data: []byte("B")},
			},
			trunc:   -1,
			engine:  IPS{OldSize: 16},
			wantErr: ErrUnordered,
		},
		{
			name:    "record beyond new size rejected",
			recs:    []Record{{Offset: 8, Data: []byte("AAAA")}},
			trunc:   -1,
			engine:  IPS{OldSize: 16, NewSize: 10},
			wantErr: ErrCorrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &memListener{patch: encode(t, tt.recs, tt.trunc), old: old}
			err := tt.engine.Apply(l, 7, 5)
			if tt.wantErr != nil {
				assert.Check(t, is.ErrorIs(err, tt.wantErr))
				return
			}
			assert.NilError(t, err)
			assert.Check(t, is.Equal(l.out.String(), tt.want))
		})
	}
}

// An empty old image and a patch without records produce an empty image.
func TestIPSEmptyImage(t *testing.T) {
	for _, blk := range []int{1, 64} {
		l := &memListener{patch: encode(t, nil, -1)}
		assert.NilError(t, IPS{}.Apply(l, blk, blk))
		assert.Check(t, is.Equal(cmp.Diff([]byte{}, l.out.Bytes(), cmpopts.EquateEmpty()), ""))
		assert.Check(t, is.Equal(l.out.Len(), 0))
		assert.Check(t, is.Equal(l.oldReads, 0))
	}
}

func TestIPSCorruptStreams(t *testing.T) {
	valid := encode(t, []Record{{Offset: 1, Data: []byte("abc")}}, -1)

	tests := []struct {
		name  string
		patch []byte
	}{
		{name: "empty", patch: nil},
		{name: "bad magic", patch: []byte("PATCX")},
		{name: "cut in record", patch: valid[:len(valid)-5]},
		{name: "no footer", patch: valid[:len(valid)-3]},
		{name: "empty rle", patch: append([]byte("PATCH\x00\x00\x01\x00\x00\x00\x00\x41"), "EOF"...)},
		{name: "partial truncate", patch: append(append([]byte{}, valid...), 0x00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &memListener{patch: tt.patch, old: make([]byte, 16)}
			err := IPS{OldSize: 16}.Apply(l, 0, 0)
			assert.Check(t, is.ErrorIs(err, ErrCorrupt))
		})
	}
}

func TestEncodeIPSRejects(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{name: "offset too large", rec: Record{Offset: IPSMaxOffset + 1, Data: []byte{1}}},
		{name: "offset equals footer", rec: Record{Offset: ipsFooter, Data: []byte{1}}},
		{name: "empty data", rec: Record{Offset: 1}},
		{name: "rle with two bytes", rec: Record{Offset: 1, Repeat: 2, Data: []byte{1, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Check(t, EncodeIPS(io.Discard, []Record{tt.rec}, -1) != nil)
		})
	}
}

func TestIPSNeverReadsBehindOutput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		oldSize := rapid.IntRange(0, 300).Draw(t, "oldSize")
		old := make([]byte, oldSize)
		for i := range old {
			old[i] = byte(i)
		}

		var recs []Record
		want := append([]byte{}, old...)
		pos := 0
		for n := rapid.IntRange(0, 6).Draw(t, "records"); n > 0; n-- {
			off := pos + rapid.IntRange(0, 40).Draw(t, "gap")
			size := rapid.IntRange(1, 30).Draw(t, "size")
			val := byte(rapid.IntRange(0, 255).Draw(t, "value"))
			rec := Record{Offset: uint32(off), Data: bytes.Repeat([]byte{val}, size)}
			if rapid.Bool().Draw(t, "rle") {
				rec = Record{Offset: uint32(off), Repeat: uint16(size), Data: []byte{val}}
			}
			recs = append(recs, rec)

			for len(want) < off+size {
				want = append(want, 0)
			}
			for i := off; i < off+size; i++ {
				want[i] = val
			}
			pos = off + size
		}

		var buf bytes.Buffer
		if err := EncodeIPS(&buf, recs, -1); err != nil {
			t.Fatalf("encode: %v", err)
		}
		l := &memListener{patch: buf.Bytes(), old: old}
		blk := rapid.IntRange(1, 64).Draw(t, "block")
		if err := (IPS{OldSize: int64(oldSize)}).Apply(l, blk, blk); err != nil {
			t.Fatalf("apply: %v", err)
		}
		if diff := cmp.Diff(want, l.out.Bytes(), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("output mismatch (-want +got):\n%s", diff)
		}
	})
}
