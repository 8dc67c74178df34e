package inplace

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/moffa90/go-qpatch/flash"
	"gotest.tools/v3/assert"
)

const (
	kib       = 1024
	testBlock = 4 * kib
)

var errInjected = errors.New("injected flash failure")

// faultyRegion wraps a region and fails selected operations. Calls are
// counted from 1.
type faultyRegion struct {
	flash.Region

	failWrites map[int]bool
	failErases map[int]bool
	blockSize  int64

	writes int
	erases int
}

func (f *faultyRegion) BlockSize() int64 {
	if f.blockSize != 0 {
		return f.blockSize
	}
	return f.Region.BlockSize()
}

func (f *faultyRegion) Write(off int64, p []byte) error {
	f.writes++
	if f.failWrites[f.writes] {
		return errInjected
	}
	return f.Region.Write(off, p)
}

func (f *faultyRegion) Erase(off, size int64) error {
	f.erases++
	if f.failErases[f.erases] {
		return errInjected
	}
	return f.Region.Erase(off, size)
}

type logEntry struct {
	level string
	msg   string
}

// recordingLogger keeps every message it receives.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) Debug(msg string, _ ...interface{}) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...interface{})  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...interface{})  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...interface{}) { l.add("error", msg) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// rig is a simulated device with the partitions an update needs:
// app (the old image), download (the patch) and swap.
type rig struct {
	table    *flash.Table
	app      *flash.Partition
	download *flash.Partition
	swap     *flash.Partition
}

func newRig(t testing.TB, appSize, downloadSize, swapSize int64) *rig {
	t.Helper()

	dev, err := flash.NewMemDevice("onchip", appSize+downloadSize+swapSize, testBlock)
	assert.NilError(t, err)

	tbl := flash.NewTable()
	assert.NilError(t, tbl.AddDevice(dev))

	r := &rig{table: tbl}
	r.app, err = tbl.AddPartition("app", "onchip", 0, appSize)
	assert.NilError(t, err)
	r.download, err = tbl.AddPartition("download", "onchip", appSize, downloadSize)
	assert.NilError(t, err)
	r.swap, err = tbl.AddPartition("swap", "onchip", appSize+downloadSize, swapSize)
	assert.NilError(t, err)
	return r
}

// program erases the range and writes data at off of part.
func program(t testing.TB, part flash.Region, off int64, data []byte) {
	t.Helper()
	assert.NilError(t, part.Erase(off, int64(len(data))))
	assert.NilError(t, part.Write(off, data))
}

func readAll(t testing.TB, part flash.Region, off, size int64) []byte {
	t.Helper()
	buf := make([]byte, size)
	assert.NilError(t, part.Read(off, buf))
	return buf
}

// checkFilled reports the first byte in data that is not b.
func checkFilled(data []byte, b byte) error {
	for i, c := range data {
		if c != b {
			return fmt.Errorf("byte %d is 0x%02x, want 0x%02x", i, c, b)
		}
	}
	return nil
}
