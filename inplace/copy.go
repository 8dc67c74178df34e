package inplace

import "github.com/moffa90/go-qpatch/flash"

// copyRegion copies size bytes from src at srcOff to the erased range at
// dstOff of dst, through one RAM buffer of at most bufSize bytes.
func copyRegion(src flash.Region, srcOff int64, dst flash.Region, dstOff int64, size int64, bufSize int) error {
	if size <= 0 {
		return nil
	}
	if bufSize <= 0 {
		bufSize = DefaultCopyBufferSize
	}
	if int64(bufSize) > size {
		bufSize = int(size)
	}
	buf := make([]byte, bufSize)

	for done := int64(0); done < size; {
		chunk := buf
		if rest := size - done; rest < int64(len(chunk)) {
			chunk = chunk[:rest]
		}
		if err := src.Read(srcOff+done, chunk); err != nil {
			return ioError("read", src, srcOff+done, int64(len(chunk)), err)
		}
		if err := dst.Write(dstOff+done, chunk); err != nil {
			return ioError("write", dst, dstOff+done, int64(len(chunk)), err)
		}
		done += int64(len(chunk))
	}
	return nil
}
