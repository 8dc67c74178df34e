package patch

// Raw is the trivial engine: the patch stream is the new image, byte for
// byte. It never reads the old image.
type Raw struct{}

// Apply copies the patch stream to the new image in patchBlockSize chunks.
func (Raw) Apply(l Listener, patchBlockSize, _ int) error {
	buf := make([]byte, blockSize(patchBlockSize))
	for {
		n, err := l.ReadPatch(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := l.WriteNew(buf[:n]); err != nil {
			return err
		}
	}
}
