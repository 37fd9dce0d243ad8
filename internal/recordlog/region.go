package recordlog

// region is the in-memory view of the record file.
type region interface {
	bytes() []byte
	// flush makes the n bytes at off visible in the file.
	flush(off int64, n int) error
	sync() error
	close() error
}

// staticRegion is a detached snapshot used by read-only logs.
type staticRegion []byte

func (r staticRegion) bytes() []byte          { return r }
func (r staticRegion) flush(int64, int) error { return nil }
func (r staticRegion) sync() error            { return nil }
func (r staticRegion) close() error           { return nil }
