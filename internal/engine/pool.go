package engine

import "sync"

// Workers borrow one scratch buffer for the lifetime of their loop; the pool
// keeps buffers around across worker restarts and tests.
var scratch = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

func getBuffer() []byte {
	return *(scratch.Get().(*[]byte))
}

func putBuffer(b []byte) {
	// This &b forces a 32-byte heap allocation.  There's no way to avoid this when converting a non-pointer to an interface{}.
	scratch.Put(&b)
}
