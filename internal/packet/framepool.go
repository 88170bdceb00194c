package packet

import "sync"

// Frames are fixed-size and short-lived: every send and receive needs one
// FrameSize buffer. Pooling them keeps the per-packet allocation off the
// session hot loop.
var framePool = sync.Pool{
	New: func() interface{} {
		return make([]byte, FrameSize)
	},
}

// GetFrame returns a FrameSize buffer from the pool. The contents are
// whatever the previous user left; Marshal zeroes the whole frame and
// readers overwrite it with io.ReadFull.
func GetFrame() []byte {
	return framePool.Get().([]byte)
}

// PutFrame returns a frame buffer to the pool. Buffers of any other size
// are dropped rather than poisoning the pool.
func PutFrame(buf []byte) {
	if len(buf) != FrameSize {
		return
	}
	//nolint:staticcheck // SA6002: slice descriptor copy is acceptable for sync.Pool
	framePool.Put(buf)
}
