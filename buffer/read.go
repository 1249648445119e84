// Package buffer provides a pool of fixed-size scratch buffers sized to
// the encrypted transport's maximum frame, so decoding a steady stream of
// frames off the wire doesn't allocate a fresh slice per frame. Grounded
// on buffer/read.go's brontide-ciphertext scratch buffer, generalized
// from lnwire.MaxMessagePayload to wire.MaxFrameLength.
package buffer

import (
	"sync"

	"github.com/meshcredit/creditnode/wire"
)

// ReadSize is the largest frame transport's AEAD framing ever needs to
// hold in one read (spec.md §6's MAX_FRAME_LENGTH).
const ReadSize = wire.MaxFrameLength

// Read is a fixed-size scratch buffer for one incoming frame.
type Read [ReadSize]byte

// Recycle zeroes the buffer, so a pooled Read reused for the next frame
// never leaks a previous peer's ciphertext through uncleared tail bytes.
func (b *Read) Recycle() {
	for i := range b {
		b[i] = 0
	}
}

var pool = sync.Pool{New: func() interface{} { return new(Read) }}

// Get returns a Read from the shared pool.
func Get() *Read {
	return pool.Get().(*Read)
}

// Put recycles buf and returns it to the shared pool.
func Put(buf *Read) {
	buf.Recycle()
	pool.Put(buf)
}
