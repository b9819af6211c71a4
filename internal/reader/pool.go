// Package reader implements the Double-Buffered Reader: two ping-pong
// slots, each backed by aligned native-order buffers pulled from a
// BufferPool, posted to the array.Store as AIO reads and waited on via
// a condition variable shared with the rest of the pipeline
// (sortedread.Session uses one mutex for the reader, the controller, and
// the copy worker's wake primitives — see that package's doc comment).
//
// BufferPool is a small LIFO free list of same-or-larger buffers,
// falling back to a fresh allocation and dropping the buffer (for the
// GC to reclaim) instead of evicting when the pool is full, which is
// simpler than a random-eviction policy and adequate here since the
// pool only ever holds the two ping-pong slots' worth of buffers.
package reader

import (
	"sync"

	"github.com/tiledb-go/tiledb/internal/base"
)

// Buf is a manually-released, 512-byte-aligned buffer suitable for
// O_DIRECT-style native-order reads.
type Buf struct {
	pool *BufferPool
	full []byte
	b    []byte
}

// Bytes returns the buffer's active byte slice, sized to the Alloc call
// that produced it.
func (b *Buf) Bytes() []byte { return b.b }

// Release returns the buffer to its pool for reuse.
func (b *Buf) Release() {
	b.b = b.full
	p := b.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pool) >= p.maxSize {
		return
	}
	p.pool = append(p.pool, b)
}

// BufferPool holds a small set of reusable aligned buffers, sized to
// hold at most maxSize of them at once.
type BufferPool struct {
	mu      sync.Mutex
	maxSize int
	pool    []*Buf
}

// NewBufferPool builds a pool that retains at most maxSize released
// buffers before letting the garbage collector reclaim the rest.
func NewBufferPool(maxSize int) *BufferPool {
	return &BufferPool{maxSize: maxSize}
}

// Alloc returns a buffer of exactly n bytes, reusing a pooled buffer at
// least as large when one is available.
func (p *BufferPool) Alloc(n int) *Buf {
	p.mu.Lock()
	for i := len(p.pool) - 1; i >= 0; i-- {
		if len(p.pool[i].full) >= n {
			b := p.pool[i]
			p.pool = append(p.pool[:i], p.pool[i+1:]...)
			p.mu.Unlock()
			b.b = b.full[:n]
			return b
		}
	}
	p.mu.Unlock()
	full := base.AlignedAlloc(n)
	return &Buf{pool: p, full: full, b: full[:n]}
}
