package reader

import (
	"sync"

	"github.com/tiledb-go/tiledb/array"
	terrors "github.com/tiledb-go/tiledb/errors"
	"github.com/tiledb-go/tiledb/internal/base"
	"github.com/tiledb-go/tiledb/internal/planner"
)

// Slot holds one posted-or-in-flight native-order read: the slab it was
// planned for, the aligned buffers backing it (in the same flattened,
// attribute-id order MemStore.readNative fills), and the AIO completion
// state the copy worker waits on.
type Slot struct {
	Slab     *planner.Slab
	bufs     []*Buf
	ReadBufs []*array.ReadBuffer
	ready    bool
	err      error
}

// Reader is the Double-Buffered Reader: it plans buffer sizes for a
// slab, posts an AIORead into one of two ping-pong slots, and blocks a
// waiter until that slot's AIO completes. Toggling between the two
// slots is the caller's responsibility (sortedread's pipeline
// controller does it with `other := 1 - slot`).
type Reader[T base.Coord] struct {
	store array.Store[T]
	pool  *BufferPool

	// varValueBudgetPerCell bounds how many bytes per cell are
	// preallocated for a variable attribute's values stream, since
	// (unlike a fixed attribute) the exact size cannot be known until
	// after the read completes. If a Store ever needs more than this,
	// AIORead is expected to report an IoError rather than overrun the
	// buffer; MemStore's generators are sized to fit within the
	// default (see sortedread's WithVarValueBudgetPerCell option).
	varValueBudgetPerCell int64

	mu     *sync.Mutex
	cond   *sync.Cond
	slots  [2]*Slot
	closed bool
}

// New builds a Reader sharing mu with the rest of the session's wake
// primitives.
func New[T base.Coord](store array.Store[T], pool *BufferPool, mu *sync.Mutex, varValueBudgetPerCell int64) *Reader[T] {
	return &Reader[T]{
		store:                 store,
		pool:                  pool,
		varValueBudgetPerCell: varValueBudgetPerCell,
		mu:                    mu,
		cond:                  sync.NewCond(mu),
	}
}

// bufferSizes returns the byte size of every flattened native-order
// buffer for slab, one entry per fixed attribute and two per variable
// attribute (offsets then values), matching array.MemStore's layout.
func (r *Reader[T]) bufferSizes(slab *planner.Slab) []int {
	attrs := r.store.Schema().Attrs
	sizes := make([]int, 0, len(attrs)+len(attrs))
	for a, attr := range attrs {
		if attr.Variable {
			sizes = append(sizes, int(slab.TotalCells)*attr.OffsetSize)
			sizes = append(sizes, int(slab.TotalCells*r.varValueBudgetPerCell))
		} else {
			sizes = append(sizes, int(slab.TotalCells)*attr.CellSize)
		}
		_ = a
	}
	return sizes
}

// Post allocates buffers for slab and posts an asynchronous native-order
// read into slotIdx (0 or 1). It does not block.
func (r *Reader[T]) Post(slotIdx int, slab *planner.Slab) {
	sizes := r.bufferSizes(slab)
	bufs := make([]*Buf, len(sizes))
	readBufs := make([]*array.ReadBuffer, len(sizes))
	for i, sz := range sizes {
		b := r.pool.Alloc(sz)
		bufs[i] = b
		readBufs[i] = &array.ReadBuffer{Bytes: b.Bytes()}
	}

	slot := &Slot{Slab: slab, bufs: bufs, ReadBufs: readBufs}
	r.mu.Lock()
	r.slots[slotIdx] = slot
	r.mu.Unlock()

	d := len(slab.Lo)
	box := make([]int64, 2*d)
	for i := 0; i < d; i++ {
		box[2*i], box[2*i+1] = slab.Lo[i], slab.Hi[i]
	}

	r.store.AIORead(array.ReadRequest{Buffers: readBufs, Box: box}, func(c array.Completion) {
		r.mu.Lock()
		slot.ready = true
		slot.err = c.Err
		r.cond.Broadcast()
		r.mu.Unlock()
	})
}

// WaitReady blocks the calling goroutine until slotIdx's posted read
// completes, then returns its slot. The caller must not hold r's mutex.
// If the reader is closed while waiting, it returns a Shutdown error
// instead of blocking forever on a slab that will never be posted.
func (r *Reader[T]) WaitReady(slotIdx int) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.closed && (r.slots[slotIdx] == nil || !r.slots[slotIdx].ready) {
		r.cond.Wait()
	}
	if r.closed && (r.slots[slotIdx] == nil || !r.slots[slotIdx].ready) {
		return nil, terrors.New(terrors.Shutdown, "session closed while waiting for slot %d", slotIdx)
	}
	s := r.slots[slotIdx]
	return s, s.err
}

// Release waits for a read still in flight on slotIdx to complete, then
// returns the slot's buffers to the pool and clears the slot so it can
// be reused by a later Post. The caller must not hold r's mutex.
func (r *Reader[T]) Release(slotIdx int) {
	r.mu.Lock()
	s := r.slots[slotIdx]
	for s != nil && !s.ready {
		r.cond.Wait()
	}
	r.slots[slotIdx] = nil
	r.mu.Unlock()
	if s == nil {
		return
	}
	for _, b := range s.bufs {
		b.Release()
	}
}

// Close marks the reader shut down and wakes every blocked WaitReady
// call so it returns a Shutdown error instead of blocking forever.
func (r *Reader[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
}
