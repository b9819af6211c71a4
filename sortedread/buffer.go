// Package sortedread implements the Pipeline Controller and public
// Session API: it drives the Tile-Slab Planner, the Double-Buffered
// Reader, and the Reorder/Copy Engine to answer a sequence of Read
// calls over a subarray. A dedicated copy worker goroutine is the sole
// runner of the Reorder/Copy Engine for the general pipeline; Read
// hands it a request and blocks for the result rather than copying
// bytes on the caller's own goroutine. A separate prefetch worker
// goroutine keeps the Double-Buffered Reader one slab ahead of the copy
// worker. Go's goroutine and condition-variable idioms replace the
// hand-rolled state machine a single-threaded implementation would need
// to poll.
//
// A single mutex (Session.mu) guards the planner's cursor, the two
// ping-pong slot descriptors, and the copy request/result handoff
// between Read and the copy worker; collapsing several logically
// distinct synchronization points (reader-ready, controller-advance,
// worker-done) onto one mutex is a deliberate simplification recorded
// in DESIGN.md.
package sortedread

import "github.com/tiledb-go/tiledb/internal/base"

// Buffer is one attribute's output destination for a Read call: Data
// alone for a fixed attribute, or (Offsets, Data) for a variable one.
// Read fills Data/Offsets starting at index 0 each call and
// reports how much it wrote in Written/OffsetsWritten; a caller that
// wants to keep accumulating across calls must track that itself and
// reslice Data/Offsets on the next call.
type Buffer struct {
	AttrID  int
	Data    []byte
	Offsets []byte

	// Written is set by Read to the number of bytes of Data actually
	// produced.
	Written int
	// OffsetsWritten is set by Read to the number of bytes of Offsets
	// actually produced; always 0 for a fixed attribute.
	OffsetsWritten int
}

// Kind re-exports base.Kind so callers of this package do not need to
// import internal/base just to name a coordinate type at NewSession.
type Kind = base.Kind

const (
	Int32   = base.Int32
	Int64   = base.Int64
	Float32 = base.Float32
	Float64 = base.Float64
)
