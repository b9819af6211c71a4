// Package stats holds the plain counters a Session accumulates over its
// lifetime: a flat struct of counters merged with atomic adds, with no
// dependency on an external metrics system. A full observability/export
// layer is out of scope, but a bare counter struct is ambient
// bookkeeping any production read path carries regardless.
package stats

import "sync/atomic"

// Stats accumulates counters for one Session. All fields are safe for
// concurrent use.
type Stats struct {
	SlabsPlanned   atomic.Int64
	SlabsConsumed  atomic.Int64
	TilesVisited   atomic.Int64
	CellsCopied    atomic.Int64
	BytesCopied    atomic.Int64
	Overflows      atomic.Int64
	AIOReadsPosted atomic.Int64
}

// New returns a zeroed Stats.
func New() *Stats { return &Stats{} }

// Snapshot is a point-in-time copy of Stats suitable for logging or
// display, since atomic.Int64 itself is not copyable.
type Snapshot struct {
	SlabsPlanned   int64
	SlabsConsumed  int64
	TilesVisited   int64
	CellsCopied    int64
	BytesCopied    int64
	Overflows      int64
	AIOReadsPosted int64
}

// Snapshot reads every counter's current value.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		SlabsPlanned:   s.SlabsPlanned.Load(),
		SlabsConsumed:  s.SlabsConsumed.Load(),
		TilesVisited:   s.TilesVisited.Load(),
		CellsCopied:    s.CellsCopied.Load(),
		BytesCopied:    s.BytesCopied.Load(),
		Overflows:      s.Overflows.Load(),
		AIOReadsPosted: s.AIOReadsPosted.Load(),
	}
}
