package array

import "github.com/tiledb-go/tiledb/internal/base"

// ReadBuffer is one native-order destination buffer: for a fixed
// attribute, Bytes holds the cell values; for a variable attribute two
// ReadBuffers are supplied in sequence, one for offsets and one for
// values.
type ReadBuffer struct {
	Bytes []byte
	// Size is updated by the Store to the number of bytes actually
	// produced.
	Size int
}

// ReadRequest bundles the arguments to an asynchronous native-order
// read: destination buffers (one per fixed attribute, two per variable
// attribute, in attribute-id order) and the grid-space box to read,
// expressed as (lo_0, hi_0, ..., lo_{D-1}, hi_{D-1}) normalized cell
// indices relative to the domain origin.
type ReadRequest struct {
	Buffers []*ReadBuffer
	Box     []int64
}

// Completion is delivered to a caller-supplied callback when an AIORead
// finishes, successfully or not, flipping that slot's ready state.
type Completion struct {
	Err error
}

// Store is the Array collaborator this sorted-read core is built on top
// of: everything about physical tile storage, compression, and
// fragment files lives on the other side of this interface. It is
// generic in the coordinate type the way the rest of this module is,
// selected once at Session construction.
//
// The interface is deliberately narrow: an injected storage collaborator
// exposing an at-most-once asynchronous read plus size-reporting handles,
// so the sorted-read core never has to know how a tile's bytes actually
// reach memory.
type Store[T base.Coord] interface {
	Schema() *Schema[T]

	CellOrder() base.Layout
	TileOrder() base.Layout
	DimNum() int
	Domain() (lo, hi []T)
	TileExtents() []int64
	Dense() bool

	// VarSize reports whether attribute a is variable-length.
	VarSize(attrID int) bool
	// CellSize returns cell_size for a fixed attribute; it is
	// unspecified for a variable attribute (use the schema's
	// OffsetSize instead).
	CellSize(attrID int) int

	// TileSlabCellNum returns the number of cells in the given box, which
	// the caller passes as a tile slab cut from a subarray for the given
	// layout; MemStore counts the box's cells and does not consult
	// layout. The sorted-read core sizes its native-order buffers from
	// planner.Slab.TotalCells and does not call this.
	TileSlabCellNum(subarrayBox []int64, layout base.Layout) int64

	// TileNum returns the number of native tiles overlapping the given
	// grid-space box.
	TileNum(box []int64) int64

	// IsContainedInTileSlab reports whether box lies entirely within a
	// single tile slab for the given layout, i.e. spans one tile along
	// that layout's stacking axis.
	IsContainedInTileSlab(box []int64, layout base.Layout) bool

	// AIORead posts an asynchronous, native-order read of box into req
	// and invokes done exactly once, from any goroutine, when the
	// buffers are safe to consume. It returns immediately.
	AIORead(req ReadRequest, done func(Completion))

	// ReadDefault performs a synchronous read of box using whatever
	// order the Store already stores it in when that order happens to
	// already match the caller's requested layout, skipping the
	// reorder/copy path entirely.
	ReadDefault(box []int64, layout base.Layout, buffers []*ReadBuffer) error
}
