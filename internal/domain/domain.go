// Package domain implements the pure coordinate arithmetic the rest of
// the sorted-read core is built on: tile-of-coordinate, strides for a
// given layout, cell/tile linear ids within a box, and cell-slab
// advancement. Every function here is generic over base.Coord, or
// works purely in the normalized int64 cell-grid space planner and
// copy engine operate in (see internal/planner's doc comment for why
// that normalization happens at the session boundary). It imports
// nothing beyond internal/base.
package domain

import "github.com/tiledb-go/tiledb/internal/base"

// TileOf returns floor((c - domainLo) / tileExtent), the tile
// coordinate along one dimension containing c. For well-formed inputs
// domainLo <= c, so integer truncation toward zero equals floor; this
// holds for float coordinates too.
func TileOf[T base.Coord](c, domainLo, tileExtent T) int64 {
	return int64((c - domainLo) / tileExtent)
}

// TileOfVec applies TileOf elementwise.
func TileOfVec[T base.Coord](coords, domainLo, tileExtent []T) []int64 {
	tc := make([]int64, len(coords))
	for i := range coords {
		tc[i] = TileOf(coords[i], domainLo[i], tileExtent[i])
	}
	return tc
}

// Normalize converts a coordinate to the domain-relative integer
// cell-grid index used throughout the planner and copy engine:
// int64(c - domainLo). Dense arrays enumerate a discrete cell grid
// regardless of the display type of their coordinates, so once a
// coordinate has been related to the domain origin, every subsequent
// computation (tile ids, strides, cell-slab lengths) is exact int64
// arithmetic; only the public Subarray/domain boundary deals in T.
func Normalize[T base.Coord](c, domainLo T) int64 {
	return int64(c - domainLo)
}

// NormalizeVec applies Normalize elementwise to a subarray-shaped slice
// (lo_0, hi_0, ..., lo_{D-1}, hi_{D-1}).
func NormalizeVec[T base.Coord](subarray, domainLo []T) []int64 {
	d := len(domainLo)
	out := make([]int64, 2*d)
	for i := 0; i < d; i++ {
		out[2*i] = Normalize(subarray[2*i], domainLo[i])
		out[2*i+1] = Normalize(subarray[2*i+1], domainLo[i])
	}
	return out
}

// StridesForLayout returns the per-dimension stride table (in cells) for
// a box of the given extents laid out in the given order: row-major
// makes the last dimension fastest (stride 1); column-major makes the
// first dimension fastest.
func StridesForLayout(extents []int64, layout base.Layout) []int64 {
	d := len(extents)
	strides := make([]int64, d)
	order := layout.FastToSlow(d)
	stride := int64(1)
	for _, dim := range order {
		strides[dim] = stride
		stride *= extents[dim]
	}
	return strides
}

// LinearID returns the linear cell (or tile) id of localCoords within a
// box whose per-dimension strides are given, i.e. sum(localCoords[i] *
// strides[i]). Used both to locate a cell within its tile and to
// locate a tile within its slab, differing only in which strides and
// which coordinate space are passed in.
func LinearID(localCoords, strides []int64) int64 {
	var id int64
	for i := range localCoords {
		id += localCoords[i] * strides[i]
	}
	return id
}

// Cursor tracks the copy engine's position within one tile's overlap
// box, in cell-grid coordinates local to that box's origin.
type Cursor struct {
	Coords []int64
	Done   bool
}

// NewCursor returns a zeroed cursor for a box of the given
// dimensionality.
func NewCursor(d int) *Cursor {
	return &Cursor{Coords: make([]int64, d)}
}

// AdvanceCellSlab advances the cursor by n cells along the
// fastest-varying dimension of layout, carrying overflow into
// progressively slower dimensions (per extents, the box's per-dimension
// sizes) and setting Done once the slowest dimension is exhausted. The
// carry loop is bounded by len(order) and always terminates, even at
// the box's last cell.
func AdvanceCellSlab(cur *Cursor, n int64, extents []int64, layout base.Layout) {
	order := layout.FastToSlow(len(extents))
	cur.Coords[order[0]] += n
	for i, d := range order {
		if cur.Coords[d] < extents[d] {
			return
		}
		if i == len(order)-1 {
			cur.Done = true
			return
		}
		carry := cur.Coords[d] / extents[d]
		cur.Coords[d] %= extents[d]
		cur.Coords[order[i+1]] += carry
	}
}

// MaxContiguousRun returns the largest N such that N cells contiguous
// in requested-layout order starting at the origin of a box are also
// contiguous in the box's native order. overlapExtent is the box
// actually being copied (may be clipped at a subarray or slab
// boundary): a tile's overlap with a slab is always delivered as a
// packed, gap-free native-order buffer (no padding for cells outside
// the request), so contiguity is evaluated against the overlap box's
// own extent, never the tile's nominal (possibly larger) extent — two
// dimensions "agree" exactly when the native stride implied by
// overlapExtent lines up with the running requested-order stride.
func MaxContiguousRun(overlapExtent []int64, nativeOrder, reqLayout base.Layout) int64 {
	nativeStride := StridesForLayout(overlapExtent, nativeOrder)
	reqOrder := reqLayout.FastToSlow(len(overlapExtent))
	run := int64(1)
	expected := int64(1)
	for _, d := range reqOrder {
		if nativeStride[d] != expected {
			break
		}
		run *= overlapExtent[d]
		expected *= overlapExtent[d]
	}
	return run
}

// Intersect returns the inclusive overlap of two boxes, or ok=false if
// they do not overlap along some dimension.
func Intersect(aLo, aHi, bLo, bHi []int64) (lo, hi []int64, ok bool) {
	d := len(aLo)
	lo, hi = make([]int64, d), make([]int64, d)
	for i := 0; i < d; i++ {
		if aLo[i] > bLo[i] {
			lo[i] = aLo[i]
		} else {
			lo[i] = bLo[i]
		}
		if aHi[i] < bHi[i] {
			hi[i] = aHi[i]
		} else {
			hi[i] = bHi[i]
		}
		if lo[i] > hi[i] {
			return nil, nil, false
		}
	}
	return lo, hi, true
}

// EnumerateBox lists every integer coordinate point in the inclusive box
// [lo, hi] (both length d), in the order layout would visit them
// (fastest-varying dimension innermost). Used both by the planner to
// enumerate the tiles overlapping a slab in native tile order, and by
// array.MemStore to enumerate the cells within a tile's overlap in
// native cell order.
func EnumerateBox(lo, hi []int64, layout base.Layout) [][]int64 {
	d := len(lo)
	extents := make([]int64, d)
	total := int64(1)
	for i := 0; i < d; i++ {
		extents[i] = hi[i] - lo[i] + 1
		total *= extents[i]
	}
	order := layout.FastToSlow(d)
	out := make([][]int64, 0, total)
	cur := make([]int64, d)
	for n := int64(0); n < total; n++ {
		point := make([]int64, d)
		for i := 0; i < d; i++ {
			point[i] = lo[i] + cur[i]
		}
		out = append(out, point)
		for _, dim := range order {
			cur[dim]++
			if cur[dim] < extents[dim] {
				break
			}
			cur[dim] = 0
		}
	}
	return out
}
