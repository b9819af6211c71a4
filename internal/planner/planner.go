// Package planner implements the Tile-Slab Planner: it cuts a
// normalized subarray into consecutive tile slabs one tile thick along
// the stacking axis, and for each slab enumerates the native tiles that
// overlap it together with the per-tile byte bookkeeping (start
// offsets, cell-slab size) the copy engine needs.
//
// Planning proceeds incrementally: each call to Next picks the next
// chunk of work and remembers where it left off, rather than
// materializing every slab up front, generalizing over an arbitrary
// tiled coordinate grid using the box-enumeration helpers in
// internal/domain.
package planner

import (
	"fmt"

	"github.com/tiledb-go/tiledb/array"
	"github.com/tiledb-go/tiledb/internal/base"
	"github.com/tiledb-go/tiledb/internal/domain"
)

// TileOverlap describes one native tile's intersection with a slab: the
// overlap box in grid-space coordinates, the tile's own (possibly
// boundary-clipped) extent, the maximal cell-slab length copyable in one
// run, and the per-attribute byte offset within the slab's native-order
// buffers at which this tile's cells begin.
type TileOverlap struct {
	TileCoord []int64
	Lo, Hi    []int64
	Extent    []int64
	// CellSlabNum is the largest run of cells, in the caller's requested
	// layout, that is also contiguous in this tile's native order; the
	// copy engine memcpy's runs of this length.
	CellSlabNum int64
	// StartOffset[a] is the byte offset into attribute a's native-order
	// buffer (its offsets stream, for a variable attribute) at which
	// this tile's cells begin, i.e. attribute_sizes[a] times the number
	// of cells contributed by every earlier tile in the slab.
	StartOffset []int64
	// NCells is the number of cells this tile contributes to the slab.
	NCells int64
}

func (t TileOverlap) String() string {
	return fmt.Sprintf("tile%v overlap[%v,%v] cellSlab=%d", t.TileCoord, t.Lo, t.Hi, t.CellSlabNum)
}

// Slab is one tile-slab: a box one tile thick along StackAxis and full
// width along every other dimension, plus the native tiles overlapping
// it in native tile order.
type Slab struct {
	Lo, Hi    []int64
	Extent    []int64
	StackAxis int
	Tiles     []TileOverlap
	// TotalCells is the sum of every tile's NCells, i.e. the total
	// number of cells this slab contributes per attribute — needed by
	// the copy engine to recognize the last cell of a variable
	// attribute's values stream.
	TotalCells int64
}

func (s *Slab) String() string {
	return fmt.Sprintf("slab[%v,%v] stackAxis=%d tiles=%d totalCells=%d", s.Lo, s.Hi, s.StackAxis, len(s.Tiles), s.TotalCells)
}

// Planner cuts a normalized subarray box into consecutive tile slabs.
// Box and every coordinate Planner deals in are already in the int64
// cell-grid space domain.Normalize produces; Planner itself is not
// generic over T because it never touches a raw coordinate.
type Planner struct {
	tileExtent []int64
	tileOrder  base.Layout
	cellOrder  base.Layout
	attrSizes  []int64

	box       []int64
	layout    base.Layout
	stackAxis int

	hasPrev bool
	prevHiS int64
	done    bool
}

// New builds a Planner over box (grid-space, 2*dimNum long: lo_0, hi_0,
// ..., lo_{d-1}, hi_{d-1}) for the given store and requested layout. The
// stacking axis is the slowest-varying dimension of layout: row-major
// stacks along dimension 0, column-major along the last dimension.
func New[T base.Coord](store array.Store[T], box []int64, layout base.Layout) *Planner {
	schema := store.Schema()
	d := schema.DimNum
	stackAxis := 0
	if layout == base.ColMajor {
		stackAxis = d - 1
	}
	attrSizes := make([]int64, len(schema.Attrs))
	for a, attr := range schema.Attrs {
		attrSizes[a] = int64(attr.Size())
	}
	return &Planner{
		tileExtent: schema.TileExtent,
		tileOrder:  schema.TileOrder,
		cellOrder:  schema.CellOrder,
		attrSizes:  attrSizes,
		box:        box,
		layout:     layout,
		stackAxis:  stackAxis,
	}
}

// Done reports whether Next has emitted every slab in the subarray.
func (p *Planner) Done() bool { return p.done }

// Reset rewinds the planner to its initial state so a Session can
// restart a Read cycle over the same subarray without reconstructing a
// Planner from scratch.
func (p *Planner) Reset() {
	p.hasPrev = false
	p.prevHiS = 0
	p.done = false
}

// Next returns the next tile slab, or nil once the subarray is
// exhausted: a nil, nil result means Done() is now true.
func (p *Planner) Next() (*Slab, error) {
	if p.done {
		return nil, nil
	}

	stack := p.stackAxis
	tileExt := p.tileExtent[stack]
	subLoS, subHiS := p.box[2*stack], p.box[2*stack+1]

	var loS, hiS int64
	if !p.hasPrev {
		tileIdx := subLoS / tileExt
		boundary := (tileIdx+1)*tileExt - 1
		loS, hiS = subLoS, min64(boundary, subHiS)
	} else {
		if p.prevHiS == subHiS {
			p.done = true
			return nil, nil
		}
		loS = p.prevHiS + 1
		hiS = min64(loS+tileExt-1, subHiS)
	}
	p.hasPrev = true
	p.prevHiS = hiS

	d := len(p.tileExtent)
	lo, hi := make([]int64, d), make([]int64, d)
	for i := 0; i < d; i++ {
		if i == stack {
			lo[i], hi[i] = loS, hiS
		} else {
			lo[i], hi[i] = p.box[2*i], p.box[2*i+1]
		}
	}

	return p.buildSlab(lo, hi), nil
}

func (p *Planner) buildSlab(lo, hi []int64) *Slab {
	d := len(p.tileExtent)
	tileLo, tileHi := make([]int64, d), make([]int64, d)
	for i := 0; i < d; i++ {
		tileLo[i] = lo[i] / p.tileExtent[i]
		tileHi[i] = hi[i] / p.tileExtent[i]
	}
	tileCoords := domain.EnumerateBox(tileLo, tileHi, p.tileOrder)

	tiles := make([]TileOverlap, 0, len(tileCoords))
	cumCells := make([]int64, len(p.attrSizes))
	var totalCells int64
	for _, tc := range tileCoords {
		tLo, tHi := make([]int64, d), make([]int64, d)
		for i := 0; i < d; i++ {
			tLo[i] = tc[i] * p.tileExtent[i]
			tHi[i] = tLo[i] + p.tileExtent[i] - 1
		}
		oLo, oHi, ok := domain.Intersect(tLo, tHi, lo, hi)
		if !ok {
			continue
		}
		extent := make([]int64, d)
		nCells := int64(1)
		for i := 0; i < d; i++ {
			extent[i] = oHi[i] - oLo[i] + 1
			nCells *= extent[i]
		}
		cellSlabNum := domain.MaxContiguousRun(extent, p.cellOrder, p.layout)

		startOffset := make([]int64, len(p.attrSizes))
		for a, sz := range p.attrSizes {
			startOffset[a] = cumCells[a] * sz
			cumCells[a] += nCells
		}

		tiles = append(tiles, TileOverlap{
			TileCoord:   tc,
			Lo:          oLo,
			Hi:          oHi,
			Extent:      extent,
			CellSlabNum: cellSlabNum,
			StartOffset: startOffset,
			NCells:      nCells,
		})
		totalCells += nCells
	}

	extent := make([]int64, d)
	for i := 0; i < d; i++ {
		extent[i] = hi[i] - lo[i] + 1
	}
	return &Slab{Lo: lo, Hi: hi, Extent: extent, StackAxis: p.stackAxis, Tiles: tiles, TotalCells: totalCells}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
