// Package array defines the Array collaborator this module treats as an
// external dependency: schema description, the async-read
// contract, and a deterministic in-memory reference implementation
// (MemStore) used by every test and by cmd/tiledb-bench. Physical tile
// codecs, fragment files, and on-disk layout are explicitly not this
// package's concern; MemStore generates every cell on demand from
// per-attribute CellGen functions.
package array

import (
	"github.com/tiledb-go/tiledb/internal/base"

	terrors "github.com/tiledb-go/tiledb/errors"
)

// AttrSchema describes one attribute: its storage size (for fixed
// attributes) or offset width (for variable-length attributes, whose
// logical cell size is an offset plus the variable-length bytes it
// points at).
type AttrSchema struct {
	Name string
	// CellSize is the fixed on-disk size in bytes of one cell's value.
	// Ignored (0) for variable attributes.
	CellSize int
	// Variable marks a variable-length attribute, stored on disk as a
	// pair of streams: offsets (OffsetSize bytes each) and values.
	Variable bool
	// OffsetSize is sizeof(offset_t) for a variable attribute; must be 8
	// (a uint64 offset), the only width Validate accepts and
	// internal/copyengine knows how to read and rebase.
	OffsetSize int
}

// Size returns the size in bytes of one entry in this attribute's
// native buffer: OffsetSize for a variable attribute (one entry in its
// offsets stream) or CellSize for a fixed attribute.
func (a AttrSchema) Size() int {
	if a.Variable {
		return a.OffsetSize
	}
	return a.CellSize
}

// Schema describes the subset of an array's schema the sorted-read core
// consumes: dimensionality, coordinate domain and tile extents (typed
// by T), tile/cell order, attributes, and denseness.
type Schema[T base.Coord] struct {
	DimNum int
	// DomainLo/DomainHi hold the inclusive domain bounds per dimension.
	DomainLo, DomainHi []T
	// TileExtent holds each dimension's tile extent, already validated
	// to be a positive integral count of grid cells (see Validate).
	TileExtent []int64
	TileOrder  base.Layout
	CellOrder  base.Layout
	Attrs      []AttrSchema
	Dense      bool
}

// Validate checks the invariants the sorted-read core relies on,
// returning an InvalidArgument error naming the first violation found.
// Schema parsing itself is out of scope; this is boundary validation of
// the fields this core actually touches.
func (s *Schema[T]) Validate() error {
	if s.DimNum <= 0 {
		return terrors.New(terrors.InvalidArgument, "dim_num must be >= 1, got %d", s.DimNum)
	}
	if len(s.DomainLo) != s.DimNum || len(s.DomainHi) != s.DimNum || len(s.TileExtent) != s.DimNum {
		return terrors.New(terrors.InvalidArgument, "domain/tile_extent length must equal dim_num=%d", s.DimNum)
	}
	for i := 0; i < s.DimNum; i++ {
		if s.DomainLo[i] > s.DomainHi[i] {
			return terrors.New(terrors.InvalidArgument, "domain[%d] lo=%v > hi=%v", i, s.DomainLo[i], s.DomainHi[i])
		}
		if s.TileExtent[i] <= 0 {
			return terrors.New(terrors.InvalidArgument, "tile_extent[%d] must be > 0, got %d", i, s.TileExtent[i])
		}
	}
	if len(s.Attrs) == 0 {
		return terrors.New(terrors.InvalidArgument, "attribute_num must be >= 1")
	}
	for i, a := range s.Attrs {
		if a.Variable {
			// internal/copyengine reads and rebases offsets as uint64
			// (binary.LittleEndian.Uint64), so 8 is the only offset
			// width this core can actually copy correctly.
			if a.OffsetSize != 8 {
				return terrors.New(terrors.InvalidArgument, "attribute[%d] %q: variable attribute needs offset_size == 8, got %d", i, a.Name, a.OffsetSize)
			}
		} else if a.CellSize <= 0 {
			return terrors.New(terrors.InvalidArgument, "attribute[%d] %q: fixed attribute needs cell_size > 0", i, a.Name)
		}
	}
	if !s.Dense {
		return terrors.New(terrors.InvalidArgument, "sparse arrays are not supported by this sorted-read core; sparse sorted-read paths are explicitly out of scope")
	}
	return nil
}

// DomainExtent returns the full grid-cell extent of the domain along
// each dimension: DomainHi[i]-DomainLo[i]+1.
func (s *Schema[T]) DomainExtent() []int64 {
	out := make([]int64, s.DimNum)
	for i := 0; i < s.DimNum; i++ {
		out[i] = int64(s.DomainHi[i]-s.DomainLo[i]) + 1
	}
	return out
}

// NativeBufferIndex returns, for each attribute id, that attribute's
// first entry in the flattened native-order buffer slice a Store fills:
// one entry for a fixed attribute, two (offsets, values) for a
// variable one, in attribute-id order. Every Store implementation and
// every caller of Store.AIORead/ReadDefault uses this same layout.
func NativeBufferIndex(attrs []AttrSchema) []int {
	idx := make([]int, len(attrs))
	next := 0
	for a, attr := range attrs {
		idx[a] = next
		if attr.Variable {
			next += 2
		} else {
			next++
		}
	}
	return idx
}

// TileExtentAt returns the actual (possibly boundary-clipped) extent of
// tile coordinate tc along dimension d: tiles at the edge of the domain
// are clipped to the domain.
func (s *Schema[T]) TileExtentAt(d int, tc int64) int64 {
	domExt := int64(s.DomainHi[d]-s.DomainLo[d]) + 1
	lo := tc * s.TileExtent[d]
	hi := lo + s.TileExtent[d] - 1
	if hi > domExt-1 {
		hi = domExt - 1
	}
	return hi - lo + 1
}
