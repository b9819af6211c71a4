package array

import (
	"encoding/binary"

	"github.com/tiledb-go/tiledb/internal/base"
	"github.com/tiledb-go/tiledb/internal/domain"
)

// CellGen produces one cell's raw bytes given its global grid
// coordinates (0-based, relative to the domain origin). For a fixed
// attribute it must return exactly CellSize bytes; for a variable
// attribute it may return any number of bytes.
type CellGen func(coords []int64) []byte

// MemStore is a deterministic, in-memory reference implementation of
// Store. It is not a storage engine — no cell is stored; each one is
// produced on demand by its attribute's CellGen — but it answers AIORead
// and ReadDefault by genuinely walking the array's native tile and cell
// order the way an on-disk implementation would, so tests and
// cmd/tiledb-bench exercise the real sorted-read pipeline end to end
// rather than a canned response.
type MemStore[T base.Coord] struct {
	schema *Schema[T]
	fixed  map[int]CellGen
	vari   map[int]CellGen
}

// NewMemStore builds a MemStore for schema. fixed and vari supply a
// content generator per attribute id; every attribute in the schema
// must have an entry in exactly one of the two maps, matching its
// AttrSchema.Variable flag.
func NewMemStore[T base.Coord](schema *Schema[T], fixed, vari map[int]CellGen) *MemStore[T] {
	return &MemStore[T]{schema: schema, fixed: fixed, vari: vari}
}

func (m *MemStore[T]) Schema() *Schema[T]      { return m.schema }
func (m *MemStore[T]) CellOrder() base.Layout  { return m.schema.CellOrder }
func (m *MemStore[T]) TileOrder() base.Layout  { return m.schema.TileOrder }
func (m *MemStore[T]) DimNum() int             { return m.schema.DimNum }
func (m *MemStore[T]) Dense() bool             { return m.schema.Dense }
func (m *MemStore[T]) TileExtents() []int64    { return m.schema.TileExtent }
func (m *MemStore[T]) Domain() (lo, hi []T)    { return m.schema.DomainLo, m.schema.DomainHi }
func (m *MemStore[T]) VarSize(attrID int) bool { return m.schema.Attrs[attrID].Variable }
func (m *MemStore[T]) CellSize(attrID int) int { return m.schema.Attrs[attrID].CellSize }

func (m *MemStore[T]) tileRange(box []int64) (lo, hi []int64) {
	d := m.schema.DimNum
	lo, hi = make([]int64, d), make([]int64, d)
	for i := 0; i < d; i++ {
		lo[i] = box[2*i] / m.schema.TileExtent[i]
		hi[i] = box[2*i+1] / m.schema.TileExtent[i]
	}
	return lo, hi
}

// tileBox returns the inclusive grid-space box (relative to the domain
// origin) covered by tile coordinate tc, clipped to the domain.
func (m *MemStore[T]) tileBox(tc []int64) (lo, hi []int64) {
	d := m.schema.DimNum
	lo, hi = make([]int64, d), make([]int64, d)
	for i := 0; i < d; i++ {
		lo[i] = tc[i] * m.schema.TileExtent[i]
		hi[i] = lo[i] + m.schema.TileExtentAt(i, tc[i]) - 1
	}
	return lo, hi
}

func (m *MemStore[T]) TileNum(box []int64) int64 {
	lo, hi := m.tileRange(box)
	n := int64(1)
	for i := range lo {
		n *= hi[i] - lo[i] + 1
	}
	return n
}

func (m *MemStore[T]) TileSlabCellNum(box []int64, layout base.Layout) int64 {
	n := int64(1)
	for i := 0; i < m.schema.DimNum; i++ {
		n *= box[2*i+1] - box[2*i] + 1
	}
	return n
}

func (m *MemStore[T]) IsContainedInTileSlab(box []int64, layout base.Layout) bool {
	// The whole box lies within a single tile slab for `layout` iff it
	// covers exactly one tile along the stacking axis for that layout.
	stack := 0
	if layout == base.RowMajor {
		stack = 0
	} else {
		stack = m.schema.DimNum - 1
	}
	loTile := box[2*stack] / m.schema.TileExtent[stack]
	hiTile := box[2*stack+1] / m.schema.TileExtent[stack]
	return loTile == hiTile
}

// readNative walks the tiles overlapping box in native tile order, and
// within each tile the cells overlapping box in native cell order,
// appending generated bytes to buffers in attribute-id order. This is
// the single routine both AIORead and ReadDefault delegate to: for this
// reference collaborator "native order" and "default order" are the
// same thing, since there is no separate on-disk default layout to
// distinguish them from.
func (m *MemStore[T]) readNative(box []int64, buffers []*ReadBuffer) error {
	d := m.schema.DimNum
	boxLo := make([]int64, d)
	boxHi := make([]int64, d)
	for i := 0; i < d; i++ {
		boxLo[i], boxHi[i] = box[2*i], box[2*i+1]
	}
	tileLo, tileHi := m.tileRange(box)
	tiles := domain.EnumerateBox(tileLo, tileHi, m.schema.TileOrder)

	attrBufIdx := NativeBufferIndex(m.schema.Attrs)

	written := make([]int, len(buffers))
	for _, tc := range tiles {
		tLo, tHi := m.tileBox(tc)
		oLo, oHi, ok := domain.Intersect(tLo, tHi, boxLo, boxHi)
		if !ok {
			continue
		}
		cells := domain.EnumerateBox(oLo, oHi, m.schema.CellOrder)
		for _, coords := range cells {
			for a, attr := range m.schema.Attrs {
				bi := attrBufIdx[a]
				if attr.Variable {
					gen := m.vari[a]
					val := gen(coords)
					offBuf := buffers[bi]
					valBuf := buffers[bi+1]
					binary.LittleEndian.PutUint64(offBuf.Bytes[written[bi]:], uint64(written[bi+1]))
					written[bi] += attr.OffsetSize
					copy(valBuf.Bytes[written[bi+1]:], val)
					written[bi+1] += len(val)
				} else {
					gen := m.fixed[a]
					val := gen(coords)
					copy(buffers[bi].Bytes[written[bi]:], val)
					written[bi] += attr.CellSize
				}
			}
		}
	}
	for i, w := range written {
		if buffers[i] != nil {
			buffers[i].Size = w
		}
	}
	return nil
}

func (m *MemStore[T]) AIORead(req ReadRequest, done func(Completion)) {
	// Runs synchronously but off the caller's goroutine, mirroring "at
	// most once, from any goroutine" without pretending to be real
	// disk I/O.
	go func() {
		err := m.readNative(req.Box, req.Buffers)
		done(Completion{Err: err})
	}()
}

func (m *MemStore[T]) ReadDefault(box []int64, layout base.Layout, buffers []*ReadBuffer) error {
	return m.readNative(box, buffers)
}
