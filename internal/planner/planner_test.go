package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiledb-go/tiledb/array"
	"github.com/tiledb-go/tiledb/internal/base"
)

func testSchema(t *testing.T, domainHi int64, tileExtent int64, tileOrder, cellOrder base.Layout) *array.Schema[int64] {
	t.Helper()
	s := &array.Schema[int64]{
		DimNum:     2,
		DomainLo:   []int64{0, 0},
		DomainHi:   []int64{domainHi, domainHi},
		TileExtent: []int64{tileExtent, tileExtent},
		TileOrder:  tileOrder,
		CellOrder:  cellOrder,
		Dense:      true,
		Attrs:      []array.AttrSchema{{Name: "a1", CellSize: 8}},
	}
	require.NoError(t, s.Validate())
	return s
}

func testStore(t *testing.T, domainHi, tileExtent int64, tileOrder, cellOrder base.Layout) *array.MemStore[int64] {
	schema := testSchema(t, domainHi, tileExtent, tileOrder, cellOrder)
	return array.NewMemStore[int64](schema, map[int]array.CellGen{
		0: func(coords []int64) []byte { return make([]byte, 8) },
	}, nil)
}

func TestPlannerSingleTileSlab(t *testing.T) {
	// Domain [0,7]x[0,7], tile extent 8: the whole domain is one tile,
	// so a full-domain subarray produces exactly one slab.
	store := testStore(t, 7, 8, base.RowMajor, base.RowMajor)
	box := []int64{0, 7, 0, 7}
	p := New[int64](store, box, base.RowMajor)

	slab, err := p.Next()
	require.NoError(t, err)
	require.NotNil(t, slab)
	require.Equal(t, int64(64), slab.TotalCells)
	require.Len(t, slab.Tiles, 1)

	next, err := p.Next()
	require.NoError(t, err)
	require.Nil(t, next)
	require.True(t, p.Done())
}

func TestPlannerMultipleSlabsRowMajor(t *testing.T) {
	// Domain [0,15]x[0,15], tile extent 8: row-major stacks along
	// dimension 0, so 2 tile rows means 2 slabs, each with 2 tiles.
	store := testStore(t, 15, 8, base.RowMajor, base.RowMajor)
	box := []int64{0, 15, 0, 15}
	p := New[int64](store, box, base.RowMajor)

	var slabs []*Slab
	for {
		slab, err := p.Next()
		require.NoError(t, err)
		if slab == nil {
			break
		}
		slabs = append(slabs, slab)
	}
	require.Len(t, slabs, 2)
	for _, s := range slabs {
		require.Len(t, s.Tiles, 2)
		require.Equal(t, int64(128), s.TotalCells)
	}
	require.Equal(t, []int64{8, 16}, slabs[0].Extent)
	require.Equal(t, 0, slabs[0].StackAxis)
}

func TestPlannerColMajorStacksLastDimension(t *testing.T) {
	store := testStore(t, 15, 8, base.RowMajor, base.RowMajor)
	box := []int64{0, 15, 0, 15}
	p := New[int64](store, box, base.ColMajor)

	slab, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, 1, slab.StackAxis)
}

func TestPlannerClipsPartialSubarray(t *testing.T) {
	// Subarray [2,5]x[0,3] lies entirely within the domain's first tile
	// (extent 8), so this is a single slab with a single, clipped tile.
	store := testStore(t, 15, 8, base.RowMajor, base.RowMajor)
	box := []int64{2, 5, 0, 3}
	p := New[int64](store, box, base.RowMajor)

	slab, err := p.Next()
	require.NoError(t, err)
	require.Len(t, slab.Tiles, 1)
	require.Equal(t, int64(16), slab.TotalCells) // 4 x 4
	require.Equal(t, []int64{2, 0}, slab.Tiles[0].Lo)
	require.Equal(t, []int64{5, 3}, slab.Tiles[0].Hi)

	next, err := p.Next()
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestPlannerBoundaryClippedTile(t *testing.T) {
	// Domain [0,9], tile extent 8: the second tile along each dimension
	// is clipped to extent 2 (indices 8-9).
	store := testStore(t, 9, 8, base.RowMajor, base.RowMajor)
	box := []int64{0, 9, 0, 9}
	p := New[int64](store, box, base.RowMajor)

	var totalCells int64
	for {
		slab, err := p.Next()
		require.NoError(t, err)
		if slab == nil {
			break
		}
		totalCells += slab.TotalCells
	}
	require.Equal(t, int64(100), totalCells) // 10 x 10
}

func TestPlannerStartOffsetsAccumulate(t *testing.T) {
	store := testStore(t, 15, 8, base.RowMajor, base.RowMajor)
	box := []int64{0, 15, 0, 15}
	p := New[int64](store, box, base.RowMajor)

	slab, err := p.Next()
	require.NoError(t, err)
	require.Len(t, slab.Tiles, 2)
	require.Equal(t, int64(0), slab.Tiles[0].StartOffset[0])
	// Each tile in this slab contributes 8*8=64 cells * 8 bytes.
	require.Equal(t, int64(64*8), slab.Tiles[1].StartOffset[0])
}
