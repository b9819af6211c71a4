package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiledb-go/tiledb/internal/base"
)

func TestNormalizeVec(t *testing.T) {
	subarray := []int64{-5, 5, 10, 20}
	domainLo := []int64{-10, 0}
	require.Equal(t, []int64{5, 15, 10, 20}, NormalizeVec(subarray, domainLo))
}

func TestStridesForLayoutRowMajor(t *testing.T) {
	// 3x4 box, row-major: dimension 1 (4 wide) is fastest.
	strides := StridesForLayout([]int64{3, 4}, base.RowMajor)
	require.Equal(t, []int64{4, 1}, strides)
}

func TestStridesForLayoutColMajor(t *testing.T) {
	strides := StridesForLayout([]int64{3, 4}, base.ColMajor)
	require.Equal(t, []int64{1, 3}, strides)
}

func TestLinearID(t *testing.T) {
	strides := StridesForLayout([]int64{3, 4}, base.RowMajor)
	require.Equal(t, int64(0), LinearID([]int64{0, 0}, strides))
	require.Equal(t, int64(5), LinearID([]int64{1, 1}, strides))
	require.Equal(t, int64(11), LinearID([]int64{2, 3}, strides))
}

func TestIntersectOverlapping(t *testing.T) {
	lo, hi, ok := Intersect([]int64{0, 0}, []int64{9, 9}, []int64{5, -3}, []int64{15, 3})
	require.True(t, ok)
	require.Equal(t, []int64{5, 0}, lo)
	require.Equal(t, []int64{9, 3}, hi)
}

func TestIntersectDisjoint(t *testing.T) {
	_, _, ok := Intersect([]int64{0, 0}, []int64{4, 4}, []int64{5, 0}, []int64{9, 4})
	require.False(t, ok)
}

func TestMaxContiguousRunSameOrder(t *testing.T) {
	// When native and requested order agree, the whole box is one run.
	run := MaxContiguousRun([]int64{4, 8}, base.RowMajor, base.RowMajor)
	require.Equal(t, int64(32), run)
}

func TestMaxContiguousRunOppositeOrder(t *testing.T) {
	// Row-major requested over column-major native: only the
	// single-cell run at the origin agrees, since the two orders
	// disagree on which dimension is fastest as soon as d >= 2.
	run := MaxContiguousRun([]int64{4, 8}, base.ColMajor, base.RowMajor)
	require.Equal(t, int64(1), run)
}

func TestMaxContiguousRunSingleDimension(t *testing.T) {
	// A single dimension has no ordering ambiguity: always fully
	// contiguous regardless of native vs requested layout.
	run := MaxContiguousRun([]int64{17}, base.ColMajor, base.RowMajor)
	require.Equal(t, int64(17), run)
}

func TestEnumerateBoxRowMajor(t *testing.T) {
	pts := EnumerateBox([]int64{0, 0}, []int64{1, 1}, base.RowMajor)
	require.Equal(t, [][]int64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, pts)
}

func TestEnumerateBoxColMajor(t *testing.T) {
	pts := EnumerateBox([]int64{0, 0}, []int64{1, 1}, base.ColMajor)
	require.Equal(t, [][]int64{{0, 0}, {1, 0}, {0, 1}, {1, 1}}, pts)
}

func TestAdvanceCellSlabCarriesAcrossDimensions(t *testing.T) {
	extents := []int64{2, 3} // row-major: dimension 1 fastest, width 3
	cur := NewCursor(2)
	AdvanceCellSlab(cur, 3, extents, base.RowMajor)
	require.False(t, cur.Done)
	require.Equal(t, []int64{1, 0}, cur.Coords)

	AdvanceCellSlab(cur, 3, extents, base.RowMajor)
	require.True(t, cur.Done)
}

func TestAdvanceCellSlabWithinRow(t *testing.T) {
	extents := []int64{2, 3}
	cur := NewCursor(2)
	AdvanceCellSlab(cur, 2, extents, base.RowMajor)
	require.False(t, cur.Done)
	require.Equal(t, []int64{0, 2}, cur.Coords)
}
