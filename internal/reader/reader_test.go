package reader

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiledb-go/tiledb/array"
	terrors "github.com/tiledb-go/tiledb/errors"
	"github.com/tiledb-go/tiledb/internal/base"
	"github.com/tiledb-go/tiledb/internal/planner"
)

func testStoreAndSlab(t *testing.T) (*array.MemStore[int64], *planner.Slab) {
	t.Helper()
	schema := &array.Schema[int64]{
		DimNum:     2,
		DomainLo:   []int64{0, 0},
		DomainHi:   []int64{7, 7},
		TileExtent: []int64{8, 8},
		TileOrder:  base.RowMajor,
		CellOrder:  base.RowMajor,
		Dense:      true,
		Attrs:      []array.AttrSchema{{Name: "a1", CellSize: 8}},
	}
	require.NoError(t, schema.Validate())
	store := array.NewMemStore[int64](schema, map[int]array.CellGen{
		0: func(coords []int64) []byte {
			b := make([]byte, 8)
			b[0] = byte(coords[0])
			b[1] = byte(coords[1])
			return b
		},
	}, nil)

	p := planner.New[int64](store, []int64{0, 7, 0, 7}, base.RowMajor)
	slab, err := p.Next()
	require.NoError(t, err)
	require.NotNil(t, slab)
	return store, slab
}

func TestReaderPostAndWaitReady(t *testing.T) {
	store, slab := testStoreAndSlab(t)
	var mu sync.Mutex
	pool := NewBufferPool(4)
	r := New[int64](store, pool, &mu, 128)

	r.Post(0, slab)
	slot, err := r.WaitReady(0)
	require.NoError(t, err)
	require.NotNil(t, slot)
	require.Same(t, slab, slot.Slab)
	require.Len(t, slot.ReadBufs, 1)
	require.Equal(t, int(slab.TotalCells)*8, slot.ReadBufs[0].Size)
}

func TestReaderReleaseReturnsBufferToPool(t *testing.T) {
	store, slab := testStoreAndSlab(t)
	var mu sync.Mutex
	pool := NewBufferPool(4)
	r := New[int64](store, pool, &mu, 128)

	r.Post(0, slab)
	_, err := r.WaitReady(0)
	require.NoError(t, err)

	r.Release(0)
	// A second Post for a slab of the same size should reuse the pooled
	// buffer rather than allocating a fresh one.
	pool.mu.Lock()
	poolLen := len(pool.pool)
	pool.mu.Unlock()
	require.Equal(t, 1, poolLen)
}

func TestReaderCloseUnblocksWaiters(t *testing.T) {
	store, _ := testStoreAndSlab(t)
	var mu sync.Mutex
	pool := NewBufferPool(4)
	r := New[int64](store, pool, &mu, 128)

	// Nothing was ever posted to slot 1: WaitReady would block forever
	// without Close waking it.
	done := make(chan error, 1)
	go func() {
		_, err := r.WaitReady(1)
		done <- err
	}()

	r.Close()
	err := <-done
	require.Error(t, err)
	require.True(t, terrors.Is(err, terrors.Shutdown))
}
