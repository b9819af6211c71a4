// Package copyengine implements the Reorder/Copy Engine: given a slab's
// native-order buffers and the Planner's per-tile overlap bookkeeping,
// it copies cell data into the caller's requested-layout output
// buffers, one maximal contiguous cell-slab run at a time (for variable
// attributes the run's values are copied in one block and each cell's
// offset is rebased), stopping and reporting overflow the instant an output
// buffer fills.
//
// Every copy call is resumable: AttrState records exactly which tile
// and which cell within that tile an attribute's cursor is parked at,
// so a Session.Read call that overflows mid-slab can hand the same
// state back in on the next call and continue from that cell rather
// than restarting the slab.
//
// The byte-copy loops themselves track a running write position and
// bulk-copy into it (copy(dst[pos:], src)), generalized here to a
// cursor that can stop mid-copy on overflow rather than always
// draining its source in one call.
package copyengine

import (
	"encoding/binary"

	"github.com/tiledb-go/tiledb/array"
	terrors "github.com/tiledb-go/tiledb/errors"
	"github.com/tiledb-go/tiledb/internal/base"
	"github.com/tiledb-go/tiledb/internal/domain"
	"github.com/tiledb-go/tiledb/internal/planner"
)

// Buffer is one user-supplied output destination for an attribute: Data
// alone for a fixed attribute, or (Offsets, Data) for a variable
// attribute. CopyAttr writes starting at DataPos/OffsetsPos
// and advances them in place, so a caller can pass the same Buffer back
// across multiple Read calls to keep filling it, or reset the positions
// to 0 to start a fresh buffer.
type Buffer struct {
	Data       []byte
	Offsets    []byte // nil for a fixed attribute
	DataPos    int
	OffsetsPos int
}

// AttrState is one attribute's resumable cursor within a slab: which
// tile it is currently copying from and its position within that
// tile's overlap box. Done is set once every cell of the slab has been
// copied for this attribute.
type AttrState struct {
	TileIdx int
	Cursor  *domain.Cursor
	Done    bool
}

// NewAttrState returns a fresh state positioned at the first cell of a
// slab's first tile.
func NewAttrState(dimNum int) *AttrState {
	return &AttrState{Cursor: domain.NewCursor(dimNum)}
}

// CopyAttr copies as many of attribute attrID's remaining cells in slab
// as fit into dst, starting from state's saved position. native holds
// the slot's flattened native-order buffers (array.MemStore's layout:
// one entry per fixed attribute, two per variable attribute); nativeIdx
// is attrID's first entry in that slice. nativeOrder is the store's
// native cell order and layout is the caller's requested layout — the
// same pair the Planner used to compute each tile's CellSlabNum.
//
// It returns overflow=true if dst filled before the slab was exhausted,
// leaving state positioned to resume the same slab on a later call.
func CopyAttr(state *AttrState, slab *planner.Slab, attrID int, attr array.AttrSchema, native []*array.ReadBuffer, nativeIdx int, dst *Buffer, nativeOrder, layout base.Layout) (overflow bool, err error) {
	if state.Done {
		return false, nil
	}
	if attr.Variable {
		return copyVariable(state, slab, attrID, int64(attr.OffsetSize), native[nativeIdx], native[nativeIdx+1], dst, nativeOrder, layout)
	}
	return copyFixed(state, slab, attrID, int64(attr.CellSize), native[nativeIdx], dst, nativeOrder, layout)
}

func copyFixed(state *AttrState, slab *planner.Slab, attrID int, cellSize int64, nativeBuf *array.ReadBuffer, dst *Buffer, nativeOrder, layout base.Layout) (bool, error) {
	for state.TileIdx < len(slab.Tiles) {
		tile := &slab.Tiles[state.TileIdx]
		nativeStrides := domain.StridesForLayout(tile.Extent, nativeOrder)
		for {
			n := tile.CellSlabNum
			sz := n * cellSize
			if int64(len(dst.Data)-dst.DataPos) < sz {
				return true, nil
			}
			localID := domain.LinearID(state.Cursor.Coords, nativeStrides)
			srcOff := tile.StartOffset[attrID] + localID*cellSize
			if srcOff+sz > int64(nativeBuf.Size) {
				return false, terrors.New(terrors.IoError, "attribute %d: native buffer underrun at offset %d", attrID, srcOff)
			}
			copy(dst.Data[dst.DataPos:], nativeBuf.Bytes[srcOff:srcOff+sz])
			dst.DataPos += int(sz)

			domain.AdvanceCellSlab(state.Cursor, n, tile.Extent, layout)
			if state.Cursor.Done {
				state.TileIdx++
				state.Cursor = domain.NewCursor(len(tile.Extent))
				break
			}
		}
	}
	state.Done = true
	return false, nil
}

// copyVariable batches by the same maximal contiguous cell-slab run
// copyFixed uses, rather than cell by cell: within one run the native
// value bytes for all n cells are themselves contiguous, so the run's
// values move in a single bulk copy. Only the offsets need a per-cell
// pass, since each one must be rebased from its native, tile-relative
// position to dst.Data's current write position — a naive memcpy of
// the native offsets block would leave a caller's variable buffer
// holding offsets that point into the wrong buffer entirely once more
// than one tile or one Read call has contributed to it. A run that
// doesn't fully fit is left untouched, exactly like copyFixed: overflow
// never leaves a run partially copied.
func copyVariable(state *AttrState, slab *planner.Slab, attrID int, offsetSize int64, offBuf, valBuf *array.ReadBuffer, dst *Buffer, nativeOrder, layout base.Layout) (bool, error) {
	for state.TileIdx < len(slab.Tiles) {
		tile := &slab.Tiles[state.TileIdx]
		nativeStrides := domain.StridesForLayout(tile.Extent, nativeOrder)
		for {
			n := tile.CellSlabNum
			localID := domain.LinearID(state.Cursor.Coords, nativeStrides)
			cellStart := tile.StartOffset[attrID]/offsetSize + localID

			nativeOff0, err := readVarOffset(offBuf, offsetSize, cellStart, attrID)
			if err != nil {
				return false, err
			}
			var endOff int64
			if cellStart+n >= slab.TotalCells {
				endOff = int64(valBuf.Size)
			} else {
				endOff, err = readVarOffset(offBuf, offsetSize, cellStart+n, attrID)
				if err != nil {
					return false, err
				}
			}
			runLen := endOff - nativeOff0
			if runLen < 0 {
				return false, terrors.New(terrors.IoError, "attribute %d: negative value length at cell %d", attrID, cellStart)
			}

			if int64(len(dst.Offsets)-dst.OffsetsPos) < n*offsetSize || int64(len(dst.Data)-dst.DataPos) < runLen {
				return true, nil
			}

			for i := int64(0); i < n; i++ {
				o := nativeOff0
				if i != 0 {
					o, err = readVarOffset(offBuf, offsetSize, cellStart+i, attrID)
					if err != nil {
						return false, err
					}
				}
				binary.LittleEndian.PutUint64(dst.Offsets[dst.OffsetsPos+int(i)*int(offsetSize):], uint64(dst.DataPos+int(o-nativeOff0)))
			}
			dst.OffsetsPos += int(n * offsetSize)
			copy(dst.Data[dst.DataPos:], valBuf.Bytes[nativeOff0:endOff])
			dst.DataPos += int(runLen)

			domain.AdvanceCellSlab(state.Cursor, n, tile.Extent, layout)
			if state.Cursor.Done {
				state.TileIdx++
				state.Cursor = domain.NewCursor(len(tile.Extent))
				break
			}
		}
	}
	state.Done = true
	return false, nil
}

func readVarOffset(offBuf *array.ReadBuffer, offsetSize, cell int64, attrID int) (int64, error) {
	off := cell * offsetSize
	if off+offsetSize > int64(offBuf.Size) {
		return 0, terrors.New(terrors.IoError, "attribute %d: native offsets buffer underrun at cell %d", attrID, cell)
	}
	return int64(binary.LittleEndian.Uint64(offBuf.Bytes[off:])), nil
}
