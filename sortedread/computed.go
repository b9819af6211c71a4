package sortedread

import (
	"encoding/binary"
	"math"

	terrors "github.com/tiledb-go/tiledb/errors"
	"github.com/tiledb-go/tiledb/expr"
	"github.com/tiledb-go/tiledb/internal/base"
)

// kindSize returns the on-the-wire byte width of one cell of kind, the
// boundary at which a computed attribute's source bytes are decoded
// into expr's float64 evaluation column and its result re-encoded.
func kindSize(k base.Kind) int {
	switch k {
	case base.Int32, base.Float32:
		return 4
	case base.Int64, base.Float64:
		return 8
	default:
		return 0
	}
}

// decodeColumn coerces a raw fixed-attribute byte range into a float64
// column, dispatching once on k (a single runtime switch, not a
// specialization per type).
func decodeColumn(k base.Kind, data []byte) ([]float64, error) {
	sz := kindSize(k)
	if sz == 0 {
		return nil, terrors.New(terrors.InvalidArgument, "unsupported computed-attribute kind %v", k)
	}
	if len(data)%sz != 0 {
		return nil, terrors.New(terrors.InvalidArgument, "computed attribute source: %d bytes is not a multiple of %d", len(data), sz)
	}
	n := len(data) / sz
	switch k {
	case base.Int32:
		col := make([]int32, n)
		for i := 0; i < n; i++ {
			col[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return expr.ToFloat64(col), nil
	case base.Int64:
		col := make([]int64, n)
		for i := 0; i < n; i++ {
			col[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return expr.ToFloat64(col), nil
	case base.Float32:
		col := make([]float32, n)
		for i := 0; i < n; i++ {
			col[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return expr.ToFloat64(col), nil
	default: // base.Float64
		col := make([]float64, n)
		for i := 0; i < n; i++ {
			col[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return col, nil
	}
}

// encodeColumn writes vals into dst as kind k, returning an Overflow
// error if dst is too small.
func encodeColumn(k base.Kind, vals []float64, dst []byte) error {
	sz := kindSize(k)
	if sz == 0 {
		return terrors.New(terrors.InvalidArgument, "unsupported computed-attribute kind %v", k)
	}
	if len(dst) < len(vals)*sz {
		return terrors.New(terrors.Overflow, "computed attribute destination buffer too small: need %d, have %d", len(vals)*sz, len(dst))
	}
	switch k {
	case base.Int32:
		for i, v := range expr.FromFloat64[int32](vals) {
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(v))
		}
	case base.Int64:
		for i, v := range expr.FromFloat64[int64](vals) {
			binary.LittleEndian.PutUint64(dst[i*8:], uint64(v))
		}
	case base.Float32:
		for i, v := range expr.FromFloat64[float32](vals) {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
		}
	default: // base.Float64
		for i, v := range vals {
			binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(v))
		}
	}
	return nil
}
