package expr

import "golang.org/x/exp/constraints"

// Numeric is the numeric constraint expr's typed boundary accepts: every
// integer and floating-point type, a superset of the four types
// base.Coord covers.
//
// This is where heterogeneous numeric column types are coerced to a
// common type before an operator ever runs; the common type is always
// float64 (see graph.go's doc comment on why the DAG itself is not
// generic).
type Numeric interface {
	constraints.Integer | constraints.Float
}

// ToFloat64 coerces a typed numeric column into the graph's evaluation
// type.
func ToFloat64[T Numeric](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// FromFloat64 coerces the graph's evaluation type back into T,
// truncating for integer T the same way a Go conversion would.
func FromFloat64[T Numeric](in []float64) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = T(v)
	}
	return out
}
