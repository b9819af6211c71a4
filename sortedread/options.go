package sortedread

import (
	"github.com/tiledb-go/tiledb/expr"
	"github.com/tiledb-go/tiledb/internal/base"
)

// defaultVarValueBudgetPerCell bounds how many bytes per cell are
// preallocated for a variable attribute's native-order values buffer,
// since the exact total cannot be known before a read completes (see
// internal/reader.Reader's doc comment).
const defaultVarValueBudgetPerCell = 128

// computedAttr binds a computed attribute to the single source
// attribute whose freshly-copied cells drive it (see
// WithComputedAttribute's doc comment for why this wiring is
// single-source only).
type computedAttr struct {
	kind    base.Kind
	source  int
	varName string
	graph   *expr.Graph
}

type options struct {
	logger                base.Logger
	varValueBudgetPerCell int64
	computed              map[int]computedAttr
}

func defaultOptions() *options {
	return &options{
		logger:                base.NopLogger(),
		varValueBudgetPerCell: defaultVarValueBudgetPerCell,
		computed:              map[int]computedAttr{},
	}
}

// Option configures a Session at construction, following the functional
// options style go.uber.org/zap uses for its own Logger construction
// (zap.Option), rather than a mutable options struct passed by value.
type Option func(*options)

// WithLogger overrides the session's logger. The default is a no-op
// logger; pass base.DefaultLogger() for zap-backed structured logging.
func WithLogger(l base.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVarValueBudgetPerCell overrides how many bytes per cell are
// preallocated for a variable attribute's native-order values buffer.
func WithVarValueBudgetPerCell(n int64) Option {
	return func(o *options) { o.varValueBudgetPerCell = n }
}

// WithComputedAttribute wires graph as attrID's value, driven by source
// attribute's freshly-copied cells: on every Read call, immediately
// after source's ordinary fixed-attribute copy step for that cell range
// completes, the Session decodes the just-written bytes into a float64
// column, binds it to varName, evaluates graph, and encodes the result
// as attrID's output, wiring the Expression DAG Evaluator in as a
// computed/derived attribute rather than only as a query's filter or
// select-list expression.
//
// This wiring is intentionally single-source: attrID and source must
// both be fixed (non-variable) attributes of the same cell-count
// progress, since attrID's caller-supplied buffer is sized in lockstep
// with source's — a graph needing more than one array-backed input
// column is still fully expressible with expr.Graph directly (see the
// expr package's own tests), just not through this convenience option.
func WithComputedAttribute(attrID int, kind base.Kind, source int, varName string, graph *expr.Graph) Option {
	return func(o *options) {
		o.computed[attrID] = computedAttr{kind: kind, source: source, varName: varName, graph: graph}
	}
}
