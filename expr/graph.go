// Package expr implements the Expression DAG Evaluator: an arena-based
// graph of Const, Var, and Op nodes, evaluated bottom-up over
// vectorized column inputs. Rather than compiling one specialized
// evaluator per numeric type, every node evaluates once in a common
// wide type (float64) and typed columns are coerced at the boundary
// (see coerce.go), letting one evaluator serve every coordinate type
// this module supports.
//
// The graph is a flat arena of nodes referencing earlier results by
// index rather than a pointer-linked AST, so cloning or discarding a
// subgraph is a slice operation instead of a pointer rewrite.
package expr

import (
	"fmt"
	"math"

	terrors "github.com/tiledb-go/tiledb/errors"
	"github.com/tiledb-go/tiledb/internal/base"
)

// NodeID indexes into a Graph's node arena.
type NodeID int32

// InvalidNodeID marks an absent operand (the unused rhs of a unary op)
// or an as-yet-unset root.
const InvalidNodeID NodeID = -1

// NodeKind tags which fields of a node are meaningful.
type NodeKind uint8

const (
	NodeConst NodeKind = iota
	NodeVar
	NodeOp
)

// Op identifies an operator a NodeOp node applies to its operand(s).
type Op uint8

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpAnd
	OpOr
	OpNot
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe
)

func (op Op) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpNeg:
		return "neg"
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	case OpNot:
		return "!"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

func isUnary(op Op) bool { return op == OpNeg || op == OpNot }

type node struct {
	kind     NodeKind
	constVal float64
	typ      base.Kind
	varName  string
	op       Op
	lhs, rhs NodeID
}

// Graph is an arena of expression nodes plus a root. Zero value is not
// usable; build one with Init.
type Graph struct {
	nodes     []node
	root      NodeID
	last      []float64
	lastType  base.Kind
	evaluated bool
}

// Init returns an empty graph with no root set.
func Init() *Graph {
	return &Graph{root: InvalidNodeID}
}

// Const appends a float64-typed constant node and returns its id. Use
// ConstTyped to declare a narrower or integer type, which matters for
// operators like OpMod whose legality is decided by operand type.
func (g *Graph) Const(v float64) NodeID {
	return g.ConstTyped(v, base.Float64)
}

// ConstTyped appends a constant node carrying an explicit declared
// type. The value is still stored and computed in float64 (see this
// package's doc comment on the common wide evaluation type); kind only
// affects type-rank coercion and operators that discriminate on type.
func (g *Graph) ConstTyped(v float64, kind base.Kind) NodeID {
	g.nodes = append(g.nodes, node{kind: NodeConst, constVal: v, typ: kind})
	return NodeID(len(g.nodes) - 1)
}

// Var appends a variable node bound to name at Eval time.
func (g *Graph) Var(name string) NodeID {
	g.nodes = append(g.nodes, node{kind: NodeVar, varName: name})
	return NodeID(len(g.nodes) - 1)
}

func (g *Graph) op(op Op, lhs, rhs NodeID) (NodeID, error) {
	if lhs == InvalidNodeID {
		return InvalidNodeID, terrors.New(terrors.InvalidArgument, "operator %v: missing left operand", op)
	}
	if isUnary(op) {
		if rhs != InvalidNodeID {
			return InvalidNodeID, terrors.New(terrors.InvalidOperator, "operator %v is unary, got two operands", op)
		}
	} else if rhs == InvalidNodeID {
		return InvalidNodeID, terrors.New(terrors.InvalidOperator, "operator %v is binary, got one operand", op)
	}
	g.nodes = append(g.nodes, node{kind: NodeOp, op: op, lhs: lhs, rhs: rhs})
	return NodeID(len(g.nodes) - 1), nil
}

// Neg appends a unary negation node.
func (g *Graph) Neg(x NodeID) (NodeID, error) { return g.op(OpNeg, x, InvalidNodeID) }

// Not appends a unary logical-not node.
func (g *Graph) Not(x NodeID) (NodeID, error) { return g.op(OpNot, x, InvalidNodeID) }

// Combine appends a binary op node over two ids already belonging to
// this graph.
func (g *Graph) Combine(op Op, lhs, rhs NodeID) (NodeID, error) { return g.op(op, lhs, rhs) }

// SetRoot marks id as the graph's evaluation root.
func (g *Graph) SetRoot(id NodeID) { g.root = id }

// Root returns the graph's current root, or InvalidNodeID if unset.
func (g *Graph) Root() NodeID { return g.root }

// Binary combines two independently-built graphs' expressions with op
// into a freshly allocated graph, cloning both inputs' reachable node
// ranges into the new arena rather than reusing their NodeIDs directly:
// a NodeID is only meaningful relative to the arena that produced it,
// so storing a "stolen" id from a's or b's arena alongside nodes
// freshly allocated in a third arena would silently corrupt every
// future traversal once that arena's own append calls move on past the
// slot the stolen id pointed at.
func Binary(op Op, a *Graph, aRoot NodeID, b *Graph, bRoot NodeID) (*Graph, NodeID, error) {
	g := &Graph{root: InvalidNodeID}
	newA := g.adopt(a, aRoot)
	newB := g.adopt(b, bRoot)
	id, err := g.op(op, newA, newB)
	if err != nil {
		return nil, InvalidNodeID, err
	}
	g.root = id
	return g, id, nil
}

// adopt clones the subtree rooted at id in src into g, returning the id
// of the clone within g's own arena.
func (g *Graph) adopt(src *Graph, id NodeID) NodeID {
	n := src.nodes[id]
	switch n.kind {
	case NodeConst:
		return g.ConstTyped(n.constVal, n.typ)
	case NodeVar:
		return g.Var(n.varName)
	default: // NodeOp
		lhs := g.adopt(src, n.lhs)
		rhs := InvalidNodeID
		if n.rhs != InvalidNodeID {
			rhs = g.adopt(src, n.rhs)
		}
		id, _ := g.op(n.op, lhs, rhs) // already validated when src built it
		return id
	}
}

// Values binds a variable name to a column of values for one Eval call.
// Every bound column must have the same length.
type Values map[string][]float64

// Types binds a variable name to its declared type for one Eval or
// Purge call, running in parallel with Values/the fold-value map the
// way spec's types[] array runs parallel to values[] indexed by
// variable id. A variable absent from Types defaults to Float64.
type Types map[string]base.Kind

func (t Types) lookup(name string) base.Kind {
	if k, ok := t[name]; ok {
		return k
	}
	return base.Float64
}

// evalResult is one node's memoized value column plus its coerced
// result type — spec's "cached_type"/"cached_value" pair, kept
// alongside each other so a parent Op's rank computation never has to
// re-derive a child's type from scratch.
type evalResult struct {
	vals []float64
	typ  base.Kind
}

// Eval evaluates the graph over vals (coerced per types), memoizing
// each node's result so a node reachable from the root along more than
// one path is computed once.
func (g *Graph) Eval(vals Values, types Types) ([]float64, error) {
	if g.root == InvalidNodeID {
		return nil, terrors.New(terrors.InvalidArgument, "graph has no root set")
	}
	n := 0
	for _, col := range vals {
		n = len(col)
		break
	}
	for name, col := range vals {
		if len(col) != n {
			return nil, terrors.New(terrors.InvalidArgument, "column %q length %d does not match column length %d", name, len(col), n)
		}
	}
	memo := make(map[NodeID]evalResult, len(g.nodes))
	res, err := g.eval(g.root, vals, types, n, memo)
	if err != nil {
		g.evaluated = false
		return nil, err
	}
	g.last = res.vals
	g.lastType = res.typ
	g.evaluated = true
	return res.vals, nil
}

func (g *Graph) eval(id NodeID, vals Values, types Types, n int, memo map[NodeID]evalResult) (evalResult, error) {
	if out, ok := memo[id]; ok {
		return out, nil
	}
	nd := g.nodes[id]
	var res evalResult
	switch nd.kind {
	case NodeConst:
		out := make([]float64, n)
		for i := range out {
			out[i] = nd.constVal
		}
		res = evalResult{vals: out, typ: nd.typ}
	case NodeVar:
		col, ok := vals[nd.varName]
		if !ok {
			return evalResult{}, terrors.New(terrors.InvalidArgument, "unbound variable %q", nd.varName)
		}
		res = evalResult{vals: col, typ: types.lookup(nd.varName)}
	default: // NodeOp
		lhs, err := g.eval(nd.lhs, vals, types, n, memo)
		if err != nil {
			return evalResult{}, err
		}
		rhsTyp := lhs.typ
		var rhsVals []float64
		if nd.rhs != InvalidNodeID {
			rhs, err := g.eval(nd.rhs, vals, types, n, memo)
			if err != nil {
				return evalResult{}, err
			}
			rhsVals = rhs.vals
			rhsTyp = rhs.typ
		}
		t := base.MaxRank(lhs.typ, rhsTyp)
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			var r float64
			if rhsVals != nil {
				r = rhsVals[i]
			}
			v, err := applyOp(nd.op, lhs.vals[i], r, t)
			if err != nil {
				return evalResult{}, err
			}
			out[i] = v
		}
		res = evalResult{vals: out, typ: t}
	}
	memo[id] = res
	return res, nil
}

// Value returns the result of the most recent successful Eval call, or
// a NotEvaluated error if Eval has not yet run.
func (g *Graph) Value() ([]float64, error) {
	if !g.evaluated {
		return nil, terrors.New(terrors.NotEvaluated, "graph has not been evaluated")
	}
	return g.last, nil
}

// Type returns the root's coerced result type from the most recent
// successful Eval call, or a NotEvaluated error if Eval has not yet
// run.
func (g *Graph) Type() (base.Kind, error) {
	if !g.evaluated {
		return 0, terrors.New(terrors.NotEvaluated, "graph has not been evaluated")
	}
	return g.lastType, nil
}

// Purge performs partial evaluation: it returns a new graph equivalent
// to g under any assignment consistent with values, folding every
// subtree whose free variables are either literal constants or present
// in values into a single Const node. names is the full set of
// variables g's caller commits to eventually supplying (whether now,
// via values, or later via Eval) — a Var outside names is rejected here
// rather than left to fail on some future Eval call. types supplies the
// declared type of any name in values, for rank coercion during
// folding (see Types' doc comment); a name absent from types defaults
// to Float64. Because the result is built into a fresh arena containing
// only nodes actually reachable from the root, purging also drops any
// dead nodes left behind by earlier edits to g — the arena comes out
// dense, and every purged variable disappears from it entirely.
func (g *Graph) Purge(names map[string]bool, values map[string]float64, types Types) (*Graph, error) {
	if g.root == InvalidNodeID {
		return nil, terrors.New(terrors.InvalidArgument, "graph has no root set")
	}
	out := &Graph{root: InvalidNodeID}
	memo := make(map[NodeID]NodeID, len(g.nodes))
	newRoot, err := g.purge(g.root, names, values, types, out, memo)
	if err != nil {
		return nil, err
	}
	out.root = newRoot
	return out, nil
}

func (g *Graph) purge(id NodeID, names map[string]bool, values map[string]float64, types Types, out *Graph, memo map[NodeID]NodeID) (NodeID, error) {
	if nid, ok := memo[id]; ok {
		return nid, nil
	}
	n := g.nodes[id]
	var result NodeID
	switch n.kind {
	case NodeConst:
		result = out.ConstTyped(n.constVal, n.typ)
	case NodeVar:
		if v, ok := values[n.varName]; ok {
			result = out.ConstTyped(v, types.lookup(n.varName))
		} else if names[n.varName] {
			result = out.Var(n.varName)
		} else {
			return InvalidNodeID, terrors.New(terrors.InvalidArgument, "unbound variable %q", n.varName)
		}
	default: // NodeOp
		lhs, err := g.purge(n.lhs, names, values, types, out, memo)
		if err != nil {
			return InvalidNodeID, err
		}
		rhs := InvalidNodeID
		if n.rhs != InvalidNodeID {
			rhs, err = g.purge(n.rhs, names, values, types, out, memo)
			if err != nil {
				return InvalidNodeID, err
			}
		}
		lhsConst := out.nodes[lhs].kind == NodeConst
		rhsConst := rhs == InvalidNodeID || out.nodes[rhs].kind == NodeConst
		if lhsConst && rhsConst {
			l := out.nodes[lhs].constVal
			lt := out.nodes[lhs].typ
			r, rt := 0.0, lt
			if rhs != InvalidNodeID {
				r = out.nodes[rhs].constVal
				rt = out.nodes[rhs].typ
			}
			t := base.MaxRank(lt, rt)
			v, err := applyOp(n.op, l, r, t)
			if err != nil {
				return InvalidNodeID, err
			}
			result = out.ConstTyped(v, t)
		} else {
			result, err = out.op(n.op, lhs, rhs)
			if err != nil {
				return InvalidNodeID, err
			}
		}
	}
	memo[id] = result
	return result, nil
}

// applyOp evaluates op over l, r once both have been coerced to the
// common type typ. Only typ decides whether an operator is legal for
// these operands — for OpMod that means the check runs against the
// operands' declared type, not against whether their current values
// happen to be integral: an int32 or int64 operand permits %, a
// float32 or float64 operand never does, regardless of value.
func applyOp(op Op, l, r float64, typ base.Kind) (float64, error) {
	switch op {
	case OpAdd:
		return l + r, nil
	case OpSub:
		return l - r, nil
	case OpMul:
		return l * r, nil
	case OpDiv:
		if r == 0 {
			return 0, terrors.New(terrors.InvalidOperator, "division by zero")
		}
		return l / r, nil
	case OpMod:
		if typ == base.Float32 || typ == base.Float64 {
			return 0, terrors.New(terrors.InvalidOperator, "%% is not permitted for float operands (type %v)", typ)
		}
		if r == 0 {
			return 0, terrors.New(terrors.InvalidOperator, "modulo by zero")
		}
		return math.Mod(l, r), nil
	case OpNeg:
		return -l, nil
	case OpNot:
		return boolFloat(l == 0), nil
	case OpAnd:
		return boolFloat(l != 0 && r != 0), nil
	case OpOr:
		return boolFloat(l != 0 || r != 0), nil
	case OpLt:
		return boolFloat(l < r), nil
	case OpLe:
		return boolFloat(l <= r), nil
	case OpGt:
		return boolFloat(l > r), nil
	case OpGe:
		return boolFloat(l >= r), nil
	case OpEq:
		return boolFloat(l == r), nil
	case OpNe:
		return boolFloat(l != r), nil
	default:
		return 0, terrors.New(terrors.InvalidOperator, "unknown operator %v", op)
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
