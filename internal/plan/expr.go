package plan

import (
	"github.com/relicdb/relic/internal/types"
)

// Expr is a resolved predicate over a row. Evaluation is three-valued:
// a comparison touching NULL is unknown, and only rows where the whole
// expression is true pass a filter.
type Expr interface {
	expr()
}

type And struct{ Kids []Expr }

func (*And) expr() {}

type Or struct{ Kids []Expr }

func (*Or) expr() {}

type Not struct{ Kid Expr }

func (*Not) expr() {}

type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

func (op CmpOp) String() string {
	switch op {
	case CmpEq:
		return "eq"
	case CmpNe:
		return "ne"
	case CmpLt:
		return "lt"
	case CmpLe:
		return "le"
	case CmpGt:
		return "gt"
	case CmpGe:
		return "ge"
	default:
		return "cmp(?)"
	}
}

// Cmp compares the column at Col against either a literal or another
// column.
type Cmp struct {
	Op       CmpOp
	Col      int
	RhsCol   int
	RhsIsCol bool
	Lit      types.Value
}

func (*Cmp) expr() {}

type tri int8

const (
	triFalse tri = iota
	triTrue
	triUnknown
)

// Keep reports whether row passes e. A nil expression passes everything.
func Keep(e Expr, row types.Row) bool {
	if e == nil {
		return true
	}
	return eval(e, row) == triTrue
}

func eval(e Expr, row types.Row) tri {
	switch x := e.(type) {
	case *And:
		out := triTrue
		for _, kid := range x.Kids {
			switch eval(kid, row) {
			case triFalse:
				return triFalse
			case triUnknown:
				out = triUnknown
			}
		}
		return out
	case *Or:
		out := triFalse
		for _, kid := range x.Kids {
			switch eval(kid, row) {
			case triTrue:
				return triTrue
			case triUnknown:
				out = triUnknown
			}
		}
		return out
	case *Not:
		switch eval(x.Kid, row) {
		case triTrue:
			return triFalse
		case triFalse:
			return triTrue
		default:
			return triUnknown
		}
	case *Cmp:
		return evalCmp(x, row)
	default:
		return triUnknown
	}
}

func evalCmp(c *Cmp, row types.Row) tri {
	lhs := row[c.Col]
	rhs := c.Lit
	if c.RhsIsCol {
		rhs = row[c.RhsCol]
	}
	cmp, ok := types.Compare(lhs, rhs)
	if !ok {
		return triUnknown
	}
	var hold bool
	switch c.Op {
	case CmpEq:
		hold = cmp == 0
	case CmpNe:
		hold = cmp != 0
	case CmpLt:
		hold = cmp < 0
	case CmpLe:
		hold = cmp <= 0
	case CmpGt:
		hold = cmp > 0
	case CmpGe:
		hold = cmp >= 0
	}
	if hold {
		return triTrue
	}
	return triFalse
}
