package exec

import (
	"context"

	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// aggOp groups and accumulates in one pass over its input, holding one
// accumulator set per group rather than the group's rows. Output rows
// come out in first-seen group order. With no group columns the whole
// input is one group, and that group exists even for empty input.
type aggOp struct {
	p     *plan.Aggregate
	child Operator

	built bool
	out   []types.Row
	pos   int
	row   types.Row
	err   error
}

type groupState struct {
	key  types.Row
	accs []accumulator
}

func (a *aggOp) build(ctx context.Context) bool {
	seen := make(map[string]*groupState)
	var order []*groupState

	for a.child.Next(ctx) {
		row := a.child.Row()
		key := make(types.Row, len(a.p.GroupBy))
		for i, pos := range a.p.GroupBy {
			key[i] = row[pos]
		}
		// The memcomparable key encoding doubles as the group hash key;
		// NULL groups with NULL here, unlike in comparisons.
		k := string(index.EncodeKey(key))
		st, ok := seen[k]
		if !ok {
			st = &groupState{key: key, accs: newAccumulators(a.p.Aggs)}
			seen[k] = st
			order = append(order, st)
		}
		for _, acc := range st.accs {
			acc.add(row)
		}
	}
	if err := a.child.Err(); err != nil {
		a.err = relerr.NewQueryError("aggregate", err)
		return false
	}
	if len(a.p.GroupBy) == 0 && len(order) == 0 {
		order = append(order, &groupState{accs: newAccumulators(a.p.Aggs)})
	}

	a.out = make([]types.Row, len(order))
	for i, st := range order {
		row := make(types.Row, 0, len(st.key)+len(st.accs))
		row = append(row, st.key...)
		for _, acc := range st.accs {
			row = append(row, acc.final())
		}
		a.out[i] = row
	}
	a.built = true
	return true
}

func (a *aggOp) Next(ctx context.Context) bool {
	if a.err != nil || canceled(ctx, "aggregate", &a.err) {
		return false
	}
	if !a.built && !a.build(ctx) {
		return false
	}
	if a.pos >= len(a.out) {
		return false
	}
	a.row = a.out[a.pos]
	a.pos++
	return true
}

func (a *aggOp) Row() types.Row { return a.row }
func (a *aggOp) Err() error     { return a.err }

func (a *aggOp) Close() error {
	a.out = nil
	return a.child.Close()
}

// accumulator folds one aggregate over a group's rows.
type accumulator interface {
	add(row types.Row)
	final() types.Value
}

func newAccumulators(specs []plan.AggSpec) []accumulator {
	accs := make([]accumulator, len(specs))
	for i, spec := range specs {
		switch spec.Fn {
		case plan.AggCount:
			accs[i] = &countAcc{col: spec.Col}
		case plan.AggSum:
			accs[i] = &sumAcc{col: spec.Col, kind: spec.Kind}
		case plan.AggMin:
			accs[i] = &minMaxAcc{col: spec.Col}
		case plan.AggMax:
			accs[i] = &minMaxAcc{col: spec.Col, max: true}
		default:
			accs[i] = &avgAcc{col: spec.Col}
		}
	}
	return accs
}

// countAcc counts rows when col is -1, non-NULL values otherwise.
type countAcc struct {
	col int
	n   int64
}

func (a *countAcc) add(row types.Row) {
	if a.col < 0 || !row[a.col].IsNull() {
		a.n++
	}
}

func (a *countAcc) final() types.Value { return types.NewInt(a.n) }

// sumAcc keeps the column's own kind: int columns sum as int, float as
// float. NULLs do not contribute; an all-NULL group sums to NULL.
type sumAcc struct {
	col  int
	kind types.Kind
	i    int64
	f    float64
	any  bool
}

func (a *sumAcc) add(row types.Row) {
	v := row[a.col]
	if v.IsNull() {
		return
	}
	a.any = true
	if a.kind == types.KindInt {
		a.i += v.Int
	} else {
		a.f += v.Float
	}
}

func (a *sumAcc) final() types.Value {
	if !a.any {
		return types.Value{}
	}
	if a.kind == types.KindInt {
		return types.NewInt(a.i)
	}
	return types.NewFloat(a.f)
}

type minMaxAcc struct {
	col int
	max bool
	cur types.Value
	any bool
}

func (a *minMaxAcc) add(row types.Row) {
	v := row[a.col]
	if v.IsNull() {
		return
	}
	if !a.any {
		a.cur, a.any = v, true
		return
	}
	if c, ok := types.Compare(v, a.cur); ok && ((a.max && c > 0) || (!a.max && c < 0)) {
		a.cur = v
	}
}

func (a *minMaxAcc) final() types.Value {
	if !a.any {
		return types.Value{}
	}
	return a.cur
}

// avgAcc is sum and count folded together, divided at finalize.
type avgAcc struct {
	col int
	sum float64
	n   int64
}

func (a *avgAcc) add(row types.Row) {
	v := row[a.col]
	if v.IsNull() {
		return
	}
	if v.Kind == types.KindInt {
		a.sum += float64(v.Int)
	} else {
		a.sum += v.Float
	}
	a.n++
}

func (a *avgAcc) final() types.Value {
	if a.n == 0 {
		return types.Value{}
	}
	return types.NewFloat(a.sum / float64(a.n))
}
