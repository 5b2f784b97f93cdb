package exec

import (
	"context"

	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

type filterOp struct {
	child Operator
	pred  plan.Expr
	row   types.Row
	err   error
}

func (f *filterOp) Next(ctx context.Context) bool {
	if f.err != nil || canceled(ctx, "filter", &f.err) {
		return false
	}
	for f.child.Next(ctx) {
		if plan.Keep(f.pred, f.child.Row()) {
			f.row = f.child.Row()
			return true
		}
	}
	f.err = relerr.NewQueryError("filter", f.child.Err())
	return false
}

func (f *filterOp) Row() types.Row { return f.row }
func (f *filterOp) Err() error     { return f.err }
func (f *filterOp) Close() error   { return f.child.Close() }

type projectOp struct {
	child Operator
	keep  []int
	row   types.Row
	err   error
}

func (p *projectOp) Next(ctx context.Context) bool {
	if p.err != nil || canceled(ctx, "project", &p.err) {
		return false
	}
	if !p.child.Next(ctx) {
		p.err = relerr.NewQueryError("project", p.child.Err())
		return false
	}
	in := p.child.Row()
	out := make(types.Row, len(p.keep))
	for i, pos := range p.keep {
		out[i] = in[pos]
	}
	p.row = out
	return true
}

func (p *projectOp) Row() types.Row { return p.row }
func (p *projectOp) Err() error     { return p.err }
func (p *projectOp) Close() error   { return p.child.Close() }
