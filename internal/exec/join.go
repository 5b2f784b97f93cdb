package exec

import (
	"context"

	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// joinOp is a nested-loop join: the inner side materializes once, the
// outer side streams. A right join runs with the sides swapped so the
// preserved side always drives; output columns stay left-then-right
// either way. NULL keys never match anything, themselves included.
type joinOp struct {
	kind        plan.JoinKind
	outer       Operator
	inner       Operator
	outerIsLeft bool
	outerKey    int
	innerKey    int
	leftW       int
	rightW      int

	loaded    bool
	innerRows []types.Row
	cur       types.Row
	idx       int
	matched   bool
	row       types.Row
	err       error
}

func buildJoin(n *plan.Join, snap types.Snapshot) (Operator, error) {
	left, err := Build(n.Left, snap)
	if err != nil {
		return nil, err
	}
	right, err := Build(n.Right, snap)
	if err != nil {
		left.Close()
		return nil, err
	}
	j := &joinOp{kind: n.Kind, leftW: len(n.Left.Fields()), rightW: len(n.Right.Fields())}
	if n.Kind == plan.JoinRight {
		j.outer, j.inner = right, left
		j.outerKey, j.innerKey = n.RightCol, n.LeftCol
	} else {
		j.outer, j.inner = left, right
		j.outerIsLeft = true
		j.outerKey, j.innerKey = n.LeftCol, n.RightCol
	}
	return j, nil
}

func (j *joinOp) load(ctx context.Context) bool {
	for j.inner.Next(ctx) {
		j.innerRows = append(j.innerRows, j.inner.Row())
	}
	if err := j.inner.Err(); err != nil {
		j.err = relerr.NewQueryError("join", err)
		return false
	}
	j.inner.Close()
	j.loaded = true
	return true
}

func (j *joinOp) Next(ctx context.Context) bool {
	if j.err != nil || canceled(ctx, "join", &j.err) {
		return false
	}
	if !j.loaded && !j.load(ctx) {
		return false
	}
	for {
		if j.cur == nil {
			if !j.outer.Next(ctx) {
				j.err = relerr.NewQueryError("join", j.outer.Err())
				return false
			}
			j.cur = j.outer.Row()
			j.idx = 0
			j.matched = false
		}
		for j.idx < len(j.innerRows) {
			in := j.innerRows[j.idx]
			j.idx++
			if j.kind == plan.JoinCross || j.keysMatch(j.cur, in) {
				j.matched = true
				j.row = j.emit(j.cur, in)
				return true
			}
		}
		if !j.matched && (j.kind == plan.JoinLeft || j.kind == plan.JoinRight) {
			j.row = j.emitUnmatched(j.cur)
			j.cur = nil
			return true
		}
		j.cur = nil
	}
}

func (j *joinOp) keysMatch(outer, inner types.Row) bool {
	c, ok := types.Compare(outer[j.outerKey], inner[j.innerKey])
	return ok && c == 0
}

func (j *joinOp) emit(outer, inner types.Row) types.Row {
	left, right := outer, inner
	if !j.outerIsLeft {
		left, right = inner, outer
	}
	out := make(types.Row, 0, len(left)+len(right))
	out = append(out, left...)
	return append(out, right...)
}

func (j *joinOp) emitUnmatched(outer types.Row) types.Row {
	if j.outerIsLeft {
		return j.emit(outer, types.NullRow(j.rightW))
	}
	return j.emit(outer, types.NullRow(j.leftW))
}

func (j *joinOp) Row() types.Row { return j.row }
func (j *joinOp) Err() error     { return j.err }

func (j *joinOp) Close() error {
	j.innerRows = nil
	err := j.outer.Close()
	if ierr := j.inner.Close(); err == nil {
		err = ierr
	}
	return err
}
