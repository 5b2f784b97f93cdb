// Package exec runs logical plans as pull-based operator pipelines. Each
// operator pulls rows from its child on demand, so a limit near the top
// stops upstream work early; sort and aggregate are the materialization
// points. Cancellation is checked at every pull.
package exec

import (
	"context"
	"fmt"

	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// Operator is one stage of a running query. Next advances to the next
// output row, returning false at the end of input or on failure; Err
// distinguishes the two. Row is valid until the following Next. Close
// releases buffers and child operators and may be called more than once.
type Operator interface {
	Next(ctx context.Context) bool
	Row() types.Row
	Err() error
	Close() error
}

// Build wires a plan tree into its operator pipeline under snap.
func Build(node plan.Node, snap types.Snapshot) (Operator, error) {
	switch n := node.(type) {
	case *plan.Scan:
		return &scanOp{pred: n.Pred, it: n.Table.Store.Scan(snap)}, nil
	case *plan.IndexScan:
		rng := index.TupleRange(len(n.Index.Columns()), n.Low, n.High, n.LowInc, n.HighInc)
		return &indexScanOp{p: n, snap: snap, it: n.Index.Lookup(rng, snap)}, nil
	case *plan.Filter:
		child, err := Build(n.Input, snap)
		if err != nil {
			return nil, err
		}
		return &filterOp{child: child, pred: n.Pred}, nil
	case *plan.Project:
		child, err := Build(n.Input, snap)
		if err != nil {
			return nil, err
		}
		return &projectOp{child: child, keep: n.Keep}, nil
	case *plan.Join:
		return buildJoin(n, snap)
	case *plan.Aggregate:
		child, err := Build(n.Input, snap)
		if err != nil {
			return nil, err
		}
		return &aggOp{p: n, child: child}, nil
	case *plan.Sort:
		child, err := Build(n.Input, snap)
		if err != nil {
			return nil, err
		}
		return &sortOp{keys: n.Keys, child: child}, nil
	case *plan.Limit:
		child, err := Build(n.Input, snap)
		if err != nil {
			return nil, err
		}
		return &limitOp{child: child, offset: n.Offset, count: n.Count}, nil
	default:
		return nil, fmt.Errorf("%w: unknown plan node %T", relerr.ErrBadRequest, node)
	}
}

// Collect drains op and closes it. A failed query returns no rows at all.
func Collect(ctx context.Context, op Operator) ([]types.Row, error) {
	defer op.Close()
	var rows []types.Row
	for op.Next(ctx) {
		rows = append(rows, op.Row())
	}
	if err := op.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// canceled checks the context at a pull boundary, recording the
// cancellation as the operator's error.
func canceled(ctx context.Context, op string, errp *error) bool {
	select {
	case <-ctx.Done():
		if *errp == nil {
			*errp = relerr.NewQueryError(op, ctx.Err())
		}
		return true
	default:
		return false
	}
}
