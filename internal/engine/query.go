package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relicdb/relic/internal/exec"
	"github.com/relicdb/relic/internal/metrics"
	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/txn"
	"github.com/relicdb/relic/internal/types"
)

// QueryResult is a fully materialized result set. Fields describe the
// output columns in order; every row has one value per field.
type QueryResult struct {
	QueryID string
	Fields  []plan.Field
	Rows    []types.Row
}

// Query builds and runs the JSON plan in raw against tx's snapshot. A nil
// tx runs the query in a throwaway read transaction. The context is
// checked between rows, so a cancelled query stops without draining its
// inputs. Errors out of the pipeline carry the query id.
func (e *Engine) Query(ctx context.Context, tx *txn.Txn, raw []byte) (*QueryResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, relerr.ErrEngineClosed
	}
	if tx == nil {
		tx = e.mgr.Begin()
		defer e.mgr.Rollback(tx)
	}

	qid := uuid.NewString()
	start := time.Now()
	res, err := e.runQuery(ctx, tx, raw)
	elapsed := time.Since(start)
	metrics.QueryDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		if qe, ok := relerr.AsQueryError(err); ok {
			qe.QueryID = qid
		}
		e.log.Debug("Query %s failed after %s: %v", qid, elapsed, err)
		return nil, err
	}
	res.QueryID = qid
	metrics.QueriesTotal.WithLabelValues("ok").Inc()
	e.log.Debug("Query %s returned %d rows in %s", qid, len(res.Rows), elapsed)
	return res, nil
}

func (e *Engine) runQuery(ctx context.Context, tx *txn.Txn, raw []byte) (*QueryResult, error) {
	node, err := e.builder.Build(raw)
	if err != nil {
		return nil, err
	}
	op, err := exec.Build(node, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Collect(ctx, op)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Fields: node.Fields(), Rows: rows}, nil
}
