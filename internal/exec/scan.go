package exec

import (
	"bytes"
	"context"
	"errors"

	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/metrics"
	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/storage"
	"github.com/relicdb/relic/internal/types"
)

// scanOp walks a table heap, applying the pushed-down predicate to each
// visible row before it leaves the operator.
type scanOp struct {
	pred plan.Expr
	it   *storage.RowIterator
	row  types.Row
	err  error
}

func (s *scanOp) Next(ctx context.Context) bool {
	if s.err != nil || canceled(ctx, "scan", &s.err) {
		return false
	}
	for s.it.Next() {
		metrics.RowsScanned.WithLabelValues("heap").Inc()
		row := s.it.Row()
		if plan.Keep(s.pred, row) {
			s.row = row
			return true
		}
	}
	s.err = relerr.NewQueryError("scan", s.it.Err())
	return false
}

func (s *scanOp) Row() types.Row { return s.row }
func (s *scanOp) Err() error     { return s.err }
func (s *scanOp) Close() error   { return nil }

// indexScanOp resolves index entries to rows in key order. The entry is a
// prefilter; the row is re-read under the snapshot and its key recomputed,
// so entries whose row was superseded under a different key, or pruned
// after the lookup pinned them, drop out here.
type indexScanOp struct {
	p    *plan.IndexScan
	snap types.Snapshot
	it   *index.Iterator
	row  types.Row
	err  error
}

func (s *indexScanOp) Next(ctx context.Context) bool {
	if s.err != nil || canceled(ctx, "index_scan", &s.err) {
		return false
	}
	for s.it.Next() {
		metrics.RowsScanned.WithLabelValues("index").Inc()
		row, _, ok, err := s.p.Table.Store.VisibleRow(s.it.Location(), s.snap)
		if err != nil {
			// A pruned slot means no version there was visible to us.
			if errors.Is(err, relerr.ErrLocationNotFound) {
				continue
			}
			s.err = relerr.NewQueryError("index_scan", err)
			return false
		}
		if !ok || !bytes.Equal(s.p.Index.KeyFor(row), s.it.Key()) {
			continue
		}
		if plan.Keep(s.p.Pred, row) {
			s.row = row
			return true
		}
	}
	return false
}

func (s *indexScanOp) Row() types.Row { return s.row }
func (s *indexScanOp) Err() error     { return s.err }
func (s *indexScanOp) Close() error   { return nil }
