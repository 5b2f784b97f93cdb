package exec

import (
	"context"
	"sort"

	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// sortOp materializes its whole input and stable-sorts it, so rows equal
// under every key keep their input order. NULL sorts before non-NULL on
// an ascending key.
type sortOp struct {
	keys  []plan.SortKey
	child Operator

	built bool
	rows  []types.Row
	pos   int
	row   types.Row
	err   error
}

func (s *sortOp) build(ctx context.Context) bool {
	for s.child.Next(ctx) {
		s.rows = append(s.rows, s.child.Row())
	}
	if err := s.child.Err(); err != nil {
		s.rows = nil
		s.err = relerr.NewQueryError("sort", err)
		return false
	}
	sort.SliceStable(s.rows, func(i, j int) bool {
		a, b := s.rows[i], s.rows[j]
		for _, k := range s.keys {
			c := types.SortCompare(a[k.Col], b[k.Col])
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	s.built = true
	return true
}

func (s *sortOp) Next(ctx context.Context) bool {
	if s.err != nil || canceled(ctx, "sort", &s.err) {
		return false
	}
	if !s.built && !s.build(ctx) {
		return false
	}
	if s.pos >= len(s.rows) {
		return false
	}
	s.row = s.rows[s.pos]
	s.pos++
	return true
}

func (s *sortOp) Row() types.Row { return s.row }
func (s *sortOp) Err() error     { return s.err }

func (s *sortOp) Close() error {
	s.rows = nil
	return s.child.Close()
}

// limitOp skips offset rows, then yields at most count. Once the count is
// reached it stops pulling its child entirely. A negative count means no
// cap.
type limitOp struct {
	child  Operator
	offset int64
	count  int64

	skipped int64
	yielded int64
	done    bool
	row     types.Row
	err     error
}

func (l *limitOp) Next(ctx context.Context) bool {
	if l.err != nil || l.done || canceled(ctx, "limit", &l.err) {
		return false
	}
	if l.count >= 0 && l.yielded >= l.count {
		l.done = true
		return false
	}
	for l.skipped < l.offset {
		if !l.child.Next(ctx) {
			l.err = relerr.NewQueryError("limit", l.child.Err())
			l.done = true
			return false
		}
		l.skipped++
	}
	if !l.child.Next(ctx) {
		l.err = relerr.NewQueryError("limit", l.child.Err())
		l.done = true
		return false
	}
	l.row = l.child.Row()
	l.yielded++
	return true
}

func (l *limitOp) Row() types.Row { return l.row }
func (l *limitOp) Err() error     { return l.err }
func (l *limitOp) Close() error   { return l.child.Close() }
