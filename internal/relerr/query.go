package relerr

import (
	"errors"
	"fmt"
)

// QueryError wraps a failure inside an operator pipeline. The query is
// aborted as a whole; callers never receive partial results alongside one.
type QueryError struct {
	Op      string // operator that failed: scan, filter, join, ...
	QueryID string // id assigned when the query started, empty if none
	Err     error
}

func (e *QueryError) Error() string {
	if e.QueryID != "" {
		return fmt.Sprintf("query %s: %s: %v", e.QueryID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError tags err with the operator it failed in. Already-tagged
// errors pass through so the innermost operator wins.
func NewQueryError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*QueryError); ok {
		return err
	}
	return &QueryError{Op: op, Err: err}
}

// AsQueryError unwraps err to the QueryError in its chain, if any.
func AsQueryError(err error) (*QueryError, bool) {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
