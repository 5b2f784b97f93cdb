package types

// Row is one tuple, positional against its table or operator schema.
type Row []Value

// Clone returns an independent copy. Operators that buffer rows clone them
// so later pulls cannot alias the same backing array.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Concat joins two rows into a fresh one, used by joins.
func Concat(left, right Row) Row {
	out := make(Row, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}

// NullRow returns a row of n NULLs, used for the null-filled side of outer
// joins.
func NullRow(n int) Row {
	return make(Row, n)
}
