package schema

import (
	"fmt"

	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// Column is one column definition.
type Column struct {
	Name string     `json:"name"`
	Type types.Kind `json:"type"`
	// NotNull rejects NULL after defaults are applied.
	NotNull bool `json:"not_null,omitempty"`
	// Default fills a missing (NULL) value on insert.
	Default *types.Value `json:"default,omitempty"`
	// Check is a CEL expression over column names that must not evaluate
	// to false for any row. Empty means no constraint.
	Check string `json:"check,omitempty"`
}

// Table is a table definition. Definitions are immutable once created;
// DDL replaces whole tables rather than altering them.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// ColumnIndex resolves a column name to its position.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

// ColumnNames returns the names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks the definition itself: names, types, defaults.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: empty table name", relerr.ErrBadSchema)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: table %s has no columns", relerr.ErrBadSchema, t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("%w: table %s has an unnamed column", relerr.ErrBadSchema, t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate column %s", relerr.ErrBadSchema, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case types.KindBool, types.KindInt, types.KindFloat, types.KindString:
		default:
			return fmt.Errorf("%w: column %s has invalid type", relerr.ErrBadSchema, c.Name)
		}
		if c.Default != nil && !c.Default.IsNull() {
			if !kindFits(c.Default.Kind, c.Type) {
				return fmt.Errorf("%w: default for column %s is %s, column is %s",
					relerr.ErrBadSchema, c.Name, c.Default.Kind, c.Type)
			}
		}
		if c.Default != nil && c.Default.IsNull() && c.NotNull {
			return fmt.Errorf("%w: column %s is NOT NULL with NULL default", relerr.ErrBadSchema, c.Name)
		}
	}
	return nil
}

// NormalizeRow applies defaults, then enforces arity, NOT NULL and column
// types. Returns a fresh row; the input is not modified. Int values are
// widened into float columns, nothing else coerces.
func (t *Table) NormalizeRow(row types.Row) (types.Row, error) {
	if len(row) != len(t.Columns) {
		return nil, fmt.Errorf("%w: table %s wants %d values, got %d",
			relerr.ErrColumnCount, t.Name, len(t.Columns), len(row))
	}
	out := row.Clone()
	for i, c := range t.Columns {
		if out[i].IsNull() && c.Default != nil {
			out[i] = *c.Default
		}
		if out[i].IsNull() {
			if c.NotNull {
				return nil, fmt.Errorf("%w: column %s", relerr.ErrNotNullViolation, c.Name)
			}
			continue
		}
		if out[i].Kind == types.KindInt && c.Type == types.KindFloat {
			out[i] = types.NewFloat(float64(out[i].Int))
		}
		if out[i].Kind != c.Type {
			return nil, fmt.Errorf("%w: column %s wants %s, got %s",
				relerr.ErrTypeMismatch, c.Name, c.Type, out[i].Kind)
		}
	}
	return out, nil
}

// RowContext maps column names to native values for CHECK evaluation.
func (t *Table) RowContext(row types.Row) map[string]interface{} {
	ctx := make(map[string]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		if i < len(row) {
			ctx[c.Name] = row[i].Native()
		} else {
			ctx[c.Name] = nil
		}
	}
	return ctx
}

func kindFits(v, col types.Kind) bool {
	if v == col {
		return true
	}
	return v == types.KindInt && col == types.KindFloat
}
