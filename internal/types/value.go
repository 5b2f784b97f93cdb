package types

import (
	"fmt"
	"strconv"
)

// Kind identifies the runtime type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// KindFromString parses a column type name as written in schemas.
func KindFromString(s string) (Kind, bool) {
	switch s {
	case "bool":
		return KindBool, true
	case "int":
		return KindInt, true
	case "float":
		return KindFloat, true
	case "string":
		return KindString, true
	default:
		return KindNull, false
	}
}

// Value is a single column value. The Kind tag selects which field is set;
// the zero Value is NULL.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
}

func Null() Value                 { return Value{} }
func NewBool(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func NewInt(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func NewFloat(f float64) Value    { return Value{Kind: KindFloat, Float: f} }
func NewString(s string) Value    { return Value{Kind: KindString, Str: s} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Native returns the value as a plain Go value (nil for NULL). Used when
// handing rows to expression evaluators and encoders that work on
// interface{} values.
func (v Value) Native() interface{} {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return v.Str
	default:
		return "?"
	}
}

// Compare orders two non-NULL values. The second result is false when the
// pair is not comparable: either side is NULL, or the kinds differ and are
// not both numeric. Int and Float compare numerically.
func Compare(a, b Value) (int, bool) {
	if a.Kind == KindNull || b.Kind == KindNull {
		return 0, false
	}
	switch {
	case a.Kind == b.Kind:
		switch a.Kind {
		case KindBool:
			return boolCmp(a.Bool, b.Bool), true
		case KindInt:
			return intCmp(a.Int, b.Int), true
		case KindFloat:
			return floatCmp(a.Float, b.Float), true
		case KindString:
			switch {
			case a.Str < b.Str:
				return -1, true
			case a.Str > b.Str:
				return 1, true
			}
			return 0, true
		}
	case a.Kind == KindInt && b.Kind == KindFloat:
		return floatCmp(float64(a.Int), b.Float), true
	case a.Kind == KindFloat && b.Kind == KindInt:
		return floatCmp(a.Float, float64(b.Int)), true
	}
	return 0, false
}

// SortCompare is the total order used by ORDER BY: NULL sorts before every
// non-NULL value, incomparable kinds fall back to Kind order so sorting is
// always well defined.
func SortCompare(a, b Value) int {
	if a.Kind == KindNull || b.Kind == KindNull {
		return boolCmp(b.Kind == KindNull, a.Kind == KindNull)
	}
	if c, ok := Compare(a, b); ok {
		return c
	}
	return intCmp(int64(a.Kind), int64(b.Kind))
}

// Equal reports strict equality, with NULL equal to NULL. Grouping uses
// this; filter and join comparisons go through Compare, where NULL never
// matches.
func Equal(a, b Value) bool {
	if a.Kind == KindNull && b.Kind == KindNull {
		return true
	}
	c, ok := Compare(a, b)
	return ok && c == 0
}

func boolCmp(a, b bool) int {
	switch {
	case a == b:
		return 0
	case b:
		return -1
	}
	return 1
}

func intCmp(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func floatCmp(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
