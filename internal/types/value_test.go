package types

import "testing"

func TestCompareSameKind(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"int lt", NewInt(1), NewInt(2), -1},
		{"int eq", NewInt(7), NewInt(7), 0},
		{"int gt", NewInt(3), NewInt(-3), 1},
		{"float lt", NewFloat(1.5), NewFloat(2.5), -1},
		{"string lt", NewString("a"), NewString("b"), -1},
		{"string eq", NewString("x"), NewString("x"), 0},
		{"bool false lt true", NewBool(false), NewBool(true), -1},
	}
	for _, tt := range tests {
		got, ok := Compare(tt.a, tt.b)
		if !ok {
			t.Fatalf("%s: Compare not ok", tt.name)
		}
		if got != tt.want {
			t.Errorf("%s: want %d, got %d", tt.name, tt.want, got)
		}
	}
}

func TestCompareNumericCrossKind(t *testing.T) {
	got, ok := Compare(NewInt(2), NewFloat(2.5))
	if !ok || got != -1 {
		t.Fatalf("int vs float: want -1 ok, got %d %v", got, ok)
	}
	got, ok = Compare(NewFloat(3.0), NewInt(3))
	if !ok || got != 0 {
		t.Fatalf("float vs int: want 0 ok, got %d %v", got, ok)
	}
}

func TestCompareNullNotComparable(t *testing.T) {
	if _, ok := Compare(Null(), NewInt(1)); ok {
		t.Error("NULL vs int: want not comparable")
	}
	if _, ok := Compare(NewInt(1), Null()); ok {
		t.Error("int vs NULL: want not comparable")
	}
	if _, ok := Compare(Null(), Null()); ok {
		t.Error("NULL vs NULL: want not comparable")
	}
	if _, ok := Compare(NewBool(true), NewString("true")); ok {
		t.Error("bool vs string: want not comparable")
	}
}

func TestSortCompareNullsFirst(t *testing.T) {
	if got := SortCompare(Null(), NewInt(-100)); got != -1 {
		t.Errorf("NULL before int: want -1, got %d", got)
	}
	if got := SortCompare(NewString(""), Null()); got != 1 {
		t.Errorf("string after NULL: want 1, got %d", got)
	}
	if got := SortCompare(Null(), Null()); got != 0 {
		t.Errorf("NULL vs NULL: want 0, got %d", got)
	}
}

func TestEqual(t *testing.T) {
	if !Equal(Null(), Null()) {
		t.Error("Equal(NULL, NULL): want true for grouping")
	}
	if Equal(Null(), NewInt(0)) {
		t.Error("Equal(NULL, 0): want false")
	}
	if !Equal(NewInt(4), NewFloat(4)) {
		t.Error("Equal(4, 4.0): want true")
	}
	if Equal(NewString("a"), NewString("b")) {
		t.Error("Equal(a, b): want false")
	}
}

func TestRowClone(t *testing.T) {
	r := Row{NewInt(1), NewString("a")}
	c := r.Clone()
	c[0] = NewInt(9)
	if r[0].Int != 1 {
		t.Fatalf("clone aliases source: want 1, got %d", r[0].Int)
	}
}

func TestConcatAndNullRow(t *testing.T) {
	left := Row{NewInt(1)}
	right := Row{NewString("x"), NewBool(true)}
	got := Concat(left, right)
	if len(got) != 3 {
		t.Fatalf("concat length: want 3, got %d", len(got))
	}
	nr := NullRow(2)
	if !nr[0].IsNull() || !nr[1].IsNull() {
		t.Fatal("NullRow: want all NULL")
	}
}
