package schema

import (
	"errors"
	"testing"

	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

func checkedTable() *Table {
	return &Table{
		Name: "accounts",
		Columns: []Column{
			{Name: "id", Type: types.KindInt, NotNull: true},
			{Name: "balance", Type: types.KindInt, Check: "balance >= 0"},
			{Name: "tier", Type: types.KindString, Check: `tier == "free" || tier == "paid"`},
		},
	}
}

func TestCheckRowPassesAndFails(t *testing.T) {
	tbl := checkedTable()
	ck, err := NewChecker(tbl)
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}

	ok := types.Row{types.NewInt(1), types.NewInt(10), types.NewString("free")}
	if err := ck.CheckRow(tbl, tbl.RowContext(ok)); err != nil {
		t.Fatalf("valid row: %v", err)
	}

	bad := types.Row{types.NewInt(1), types.NewInt(-5), types.NewString("free")}
	err = ck.CheckRow(tbl, tbl.RowContext(bad))
	if !errors.Is(err, relerr.ErrCheckViolation) {
		t.Fatalf("negative balance: want ErrCheckViolation, got %v", err)
	}

	badTier := types.Row{types.NewInt(1), types.NewInt(5), types.NewString("gold")}
	err = ck.CheckRow(tbl, tbl.RowContext(badTier))
	if !errors.Is(err, relerr.ErrCheckViolation) {
		t.Fatalf("bad tier: want ErrCheckViolation, got %v", err)
	}
}

func TestCheckNullOperandPasses(t *testing.T) {
	tbl := checkedTable()
	ck, err := NewChecker(tbl)
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	// balance is NULL: the check reads it, so the row passes.
	row := types.Row{types.NewInt(1), types.Null(), types.NewString("free")}
	if err := ck.CheckRow(tbl, tbl.RowContext(row)); err != nil {
		t.Fatalf("NULL operand: want pass, got %v", err)
	}
}

func TestCheckCrossColumnExpression(t *testing.T) {
	tbl := &Table{
		Name: "ranges",
		Columns: []Column{
			{Name: "lo", Type: types.KindInt},
			{Name: "hi", Type: types.KindInt, Check: "lo <= hi"},
		},
	}
	ck, err := NewChecker(tbl)
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	good := types.Row{types.NewInt(1), types.NewInt(2)}
	if err := ck.CheckRow(tbl, tbl.RowContext(good)); err != nil {
		t.Fatalf("lo<=hi: %v", err)
	}
	bad := types.Row{types.NewInt(5), types.NewInt(2)}
	if err := ck.CheckRow(tbl, tbl.RowContext(bad)); !errors.Is(err, relerr.ErrCheckViolation) {
		t.Fatalf("lo>hi: want ErrCheckViolation, got %v", err)
	}
}

func TestBadExpressionFailsAtDDLTime(t *testing.T) {
	tbl := &Table{
		Name: "t",
		Columns: []Column{
			{Name: "a", Type: types.KindInt, Check: "nosuchcolumn > 0"},
		},
	}
	if _, err := NewChecker(tbl); !errors.Is(err, relerr.ErrBadSchema) {
		t.Fatalf("unknown identifier: want ErrBadSchema, got %v", err)
	}
}
