package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

func usersTable() *Table {
	def := types.NewInt(0)
	return &Table{
		Name: "users",
		Columns: []Column{
			{Name: "id", Type: types.KindInt, NotNull: true},
			{Name: "name", Type: types.KindString, NotNull: true},
			{Name: "age", Type: types.KindInt, Default: &def},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := usersTable().Validate(); err != nil {
		t.Fatalf("valid table: %v", err)
	}

	dup := &Table{Name: "t", Columns: []Column{
		{Name: "a", Type: types.KindInt},
		{Name: "a", Type: types.KindString},
	}}
	if err := dup.Validate(); !errors.Is(err, relerr.ErrBadSchema) {
		t.Errorf("duplicate column: want ErrBadSchema, got %v", err)
	}

	empty := &Table{Name: "t"}
	if err := empty.Validate(); !errors.Is(err, relerr.ErrBadSchema) {
		t.Errorf("no columns: want ErrBadSchema, got %v", err)
	}

	badDefault := types.NewString("x")
	bad := &Table{Name: "t", Columns: []Column{
		{Name: "n", Type: types.KindInt, Default: &badDefault},
	}}
	if err := bad.Validate(); !errors.Is(err, relerr.ErrBadSchema) {
		t.Errorf("mistyped default: want ErrBadSchema, got %v", err)
	}
}

func TestNormalizeRowDefaultsAndNotNull(t *testing.T) {
	tbl := usersTable()

	row, err := tbl.NormalizeRow(types.Row{types.NewInt(1), types.NewString("a"), types.Null()})
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if row[2].Kind != types.KindInt || row[2].Int != 0 {
		t.Errorf("default not applied: got %v", row[2])
	}

	_, err = tbl.NormalizeRow(types.Row{types.Null(), types.NewString("a"), types.NewInt(3)})
	if !errors.Is(err, relerr.ErrNotNullViolation) {
		t.Errorf("NULL id: want ErrNotNullViolation, got %v", err)
	}

	_, err = tbl.NormalizeRow(types.Row{types.NewInt(1), types.NewString("a")})
	if !errors.Is(err, relerr.ErrColumnCount) {
		t.Errorf("short row: want ErrColumnCount, got %v", err)
	}

	_, err = tbl.NormalizeRow(types.Row{types.NewString("x"), types.NewString("a"), types.Null()})
	if !errors.Is(err, relerr.ErrTypeMismatch) {
		t.Errorf("string into int: want ErrTypeMismatch, got %v", err)
	}
}

func TestNormalizeRowWidensIntToFloat(t *testing.T) {
	tbl := &Table{Name: "m", Columns: []Column{{Name: "v", Type: types.KindFloat}}}
	row, err := tbl.NormalizeRow(types.Row{types.NewInt(3)})
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if row[0].Kind != types.KindFloat || row[0].Float != 3 {
		t.Errorf("want float 3, got %v", row[0])
	}
}

func TestFingerprintChangesWithDefinition(t *testing.T) {
	a := usersTable()
	b := usersTable()
	if a.FingerprintHex() != b.FingerprintHex() {
		t.Fatal("same definition: want same fingerprint")
	}
	b.Columns[2].NotNull = true
	if a.FingerprintHex() == b.FingerprintHex() {
		t.Fatal("changed definition: want different fingerprint")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	tbl := usersTable()
	tbl.Columns[2].Check = "age >= 0"

	var back Table
	data, err := json.Marshal(tbl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.FingerprintHex() != tbl.FingerprintHex() {
		t.Fatal("round trip: want identical fingerprint")
	}
	if back.Columns[2].Default == nil || back.Columns[2].Default.Int != 0 {
		t.Errorf("default lost in round trip: %+v", back.Columns[2].Default)
	}
}
