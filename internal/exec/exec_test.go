package exec

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/relicdb/relic/internal/catalog"
	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/schema"
	"github.com/relicdb/relic/internal/storage"
	"github.com/relicdb/relic/internal/types"
)

type execSnap struct {
	self      types.TxID
	committed map[types.TxID]bool
}

func (s execSnap) Self() types.TxID { return s.self }
func (s execSnap) Sees(id types.TxID) bool {
	return id == s.self || s.committed[id]
}
func (s execSnap) OwnDeleted(types.ObjectID, types.Location, uint32) bool { return false }

const writerTx = types.TxID(1)

func readerSnap() execSnap {
	return execSnap{self: 100, committed: map[types.TxID]bool{writerTx: true}}
}

// testRig loads three tables as committed data: users with indexes on id
// and dept, depts keyed by name, and the tiny events table.
func testRig(t *testing.T) (*plan.Builder, *catalog.Catalog) {
	t.Helper()
	cache, err := storage.NewRowCache(0)
	if err != nil {
		t.Fatalf("row cache: %v", err)
	}
	cat := catalog.New(cache, logger.New(io.Discard, logger.LevelError, "[test]"))

	addTable := func(sch *schema.Table) *catalog.Table {
		tbl, err := cat.AddTable(sch, cat.AllocObject())
		if err != nil {
			t.Fatalf("add table %s: %v", sch.Name, err)
		}
		return tbl
	}
	users := addTable(&schema.Table{Name: "users", Columns: []schema.Column{
		{Name: "id", Type: types.KindInt, NotNull: true},
		{Name: "name", Type: types.KindString},
		{Name: "dept", Type: types.KindString},
		{Name: "salary", Type: types.KindInt},
	}})
	depts := addTable(&schema.Table{Name: "depts", Columns: []schema.Column{
		{Name: "dept", Type: types.KindString, NotNull: true},
		{Name: "floor", Type: types.KindInt},
	}})
	events := addTable(&schema.Table{Name: "events", Columns: []schema.Column{
		{Name: "g", Type: types.KindString},
		{Name: "v", Type: types.KindInt},
	}})

	usersID := index.New("users_id", cat.AllocObject(), "users", []int{0}, true)
	usersDept := index.New("users_dept", cat.AllocObject(), "users", []int{2}, false)
	for _, ix := range []*index.Index{usersID, usersDept} {
		if err := cat.AddIndex(ix); err != nil {
			t.Fatalf("add index: %v", err)
		}
	}

	add := func(tbl *catalog.Table, ixs []*index.Index, row types.Row) {
		loc, _ := tbl.Store.Insert(writerTx, row)
		for _, ix := range ixs {
			ix.Apply(ix.KeyFor(row), loc, writerTx)
		}
	}
	userIxs := []*index.Index{usersID, usersDept}
	add(users, userIxs, types.Row{types.NewInt(1), types.NewString("ana"), types.NewString("eng"), types.NewInt(100)})
	add(users, userIxs, types.Row{types.NewInt(2), types.NewString("bo"), types.NewString("eng"), types.NewInt(200)})
	add(users, userIxs, types.Row{types.NewInt(3), types.NewString("cy"), types.NewString("ops"), types.NewInt(150)})
	add(users, userIxs, types.Row{types.NewInt(4), types.NewString("dee"), types.NewString("ops"), types.Value{}})
	add(users, userIxs, types.Row{types.NewInt(5), types.NewString("ed"), types.Value{}, types.NewInt(300)})

	add(depts, nil, types.Row{types.NewString("eng"), types.NewInt(3)})
	add(depts, nil, types.Row{types.NewString("mgmt"), types.NewInt(5)})

	add(events, nil, types.Row{types.NewString("a"), types.NewInt(1)})
	add(events, nil, types.Row{types.NewString("a"), types.NewInt(2)})
	add(events, nil, types.Row{types.NewString("b"), types.NewInt(3)})

	return plan.NewBuilder(cat), cat
}

func run(t *testing.T, b *plan.Builder, raw string) []types.Row {
	t.Helper()
	node, err := b.Build([]byte(raw))
	if err != nil {
		t.Fatalf("build %s: %v", raw, err)
	}
	op, err := Build(node, readerSnap())
	if err != nil {
		t.Fatalf("wire %s: %v", raw, err)
	}
	rows, err := Collect(context.Background(), op)
	if err != nil {
		t.Fatalf("run %s: %v", raw, err)
	}
	return rows
}

func ids(rows []types.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r[0].Int
	}
	return out
}

func wantIDs(t *testing.T, rows []types.Row, want ...int64) {
	t.Helper()
	got := ids(rows)
	if len(got) != len(want) {
		t.Fatalf("want ids %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want ids %v, got %v", want, got)
		}
	}
}

func TestScanPushdown(t *testing.T) {
	b, _ := testRig(t)
	// name is not indexed, so this runs as a heap scan with the predicate
	// applied inside the operator.
	rows := run(t, b, `{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"name","value":{"t":"string","v":"bo"}}}}}`)
	wantIDs(t, rows, 2)

	rows = run(t, b, `{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":1}}}}}`)
	wantIDs(t, rows, 1)
	if rows[0][1].Str != "ana" {
		t.Fatalf("want ana, got %v", rows[0])
	}
}

func TestIndexScanKeyOrder(t *testing.T) {
	b, _ := testRig(t)
	rows := run(t, b, `{"scan":{"table":"users","filter":{"cmp":{"op":"ge","column":"dept","value":{"t":"string","v":"eng"}}}}}`)
	// NULL keys sort below every string and fall outside the bound.
	wantIDs(t, rows, 1, 2, 3, 4)

	rows = run(t, b, `{"index_scan":{"index":"users_dept","eq":[{"t":"string","v":"ops"}]}}`)
	wantIDs(t, rows, 3, 4)
}

func TestIndexScanRechecksRowKey(t *testing.T) {
	b, cat := testRig(t)
	users, err := cat.Table("users")
	if err != nil {
		t.Fatal(err)
	}
	dept, err := cat.Index("users_dept")
	if err != nil {
		t.Fatal(err)
	}

	// Move ana from eng to ops the way an update does: supersede the row
	// and add the new key's entry. The old eng entry stays behind until
	// vacuum sweeps it.
	moved := types.Row{types.NewInt(1), types.NewString("ana"), types.NewString("ops"), types.NewInt(100)}
	if _, err := users.Store.Supersede(0, writerTx, moved); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	dept.Apply(dept.KeyFor(moved), 0, writerTx)

	rows := run(t, b, `{"index_scan":{"index":"users_dept","eq":[{"t":"string","v":"eng"}]}}`)
	wantIDs(t, rows, 2)
	// ana's new entry went in last, so it trails the existing ops rows.
	rows = run(t, b, `{"index_scan":{"index":"users_dept","eq":[{"t":"string","v":"ops"}]}}`)
	wantIDs(t, rows, 3, 4, 1)
}

func TestSnapshotBoundsScan(t *testing.T) {
	b, cat := testRig(t)
	users, err := cat.Table("users")
	if err != nil {
		t.Fatal(err)
	}
	// A row from a transaction outside the snapshot stays invisible.
	users.Store.Insert(99, types.Row{types.NewInt(6), types.NewString("zed"), types.Value{}, types.Value{}})

	rows := run(t, b, `{"scan":{"table":"users"}}`)
	wantIDs(t, rows, 1, 2, 3, 4, 5)
}

func TestJoinKinds(t *testing.T) {
	b, _ := testRig(t)

	inner := run(t, b, `{"join":{"kind":"inner","left":{"scan":{"table":"users"}},"right":{"scan":{"table":"depts"}},"on":{"left":"dept","right":"dept"}}}`)
	wantIDs(t, inner, 1, 2)
	if len(inner[0]) != 6 {
		t.Fatalf("join output must concatenate both sides, got %d columns", len(inner[0]))
	}

	left := run(t, b, `{"join":{"kind":"left","left":{"scan":{"table":"users"}},"right":{"scan":{"table":"depts"}},"on":{"left":"dept","right":"dept"}}}`)
	wantIDs(t, left, 1, 2, 3, 4, 5)
	for _, row := range left[2:] {
		if !row[4].IsNull() || !row[5].IsNull() {
			t.Fatalf("unmatched left row must null-fill the right side, got %v", row)
		}
	}

	right := run(t, b, `{"join":{"kind":"right","left":{"scan":{"table":"users"}},"right":{"scan":{"table":"depts"}},"on":{"left":"dept","right":"dept"}}}`)
	if len(right) != 3 {
		t.Fatalf("right join: want 3 rows, got %d", len(right))
	}
	last := right[2]
	if !last[0].IsNull() || last[4].Str != "mgmt" {
		t.Fatalf("unmatched right row must null-fill the left side, got %v", last)
	}

	cross := run(t, b, `{"join":{"kind":"cross","left":{"scan":{"table":"users"}},"right":{"scan":{"table":"depts"}}}}`)
	if len(cross) != 10 {
		t.Fatalf("cross join: want 10 rows, got %d", len(cross))
	}
}

func TestJoinNullKeysNeverMatch(t *testing.T) {
	b, _ := testRig(t)
	// ed has a NULL dept; depts has no NULL key, and even if it did, NULL
	// must not equal NULL here. Inner join drops ed.
	rows := run(t, b, `{"join":{"kind":"inner","left":{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":5}}}}},"right":{"scan":{"table":"depts"}},"on":{"left":"dept","right":"dept"}}}`)
	if len(rows) != 0 {
		t.Fatalf("NULL join key matched: %v", rows)
	}
}

func TestAggregateSumPreservesGroupOrder(t *testing.T) {
	b, _ := testRig(t)
	rows := run(t, b, `{"aggregate":{"input":{"scan":{"table":"events"}},"group_by":["g"],"aggs":[{"fn":"sum","column":"v"}]}}`)
	if len(rows) != 2 {
		t.Fatalf("want 2 groups, got %v", rows)
	}
	if rows[0][0].Str != "a" || rows[0][1].Int != 3 {
		t.Fatalf("first group: want (a, 3), got %v", rows[0])
	}
	if rows[1][0].Str != "b" || rows[1][1].Int != 3 {
		t.Fatalf("second group: want (b, 3), got %v", rows[1])
	}
}

func TestAggregateNullHandling(t *testing.T) {
	b, _ := testRig(t)
	rows := run(t, b, `{"aggregate":{"input":{"scan":{"table":"users"}},"group_by":["dept"],"aggs":[{"fn":"count"},{"fn":"count","column":"salary"},{"fn":"avg","column":"salary"}]}}`)
	if len(rows) != 3 {
		t.Fatalf("want 3 groups (eng, ops, NULL), got %v", rows)
	}
	eng, ops, null := rows[0], rows[1], rows[2]
	if eng[0].Str != "eng" || eng[1].Int != 2 || eng[2].Int != 2 || eng[3].Float != 150.0 {
		t.Fatalf("eng group: got %v", eng)
	}
	// dee's NULL salary counts as a row but not as a value.
	if ops[0].Str != "ops" || ops[1].Int != 2 || ops[2].Int != 1 || ops[3].Float != 150.0 {
		t.Fatalf("ops group: got %v", ops)
	}
	if !null[0].IsNull() || null[1].Int != 1 || null[3].Float != 300.0 {
		t.Fatalf("NULL dept group: got %v", null)
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	b, _ := testRig(t)
	rows := run(t, b, `{"aggregate":{"input":{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":999}}}}},"aggs":[{"fn":"count"},{"fn":"sum","column":"salary"}]}}`)
	if len(rows) != 1 {
		t.Fatalf("global aggregate over empty input must yield one row, got %v", rows)
	}
	if rows[0][0].Int != 0 || !rows[0][1].IsNull() {
		t.Fatalf("want (0, NULL), got %v", rows[0])
	}

	// With group columns there is nothing to group, so nothing comes out.
	rows = run(t, b, `{"aggregate":{"input":{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":999}}}}},"group_by":["dept"],"aggs":[{"fn":"count"}]}}`)
	if len(rows) != 0 {
		t.Fatalf("grouped aggregate over empty input must yield nothing, got %v", rows)
	}
}

func TestSortStableWithDirections(t *testing.T) {
	b, _ := testRig(t)
	// Single ascending key: NULL dept first, ties keep scan order.
	rows := run(t, b, `{"sort":{"input":{"scan":{"table":"users"}},"keys":[{"column":"dept"}]}}`)
	wantIDs(t, rows, 5, 1, 2, 3, 4)

	// Second key flips direction independently.
	rows = run(t, b, `{"sort":{"input":{"scan":{"table":"users"}},"keys":[{"column":"dept"},{"column":"id","desc":true}]}}`)
	wantIDs(t, rows, 5, 2, 1, 4, 3)

	// Sorting an already-sorted stream is a no-op.
	rows = run(t, b, `{"sort":{"input":{"sort":{"input":{"scan":{"table":"users"}},"keys":[{"column":"dept"}]}},"keys":[{"column":"dept"}]}}`)
	wantIDs(t, rows, 5, 1, 2, 3, 4)
}

func TestLimitOffsetAndCount(t *testing.T) {
	b, _ := testRig(t)
	rows := run(t, b, `{"limit":{"input":{"sort":{"input":{"scan":{"table":"users"}},"keys":[{"column":"id"}]}},"offset":1,"count":2}}`)
	wantIDs(t, rows, 2, 3)

	rows = run(t, b, `{"limit":{"input":{"scan":{"table":"users"}},"count":0}}`)
	if len(rows) != 0 {
		t.Fatalf("count 0 must yield nothing, got %v", rows)
	}

	rows = run(t, b, `{"limit":{"input":{"scan":{"table":"users"}},"offset":10}}`)
	if len(rows) != 0 {
		t.Fatalf("offset past the end must yield nothing, got %v", rows)
	}
}

// sliceOp feeds canned rows and counts how often it is pulled.
type sliceOp struct {
	rows  []types.Row
	pos   int
	pulls int
	fail  error
	row   types.Row
}

func (s *sliceOp) Next(context.Context) bool {
	if s.pos >= len(s.rows) {
		return false
	}
	s.pulls++
	s.row = s.rows[s.pos]
	s.pos++
	return true
}

func (s *sliceOp) Row() types.Row { return s.row }

func (s *sliceOp) Err() error {
	if s.pos >= len(s.rows) {
		return s.fail
	}
	return nil
}

func (s *sliceOp) Close() error { return nil }

func threeRows() []types.Row {
	return []types.Row{
		{types.NewInt(1)},
		{types.NewInt(2)},
		{types.NewInt(3)},
	}
}

func TestLimitShortCircuitsChild(t *testing.T) {
	child := &sliceOp{rows: threeRows()}
	lim := &limitOp{child: child, count: 2, offset: 0}
	ctx := context.Background()

	var got int
	for lim.Next(ctx) {
		got++
	}
	if got != 2 {
		t.Fatalf("want 2 rows, got %d", got)
	}
	if lim.Err() != nil {
		t.Fatalf("unexpected error: %v", lim.Err())
	}
	if child.pulls != 2 {
		t.Fatalf("limit must stop pulling once satisfied: want 2 pulls, got %d", child.pulls)
	}
	if lim.Next(ctx) {
		t.Fatal("exhausted limit must stay exhausted")
	}
	if child.pulls != 2 {
		t.Fatalf("extra Next must not touch the child, got %d pulls", child.pulls)
	}
}

func TestChildErrorAbortsAndTagsOperator(t *testing.T) {
	boom := errors.New("backing store went away")
	child := &sliceOp{rows: threeRows(), fail: boom}
	f := &filterOp{child: child, pred: nil}

	rows, err := Collect(context.Background(), f)
	if rows != nil {
		t.Fatalf("failed query must not return partial rows, got %v", rows)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped cause, got %v", err)
	}
	qe, ok := relerr.AsQueryError(err)
	if !ok || qe.Op != "filter" {
		t.Fatalf("want filter-tagged query error, got %v", err)
	}
}

func TestCancellationStopsPipeline(t *testing.T) {
	b, _ := testRig(t)
	node, err := b.Build([]byte(`{"sort":{"input":{"scan":{"table":"users"}},"keys":[{"column":"id"}]}}`))
	if err != nil {
		t.Fatal(err)
	}
	op, err := Build(node, readerSnap())
	if err != nil {
		t.Fatal(err)
	}
	defer op.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if op.Next(ctx) {
		t.Fatal("cancelled query must not produce rows")
	}
	if !errors.Is(op.Err(), context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", op.Err())
	}
	if _, ok := relerr.AsQueryError(op.Err()); !ok {
		t.Fatalf("cancellation must surface as a query error, got %v", op.Err())
	}
}

func TestProjectShapesRows(t *testing.T) {
	b, _ := testRig(t)
	rows := run(t, b, `{"project":{"input":{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":3}}}}},"columns":["name","id"]}}`)
	if len(rows) != 1 || len(rows[0]) != 2 {
		t.Fatalf("want one two-column row, got %v", rows)
	}
	if rows[0][0].Str != "cy" || rows[0][1].Int != 3 {
		t.Fatalf("want (cy, 3), got %v", rows[0])
	}
}
