package plan

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/relicdb/relic/internal/catalog"
	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/schema"
	"github.com/relicdb/relic/internal/types"
)

// testBuilder registers a users table with a unique index on id and a
// composite index on (age, score).
func testBuilder(t *testing.T) (*Builder, *catalog.Catalog) {
	t.Helper()
	cat := catalog.New(nil, logger.New(io.Discard, logger.LevelError, "[test]"))
	users := &schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: types.KindInt, NotNull: true},
			{Name: "email", Type: types.KindString},
			{Name: "age", Type: types.KindInt},
			{Name: "score", Type: types.KindFloat},
		},
	}
	if _, err := cat.AddTable(users, cat.AllocObject()); err != nil {
		t.Fatalf("add table: %v", err)
	}
	if err := cat.AddIndex(index.New("users_id", cat.AllocObject(), "users", []int{0}, true)); err != nil {
		t.Fatalf("add index: %v", err)
	}
	if err := cat.AddIndex(index.New("users_age_score", cat.AllocObject(), "users", []int{2, 3}, false)); err != nil {
		t.Fatalf("add index: %v", err)
	}
	return NewBuilder(cat), cat
}

func mustBuild(t *testing.T, b *Builder, raw string) Node {
	t.Helper()
	node, err := b.Build([]byte(raw))
	if err != nil {
		t.Fatalf("build %s: %v", raw, err)
	}
	return node
}

func TestBuildScanFields(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"scan":{"table":"users"}}`)
	scan, ok := node.(*Scan)
	if !ok {
		t.Fatalf("want *Scan, got %T", node)
	}
	want := []string{"id", "email", "age", "score"}
	got := Columns(scan)
	if len(got) != len(want) {
		t.Fatalf("want %d columns, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column %d: want %s, got %s", i, want[i], got[i])
		}
	}
	if scan.Pred != nil {
		t.Fatal("bare scan must carry no predicate")
	}
}

func TestBuildUnknownTable(t *testing.T) {
	b, _ := testBuilder(t)
	if _, err := b.Build([]byte(`{"scan":{"table":"ghosts"}}`)); !errors.Is(err, relerr.ErrTableNotFound) {
		t.Fatalf("want ErrTableNotFound, got %v", err)
	}
}

func TestEqualityPicksIndex(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":1}}}}}`)
	is, ok := node.(*IndexScan)
	if !ok {
		t.Fatalf("want *IndexScan, got %T", node)
	}
	if is.Index.Name() != "users_id" {
		t.Fatalf("want users_id, got %s", is.Index.Name())
	}
	if len(is.Low) != 1 || len(is.High) != 1 || is.Low[0].Int != 1 || is.High[0].Int != 1 {
		t.Fatalf("want point bounds [1,1], got %v..%v", is.Low, is.High)
	}
	if !is.LowInc || !is.HighInc {
		t.Fatal("point lookup must be inclusive on both sides")
	}
	if is.Pred != nil {
		t.Fatalf("fully consumed predicate must leave no residual, got %v", is.Pred)
	}
}

func TestResidualStaysOnIndexScan(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"scan":{"table":"users","filter":{"and":[
		{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":1}}},
		{"cmp":{"op":"eq","column":"email","value":{"t":"string","v":"a@b.c"}}}
	]}}}`)
	is, ok := node.(*IndexScan)
	if !ok {
		t.Fatalf("want *IndexScan, got %T", node)
	}
	if is.Pred == nil {
		t.Fatal("email conjunct must survive as the residual predicate")
	}
	cmp, ok := is.Pred.(*Cmp)
	if !ok || cmp.Col != 1 {
		t.Fatalf("want residual cmp on column 1, got %#v", is.Pred)
	}
}

func TestCompositeEqualityAndRange(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"scan":{"table":"users","filter":{"and":[
		{"cmp":{"op":"eq","column":"age","value":{"t":"int","v":30}}},
		{"cmp":{"op":"gt","column":"score","value":{"t":"float","v":1.5}}}
	]}}}`)
	is, ok := node.(*IndexScan)
	if !ok {
		t.Fatalf("want *IndexScan, got %T", node)
	}
	if is.Index.Name() != "users_age_score" {
		t.Fatalf("want users_age_score, got %s", is.Index.Name())
	}
	if len(is.Low) != 2 || is.Low[0].Int != 30 || is.Low[1].Float != 1.5 || is.LowInc {
		t.Fatalf("want exclusive low (30, 1.5), got %v inc=%v", is.Low, is.LowInc)
	}
	if len(is.High) != 1 || is.High[0].Int != 30 || !is.HighInc {
		t.Fatalf("want inclusive high prefix (30), got %v inc=%v", is.High, is.HighInc)
	}
	if is.Pred != nil {
		t.Fatalf("both conjuncts consumed, got residual %v", is.Pred)
	}
}

func TestRangeOnlyIndexUse(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"scan":{"table":"users","filter":{"cmp":{"op":"ge","column":"age","value":{"t":"int","v":18}}}}}`)
	is, ok := node.(*IndexScan)
	if !ok {
		t.Fatalf("want *IndexScan, got %T", node)
	}
	if len(is.Low) != 1 || is.Low[0].Int != 18 || !is.LowInc || is.High != nil {
		t.Fatalf("want low (18) inclusive and open high, got %v..%v", is.Low, is.High)
	}
}

func TestNonIntegralLiteralFallsBackToHeap(t *testing.T) {
	b, _ := testBuilder(t)
	// 1.5 cannot be an int key, so the conjunct stays a filter and the
	// scan returns whatever the predicate keeps (nothing, for this data).
	node := mustBuild(t, b, `{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"float","v":1.5}}}}}`)
	scan, ok := node.(*Scan)
	if !ok {
		t.Fatalf("want *Scan, got %T", node)
	}
	if scan.Pred == nil {
		t.Fatal("predicate must survive on the heap scan")
	}
}

func TestIntegralFloatCoercesToIntKey(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"float","v":2}}}}}`)
	is, ok := node.(*IndexScan)
	if !ok {
		t.Fatalf("want *IndexScan, got %T", node)
	}
	if is.Low[0].Kind != types.KindInt || is.Low[0].Int != 2 {
		t.Fatalf("want int key 2, got %v", is.Low[0])
	}
}

func TestOrPredicateStaysOnHeapScan(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"scan":{"table":"users","filter":{"or":[
		{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":1}}},
		{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":2}}}
	]}}}`)
	if _, ok := node.(*Scan); !ok {
		t.Fatalf("disjunctions must not use the index, got %T", node)
	}
}

func TestFilterFoldsIntoScan(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"filter":{
		"input":{"scan":{"table":"users"}},
		"expr":{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":7}}}
	}}`)
	if _, ok := node.(*IndexScan); !ok {
		t.Fatalf("filter over a bare scan must fold and pick the index, got %T", node)
	}
}

func TestProjectResolvesAndReorders(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"project":{"input":{"scan":{"table":"users"}},"columns":["email","id"]}}`)
	p, ok := node.(*Project)
	if !ok {
		t.Fatalf("want *Project, got %T", node)
	}
	if got := Columns(p); got[0] != "email" || got[1] != "id" {
		t.Fatalf("want [email id], got %v", got)
	}
	if p.Keep[0] != 1 || p.Keep[1] != 0 {
		t.Fatalf("want keep [1 0], got %v", p.Keep)
	}

	if _, err := b.Build([]byte(`{"project":{"input":{"scan":{"table":"users"}},"columns":["nope"]}}`)); !errors.Is(err, relerr.ErrColumnNotFound) {
		t.Fatalf("want ErrColumnNotFound, got %v", err)
	}
}

func TestJoinBuild(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"join":{"kind":"inner",
		"left":{"scan":{"table":"users"}},
		"right":{"scan":{"table":"users"}},
		"on":{"left":"id","right":"age"}}}`)
	j, ok := node.(*Join)
	if !ok {
		t.Fatalf("want *Join, got %T", node)
	}
	if len(j.Fields()) != 8 {
		t.Fatalf("join output must concatenate both sides, got %d fields", len(j.Fields()))
	}
	if j.LeftCol != 0 || j.RightCol != 2 {
		t.Fatalf("want on columns (0, 2), got (%d, %d)", j.LeftCol, j.RightCol)
	}

	if _, err := b.Build([]byte(`{"join":{"kind":"inner","left":{"scan":{"table":"users"}},"right":{"scan":{"table":"users"}}}}`)); !errors.Is(err, relerr.ErrBadRequest) {
		t.Fatalf("inner join without on: want ErrBadRequest, got %v", err)
	}
	if _, err := b.Build([]byte(`{"join":{"kind":"cross","left":{"scan":{"table":"users"}},"right":{"scan":{"table":"users"}},"on":{"left":"id","right":"id"}}}`)); !errors.Is(err, relerr.ErrBadRequest) {
		t.Fatalf("cross join with on: want ErrBadRequest, got %v", err)
	}
	if _, err := b.Build([]byte(`{"join":{"kind":"left","left":{"scan":{"table":"users"}},"right":{"scan":{"table":"users"}},"on":{"left":"id","right":"email"}}}`)); !errors.Is(err, relerr.ErrTypeMismatch) {
		t.Fatalf("int joined to string: want ErrTypeMismatch, got %v", err)
	}
}

func TestAggregateBuild(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"aggregate":{"input":{"scan":{"table":"users"}},
		"group_by":["age"],
		"aggs":[{"fn":"count"},{"fn":"sum","column":"score"},{"fn":"avg","column":"age"},{"fn":"min","column":"email"}]}}`)
	agg, ok := node.(*Aggregate)
	if !ok {
		t.Fatalf("want *Aggregate, got %T", node)
	}
	fields := agg.Fields()
	wantNames := []string{"age", "count", "sum_score", "avg_age", "min_email"}
	wantKinds := []types.Kind{types.KindInt, types.KindInt, types.KindFloat, types.KindFloat, types.KindString}
	if len(fields) != len(wantNames) {
		t.Fatalf("want %d fields, got %v", len(wantNames), fields)
	}
	for i := range wantNames {
		if fields[i].Name != wantNames[i] || fields[i].Kind != wantKinds[i] {
			t.Fatalf("field %d: want %s %s, got %s %s", i, wantNames[i], wantKinds[i], fields[i].Name, fields[i].Kind)
		}
	}
	if agg.Aggs[0].Col != -1 {
		t.Fatalf("bare count must carry no column, got %d", agg.Aggs[0].Col)
	}

	if _, err := b.Build([]byte(`{"aggregate":{"input":{"scan":{"table":"users"}},"aggs":[{"fn":"sum","column":"email"}]}}`)); !errors.Is(err, relerr.ErrTypeMismatch) {
		t.Fatalf("sum over string: want ErrTypeMismatch, got %v", err)
	}
	if _, err := b.Build([]byte(`{"aggregate":{"input":{"scan":{"table":"users"}},"aggs":[{"fn":"sum"}]}}`)); !errors.Is(err, relerr.ErrBadRequest) {
		t.Fatalf("sum without column: want ErrBadRequest, got %v", err)
	}
}

func TestSortAndLimitBuild(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"sort":{"input":{"scan":{"table":"users"}},"keys":[{"column":"age","desc":true},{"column":"id"}]}}`)
	s, ok := node.(*Sort)
	if !ok {
		t.Fatalf("want *Sort, got %T", node)
	}
	if s.Keys[0].Col != 2 || !s.Keys[0].Desc || s.Keys[1].Col != 0 || s.Keys[1].Desc {
		t.Fatalf("unexpected sort keys %+v", s.Keys)
	}

	node = mustBuild(t, b, `{"limit":{"input":{"scan":{"table":"users"}},"offset":3}}`)
	lim := node.(*Limit)
	if lim.Offset != 3 || lim.Count != -1 {
		t.Fatalf("offset without count: want (3, -1), got (%d, %d)", lim.Offset, lim.Count)
	}
	node = mustBuild(t, b, `{"limit":{"input":{"scan":{"table":"users"}},"count":0}}`)
	if lim := node.(*Limit); lim.Count != 0 {
		t.Fatalf("explicit zero count must stick, got %d", lim.Count)
	}
}

func TestViewExpansion(t *testing.T) {
	b, cat := testBuilder(t)
	plan := json.RawMessage(`{"scan":{"table":"users","filter":{"cmp":{"op":"ge","column":"age","value":{"t":"int","v":18}}}}}`)
	if err := cat.AddView("adults", plan); err != nil {
		t.Fatalf("add view: %v", err)
	}

	node := mustBuild(t, b, `{"view":{"name":"adults"}}`)
	if _, ok := node.(*IndexScan); !ok {
		t.Fatalf("view body must expand and plan like any query, got %T", node)
	}

	// Scanning the view name works too, with the extra filter folded in.
	node = mustBuild(t, b, `{"scan":{"table":"adults","filter":{"cmp":{"op":"eq","column":"email","value":{"t":"string","v":"a@b.c"}}}}}`)
	is, ok := node.(*IndexScan)
	if !ok {
		t.Fatalf("want *IndexScan, got %T", node)
	}
	if is.Pred == nil {
		t.Fatal("extra filter must land on the expanded plan")
	}
}

func TestViewCycleHitsDepthLimit(t *testing.T) {
	b, cat := testBuilder(t)
	if err := cat.AddView("loop", json.RawMessage(`{"view":{"name":"loop"}}`)); err != nil {
		t.Fatalf("add view: %v", err)
	}
	if _, err := b.Build([]byte(`{"view":{"name":"loop"}}`)); !errors.Is(err, relerr.ErrBadRequest) {
		t.Fatalf("self-referential view: want ErrBadRequest, got %v", err)
	}
}

func TestExplicitIndexScanRequest(t *testing.T) {
	b, _ := testBuilder(t)
	node := mustBuild(t, b, `{"index_scan":{"index":"users_age_score","eq":[{"t":"int","v":30}]}}`)
	is, ok := node.(*IndexScan)
	if !ok {
		t.Fatalf("want *IndexScan, got %T", node)
	}
	if len(is.Low) != 1 || !is.LowInc || !is.HighInc {
		t.Fatalf("prefix eq must be inclusive both sides, got %v inc=(%v,%v)", is.Low, is.LowInc, is.HighInc)
	}

	if _, err := b.Build([]byte(`{"index_scan":{"index":"users_age_score","eq":[{"t":"int","v":30}],"low":[{"t":"int","v":1}]}}`)); !errors.Is(err, relerr.ErrBadRequest) {
		t.Fatalf("eq with low: want ErrBadRequest, got %v", err)
	}
	if _, err := b.Build([]byte(`{"index_scan":{"index":"users_id","eq":[{"t":"string","v":"x"}]}}`)); !errors.Is(err, relerr.ErrTypeMismatch) {
		t.Fatalf("string key for int column: want ErrTypeMismatch, got %v", err)
	}
	if _, err := b.Build([]byte(`{"index_scan":{"index":"users_id","eq":[{"t":"int","v":1},{"t":"int","v":2}]}}`)); !errors.Is(err, relerr.ErrBadRequest) {
		t.Fatalf("too many key values: want ErrBadRequest, got %v", err)
	}
	if _, err := b.Build([]byte(`{"index_scan":{"index":"ghost","eq":[{"t":"int","v":1}]}}`)); !errors.Is(err, relerr.ErrIndexNotFound) {
		t.Fatalf("want ErrIndexNotFound, got %v", err)
	}
}

func TestRequestValidation(t *testing.T) {
	b, _ := testBuilder(t)
	bad := []string{
		`not json`,
		`{}`,
		`{"scan":{"table":"users"},"limit":{"input":{"scan":{"table":"users"}}}}`,
		`{"frobnicate":{}}`,
		`{"scan":{}}`,
		`{"scan":{"table":"users","filter":{"cmp":{"op":"between","column":"id","value":{"t":"int","v":1}}}}}`,
		`{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id"}}}}`,
		`{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"int","v":1},"rhs_column":"age"}}}}`,
	}
	for _, raw := range bad {
		if _, err := b.Build([]byte(raw)); !errors.Is(err, relerr.ErrBadRequest) {
			t.Errorf("%s: want ErrBadRequest, got %v", raw, err)
		}
	}
}

func TestTypeMismatchInPredicate(t *testing.T) {
	b, _ := testBuilder(t)
	if _, err := b.Build([]byte(`{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"id","value":{"t":"string","v":"1"}}}}}`)); !errors.Is(err, relerr.ErrTypeMismatch) {
		t.Fatalf("int column vs string literal: want ErrTypeMismatch, got %v", err)
	}
	if _, err := b.Build([]byte(`{"scan":{"table":"users","filter":{"cmp":{"op":"lt","column":"email","rhs_column":"age"}}}}`)); !errors.Is(err, relerr.ErrTypeMismatch) {
		t.Fatalf("string column vs int column: want ErrTypeMismatch, got %v", err)
	}
	// NULL literals compare as unknown at run time; the builder lets
	// them through.
	if _, err := b.Build([]byte(`{"scan":{"table":"users","filter":{"cmp":{"op":"eq","column":"email","value":{"t":"null"}}}}}`)); err != nil {
		t.Fatalf("null literal must build: %v", err)
	}
}
