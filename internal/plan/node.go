// Package plan turns JSON query requests into resolved, positional plan
// trees. Column names are bound to positions here; the executor below it
// never resolves a name.
package plan

import (
	"github.com/relicdb/relic/internal/catalog"
	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/schema"
	"github.com/relicdb/relic/internal/types"
)

// Field is one output column of a plan node.
type Field struct {
	Name string
	Kind types.Kind
}

// Node is a resolved plan operator. The set is closed; the executor
// switches over it.
type Node interface {
	Fields() []Field
	node()
}

// Columns lists a node's output column names.
func Columns(n Node) []string {
	fields := n.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func fieldsOf(sch *schema.Table) []Field {
	fields := make([]Field, len(sch.Columns))
	for i, col := range sch.Columns {
		fields[i] = Field{Name: col.Name, Kind: col.Type}
	}
	return fields
}

type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinCross
)

func (k JoinKind) String() string {
	switch k {
	case JoinInner:
		return "inner"
	case JoinLeft:
		return "left"
	case JoinRight:
		return "right"
	case JoinCross:
		return "cross"
	default:
		return "join(?)"
	}
}

type AggFn int

const (
	AggCount AggFn = iota
	AggSum
	AggMin
	AggMax
	AggAvg
)

func (f AggFn) String() string {
	switch f {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggAvg:
		return "avg"
	default:
		return "agg(?)"
	}
}

// Scan reads a table heap in location order. Pred, when set, is the
// pushed-down filter evaluated against each visible row during the scan.
type Scan struct {
	Table *catalog.Table
	Pred  Expr

	fields []Field
}

func (s *Scan) Fields() []Field { return s.fields }
func (*Scan) node()             {}

// IndexScan reads rows through an index in key order. Low and High are
// value tuples over the index's leading columns; a nil side is open. A
// tuple shorter than the index covers every key extending it. Pred is the
// residual filter for conjuncts the bounds do not express.
type IndexScan struct {
	Table   *catalog.Table
	Index   *index.Index
	Low     []types.Value
	High    []types.Value
	LowInc  bool
	HighInc bool
	Pred    Expr

	fields []Field
}

func (s *IndexScan) Fields() []Field { return s.fields }
func (*IndexScan) node()             {}

// Filter drops input rows its predicate does not hold for.
type Filter struct {
	Input Node
	Pred  Expr
}

func (f *Filter) Fields() []Field { return f.Input.Fields() }
func (*Filter) node()             {}

// Project keeps the input columns at Keep, in that order.
type Project struct {
	Input Node
	Keep  []int

	fields []Field
}

func (p *Project) Fields() []Field { return p.fields }
func (*Project) node()             {}

// Join combines left and right rows on column equality. Output columns
// are the left fields then the right fields for every kind; a right join
// runs as a swapped left join and restores this order. LeftCol and
// RightCol are -1 for cross joins.
type Join struct {
	Kind     JoinKind
	Left     Node
	Right    Node
	LeftCol  int
	RightCol int

	fields []Field
}

func (j *Join) Fields() []Field { return j.fields }
func (*Join) node()             {}

// AggSpec is one aggregate output. Col is -1 for count without a column.
// Kind is the result kind the builder derived.
type AggSpec struct {
	Fn   AggFn
	Col  int
	Kind types.Kind
}

// Aggregate groups input rows by the GroupBy columns and folds each group
// through Aggs. Groups are emitted in first-seen input order.
type Aggregate struct {
	Input   Node
	GroupBy []int
	Aggs    []AggSpec

	fields []Field
}

func (a *Aggregate) Fields() []Field { return a.fields }
func (*Aggregate) node()             {}

type SortKey struct {
	Col  int
	Desc bool
}

// Sort orders the input by its keys in sequence. The sort is stable, so
// rows equal on every key keep their input order.
type Sort struct {
	Input Node
	Keys  []SortKey
}

func (s *Sort) Fields() []Field { return s.Input.Fields() }
func (*Sort) node()             {}

// Limit skips Offset rows and passes through at most Count. Count -1
// means no cap.
type Limit struct {
	Input  Node
	Offset int64
	Count  int64
}

func (l *Limit) Fields() []Field { return l.Input.Fields() }
func (*Limit) node()             {}
