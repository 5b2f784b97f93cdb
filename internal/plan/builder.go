package plan

import (
	"encoding/json"
	"fmt"

	"github.com/relicdb/relic/internal/catalog"
	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// maxViewDepth bounds view-in-view substitution.
const maxViewDepth = 16

// Builder resolves JSON plan requests against the catalog.
type Builder struct {
	cat *catalog.Catalog
}

func NewBuilder(cat *catalog.Catalog) *Builder {
	return &Builder{cat: cat}
}

// Build validates, decodes and resolves one request into a plan tree.
func (b *Builder) Build(raw []byte) (Node, error) {
	if err := ValidateRequest(raw); err != nil {
		return nil, err
	}
	var req nodeReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", relerr.ErrBadRequest, err)
	}
	return b.build(&req, 0)
}

// CompileFilter resolves a filter expression against one table's columns,
// for callers that match rows outside a plan tree. A nil raw filter
// compiles to a nil predicate, which keeps every row.
func (b *Builder) CompileFilter(table string, raw json.RawMessage) (Expr, error) {
	tbl, err := b.cat.Table(table)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var req exprReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", relerr.ErrBadRequest, err)
	}
	return buildExpr(&req, fieldsOf(tbl.Schema))
}

func (b *Builder) build(req *nodeReq, depth int) (Node, error) {
	switch {
	case req.Scan != nil:
		return b.buildScan(req.Scan, depth)
	case req.IndexScan != nil:
		return b.buildIndexScan(req.IndexScan)
	case req.Filter != nil:
		return b.buildFilter(req.Filter, depth)
	case req.Project != nil:
		return b.buildProject(req.Project, depth)
	case req.Join != nil:
		return b.buildJoin(req.Join, depth)
	case req.Aggregate != nil:
		return b.buildAggregate(req.Aggregate, depth)
	case req.Sort != nil:
		return b.buildSort(req.Sort, depth)
	case req.Limit != nil:
		return b.buildLimit(req.Limit, depth)
	case req.View != nil:
		return b.buildView(req.View.Name, nil, depth)
	default:
		return nil, fmt.Errorf("%w: empty plan node", relerr.ErrBadRequest)
	}
}

func (b *Builder) buildScan(req *scanReq, depth int) (Node, error) {
	tbl, err := b.cat.Table(req.Table)
	if err != nil {
		// Scanning a view name expands its stored plan.
		if _, verr := b.cat.View(req.Table); verr == nil {
			return b.buildView(req.Table, req.Filter, depth)
		}
		return nil, err
	}

	fields := fieldsOf(tbl.Schema)
	scan := &Scan{Table: tbl, fields: fields}
	if req.Filter != nil {
		pred, err := buildExpr(req.Filter, fields)
		if err != nil {
			return nil, err
		}
		scan.Pred = pred
	}
	return b.chooseIndex(scan), nil
}

func (b *Builder) buildIndexScan(req *indexScanReq) (Node, error) {
	ix, err := b.cat.Index(req.Index)
	if err != nil {
		return nil, err
	}
	tbl, err := b.cat.Table(ix.Table())
	if err != nil {
		return nil, err
	}
	fields := fieldsOf(tbl.Schema)

	if len(req.Eq) > 0 && (len(req.Low) > 0 || len(req.High) > 0) {
		return nil, fmt.Errorf("%w: eq and low/high are exclusive", relerr.ErrBadRequest)
	}

	node := &IndexScan{Table: tbl, Index: ix, LowInc: !req.LowExclusive, HighInc: !req.HighExclusive, fields: fields}
	if len(req.Eq) > 0 {
		eq, err := coerceTuple(ix, fields, req.Eq)
		if err != nil {
			return nil, err
		}
		node.Low, node.High = eq, eq
		node.LowInc, node.HighInc = true, true
	} else {
		if node.Low, err = coerceTuple(ix, fields, req.Low); err != nil {
			return nil, err
		}
		if node.High, err = coerceTuple(ix, fields, req.High); err != nil {
			return nil, err
		}
	}

	if req.Filter != nil {
		pred, err := buildExpr(req.Filter, fields)
		if err != nil {
			return nil, err
		}
		node.Pred = pred
	}
	return node, nil
}

// coerceTuple converts bound values to the key columns' kinds. NULL passes
// for any column; it is a real key value in the index.
func coerceTuple(ix *index.Index, fields []Field, vals []types.Value) ([]types.Value, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	cols := ix.Columns()
	if len(vals) > len(cols) {
		return nil, fmt.Errorf("%w: %d bound values for %d key columns of %s",
			relerr.ErrBadRequest, len(vals), len(cols), ix.Name())
	}
	out := make([]types.Value, len(vals))
	for i, v := range vals {
		f := fields[cols[i]]
		cv, ok := coerceToKind(v, f.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: key column %s holds %s", relerr.ErrTypeMismatch, f.Name, f.Kind)
		}
		out[i] = cv
	}
	return out, nil
}

// coerceToKind converts a literal to a column kind when no information can
// be lost. Ints widen to float; a float narrows to int only when integral.
func coerceToKind(v types.Value, kind types.Kind) (types.Value, bool) {
	if v.IsNull() || v.Kind == kind {
		return v, true
	}
	switch {
	case v.Kind == types.KindInt && kind == types.KindFloat:
		return types.NewFloat(float64(v.Int)), true
	case v.Kind == types.KindFloat && kind == types.KindInt:
		i := int64(v.Float)
		if float64(i) == v.Float {
			return types.NewInt(i), true
		}
	}
	return types.Value{}, false
}

func (b *Builder) buildFilter(req *filterReq, depth int) (Node, error) {
	input, err := b.build(&req.Input, depth)
	if err != nil {
		return nil, err
	}
	return b.applyFilter(input, &req.Expr)
}

// applyFilter folds a predicate into a bare scan so it runs pushed down,
// re-running index selection with the extra conjuncts; anything else gets
// a Filter node on top.
func (b *Builder) applyFilter(input Node, req *exprReq) (Node, error) {
	pred, err := buildExpr(req, input.Fields())
	if err != nil {
		return nil, err
	}
	switch in := input.(type) {
	case *Scan:
		in.Pred = andCombine(in.Pred, pred)
		return b.chooseIndex(in), nil
	case *IndexScan:
		in.Pred = andCombine(in.Pred, pred)
		return in, nil
	default:
		return &Filter{Input: input, Pred: pred}, nil
	}
}

func andCombine(a, b Expr) Expr {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return &And{Kids: []Expr{a, b}}
	}
}

func (b *Builder) buildProject(req *projectReq, depth int) (Node, error) {
	input, err := b.build(&req.Input, depth)
	if err != nil {
		return nil, err
	}
	inFields := input.Fields()
	keep := make([]int, len(req.Columns))
	fields := make([]Field, len(req.Columns))
	for i, name := range req.Columns {
		pos, err := resolveColumn(inFields, name)
		if err != nil {
			return nil, err
		}
		keep[i] = pos
		fields[i] = inFields[pos]
	}
	return &Project{Input: input, Keep: keep, fields: fields}, nil
}

func (b *Builder) buildJoin(req *joinReq, depth int) (Node, error) {
	var kind JoinKind
	switch req.Kind {
	case "inner":
		kind = JoinInner
	case "left":
		kind = JoinLeft
	case "right":
		kind = JoinRight
	case "cross":
		kind = JoinCross
	default:
		return nil, fmt.Errorf("%w: join kind %q", relerr.ErrBadRequest, req.Kind)
	}

	left, err := b.build(&req.Left, depth)
	if err != nil {
		return nil, err
	}
	right, err := b.build(&req.Right, depth)
	if err != nil {
		return nil, err
	}

	join := &Join{Kind: kind, Left: left, Right: right, LeftCol: -1, RightCol: -1}
	join.fields = append(append([]Field{}, left.Fields()...), right.Fields()...)

	if kind == JoinCross {
		if req.On != nil {
			return nil, fmt.Errorf("%w: cross join takes no on clause", relerr.ErrBadRequest)
		}
		return join, nil
	}
	if req.On == nil {
		return nil, fmt.Errorf("%w: %s join needs an on clause", relerr.ErrBadRequest, req.Kind)
	}

	lpos, err := resolveColumn(left.Fields(), req.On.Left)
	if err != nil {
		return nil, err
	}
	rpos, err := resolveColumn(right.Fields(), req.On.Right)
	if err != nil {
		return nil, err
	}
	lk, rk := left.Fields()[lpos].Kind, right.Fields()[rpos].Kind
	if !comparableKinds(lk, rk) {
		return nil, fmt.Errorf("%w: cannot join %s (%s) with %s (%s)",
			relerr.ErrTypeMismatch, req.On.Left, lk, req.On.Right, rk)
	}
	join.LeftCol, join.RightCol = lpos, rpos
	return join, nil
}

func (b *Builder) buildAggregate(req *aggReq, depth int) (Node, error) {
	input, err := b.build(&req.Input, depth)
	if err != nil {
		return nil, err
	}
	inFields := input.Fields()

	agg := &Aggregate{Input: input}
	for _, name := range req.GroupBy {
		pos, err := resolveColumn(inFields, name)
		if err != nil {
			return nil, err
		}
		agg.GroupBy = append(agg.GroupBy, pos)
		agg.fields = append(agg.fields, inFields[pos])
	}

	for _, spec := range req.Aggs {
		var fn AggFn
		switch spec.Fn {
		case "count":
			fn = AggCount
		case "sum":
			fn = AggSum
		case "min":
			fn = AggMin
		case "max":
			fn = AggMax
		case "avg":
			fn = AggAvg
		default:
			return nil, fmt.Errorf("%w: aggregate %q", relerr.ErrBadRequest, spec.Fn)
		}

		col := -1
		name := "count"
		var colKind types.Kind
		if spec.Column != "" {
			pos, err := resolveColumn(inFields, spec.Column)
			if err != nil {
				return nil, err
			}
			col = pos
			colKind = inFields[pos].Kind
			name = spec.Fn + "_" + spec.Column
		} else if fn != AggCount {
			return nil, fmt.Errorf("%w: %s needs a column", relerr.ErrBadRequest, spec.Fn)
		}

		var kind types.Kind
		switch fn {
		case AggCount:
			kind = types.KindInt
		case AggAvg, AggSum:
			if colKind != types.KindInt && colKind != types.KindFloat {
				return nil, fmt.Errorf("%w: %s over %s column %s",
					relerr.ErrTypeMismatch, spec.Fn, colKind, spec.Column)
			}
			kind = colKind
			if fn == AggAvg {
				kind = types.KindFloat
			}
		default:
			kind = colKind
		}

		agg.Aggs = append(agg.Aggs, AggSpec{Fn: fn, Col: col, Kind: kind})
		agg.fields = append(agg.fields, Field{Name: name, Kind: kind})
	}
	return agg, nil
}

func (b *Builder) buildSort(req *sortReq, depth int) (Node, error) {
	input, err := b.build(&req.Input, depth)
	if err != nil {
		return nil, err
	}
	sort := &Sort{Input: input}
	for _, key := range req.Keys {
		pos, err := resolveColumn(input.Fields(), key.Column)
		if err != nil {
			return nil, err
		}
		sort.Keys = append(sort.Keys, SortKey{Col: pos, Desc: key.Desc})
	}
	return sort, nil
}

func (b *Builder) buildLimit(req *limitReq, depth int) (Node, error) {
	input, err := b.build(&req.Input, depth)
	if err != nil {
		return nil, err
	}
	count := int64(-1)
	if req.Count != nil {
		count = *req.Count
	}
	return &Limit{Input: input, Offset: req.Offset, Count: count}, nil
}

func (b *Builder) buildView(name string, extraFilter *exprReq, depth int) (Node, error) {
	if depth >= maxViewDepth {
		return nil, fmt.Errorf("%w: view nesting deeper than %d at %s", relerr.ErrBadRequest, maxViewDepth, name)
	}
	view, err := b.cat.View(name)
	if err != nil {
		return nil, err
	}
	var req nodeReq
	if err := json.Unmarshal(view.Plan, &req); err != nil {
		return nil, fmt.Errorf("%w: view %s: %v", relerr.ErrBadRequest, name, err)
	}
	node, err := b.build(&req, depth+1)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", name, err)
	}
	if extraFilter == nil {
		return node, nil
	}
	return b.applyFilter(node, extraFilter)
}

func resolveColumn(fields []Field, name string) (int, error) {
	for i, f := range fields {
		if f.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", relerr.ErrColumnNotFound, name)
}

func comparableKinds(a, b types.Kind) bool {
	if a == b {
		return true
	}
	numeric := func(k types.Kind) bool { return k == types.KindInt || k == types.KindFloat }
	return numeric(a) && numeric(b)
}

func buildExpr(req *exprReq, fields []Field) (Expr, error) {
	set := 0
	if len(req.And) > 0 {
		set++
	}
	if len(req.Or) > 0 {
		set++
	}
	if req.Not != nil {
		set++
	}
	if req.Cmp != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: expression needs exactly one of and/or/not/cmp", relerr.ErrBadRequest)
	}

	switch {
	case len(req.And) > 0:
		kids, err := buildExprList(req.And, fields)
		if err != nil {
			return nil, err
		}
		return &And{Kids: kids}, nil
	case len(req.Or) > 0:
		kids, err := buildExprList(req.Or, fields)
		if err != nil {
			return nil, err
		}
		return &Or{Kids: kids}, nil
	case req.Not != nil:
		kid, err := buildExpr(req.Not, fields)
		if err != nil {
			return nil, err
		}
		return &Not{Kid: kid}, nil
	default:
		return buildCmp(req.Cmp, fields)
	}
}

func buildExprList(reqs []exprReq, fields []Field) ([]Expr, error) {
	kids := make([]Expr, len(reqs))
	for i := range reqs {
		kid, err := buildExpr(&reqs[i], fields)
		if err != nil {
			return nil, err
		}
		kids[i] = kid
	}
	return kids, nil
}

var cmpOps = map[string]CmpOp{
	"eq": CmpEq, "ne": CmpNe, "lt": CmpLt, "le": CmpLe, "gt": CmpGt, "ge": CmpGe,
}

func buildCmp(req *cmpReq, fields []Field) (Expr, error) {
	op, ok := cmpOps[req.Op]
	if !ok {
		return nil, fmt.Errorf("%w: comparison op %q", relerr.ErrBadRequest, req.Op)
	}
	col, err := resolveColumn(fields, req.Column)
	if err != nil {
		return nil, err
	}

	hasValue := req.Value != nil
	hasRhs := req.RhsColumn != ""
	if hasValue == hasRhs {
		return nil, fmt.Errorf("%w: comparison needs exactly one of value/rhs_column", relerr.ErrBadRequest)
	}

	if hasRhs {
		rhs, err := resolveColumn(fields, req.RhsColumn)
		if err != nil {
			return nil, err
		}
		if !comparableKinds(fields[col].Kind, fields[rhs].Kind) {
			return nil, fmt.Errorf("%w: cannot compare %s (%s) with %s (%s)",
				relerr.ErrTypeMismatch, req.Column, fields[col].Kind, req.RhsColumn, fields[rhs].Kind)
		}
		return &Cmp{Op: op, Col: col, RhsCol: rhs, RhsIsCol: true}, nil
	}

	lit := *req.Value
	if !lit.IsNull() && !comparableKinds(fields[col].Kind, lit.Kind) {
		return nil, fmt.Errorf("%w: cannot compare %s (%s) with %s literal",
			relerr.ErrTypeMismatch, req.Column, fields[col].Kind, lit.Kind)
	}
	return &Cmp{Op: op, Col: col, Lit: lit}, nil
}

// chooseIndex rewrites a predicated scan into an index scan when an index
// can satisfy a leading-column prefix of its conjuncts: equalities on the
// leading key columns, then at most one bounded range on the next. Used
// conjuncts come off the plan; the rest stay as the residual predicate.
func (b *Builder) chooseIndex(scan *Scan) Node {
	if scan.Pred == nil {
		return scan
	}
	candidates := b.cat.TableIndexes(scan.Table.Schema.Name)
	if len(candidates) == 0 {
		return scan
	}

	conj := conjuncts(scan.Pred)
	type litCmp struct {
		pos int
		cmp *Cmp
	}
	byCol := make(map[int][]litCmp)
	for i, e := range conj {
		c, ok := e.(*Cmp)
		if !ok || c.RhsIsCol || c.Lit.IsNull() {
			continue
		}
		byCol[c.Col] = append(byCol[c.Col], litCmp{pos: i, cmp: c})
	}
	if len(byCol) == 0 {
		return scan
	}

	var best *IndexScan
	bestScore := 0
	var bestUsed map[int]bool

	for _, ix := range candidates {
		cols := ix.Columns()
		used := make(map[int]bool)
		var eq []types.Value

		k := 0
		for ; k < len(cols); k++ {
			found := false
			for _, lc := range byCol[cols[k]] {
				if lc.cmp.Op != CmpEq {
					continue
				}
				v, ok := coerceToKind(lc.cmp.Lit, scan.fields[cols[k]].Kind)
				if !ok {
					continue
				}
				eq = append(eq, v)
				used[lc.pos] = true
				found = true
				break
			}
			if !found {
				break
			}
		}

		var low, high []types.Value
		lowInc, highInc := true, true
		hasRange := false
		if k < len(cols) {
			for _, lc := range byCol[cols[k]] {
				v, ok := coerceToKind(lc.cmp.Lit, scan.fields[cols[k]].Kind)
				if !ok {
					continue
				}
				switch lc.cmp.Op {
				case CmpGt, CmpGe:
					if low != nil {
						continue
					}
					low = append(tupleCopy(eq), v)
					lowInc = lc.cmp.Op == CmpGe
				case CmpLt, CmpLe:
					if high != nil {
						continue
					}
					high = append(tupleCopy(eq), v)
					highInc = lc.cmp.Op == CmpLe
				default:
					continue
				}
				used[lc.pos] = true
				hasRange = true
			}
		}

		score := 2 * k
		if hasRange {
			score++
		}
		if score == 0 || score <= bestScore {
			continue
		}

		if low == nil && len(eq) > 0 {
			low, lowInc = tupleCopy(eq), true
		}
		if high == nil && len(eq) > 0 {
			high, highInc = tupleCopy(eq), true
		}
		best = &IndexScan{
			Table: scan.Table, Index: ix,
			Low: low, High: high, LowInc: lowInc, HighInc: highInc,
			fields: scan.fields,
		}
		bestScore = score
		bestUsed = used
	}

	if best == nil {
		return scan
	}
	var rest []Expr
	for i, e := range conj {
		if !bestUsed[i] {
			rest = append(rest, e)
		}
	}
	switch len(rest) {
	case 0:
	case 1:
		best.Pred = rest[0]
	default:
		best.Pred = &And{Kids: rest}
	}
	return best
}

func tupleCopy(vals []types.Value) []types.Value {
	return append([]types.Value(nil), vals...)
}

// conjuncts flattens nested ANDs into a list.
func conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if and, ok := e.(*And); ok {
		var out []Expr
		for _, kid := range and.Kids {
			out = append(out, conjuncts(kid)...)
		}
		return out
	}
	return []Expr{e}
}
