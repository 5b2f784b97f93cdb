package schema

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"

	"github.com/relicdb/relic/internal/relerr"
)

// Checker compiles and evaluates CHECK expressions for one table. Programs
// are compiled once and cached; evaluation happens on every insert and
// update.
type Checker struct {
	env      *cel.Env
	prgCache sync.Map // map[string]checkProgram
}

type checkProgram struct {
	prg  cel.Program
	refs []string // column names the expression reads
}

// NewChecker builds a CEL environment declaring every column as a dynamic
// variable and eagerly compiles each column's CHECK so bad expressions fail
// at DDL time, not first insert.
func NewChecker(t *Table) (*Checker, error) {
	opts := make([]cel.EnvOption, 0, len(t.Columns))
	for _, c := range t.Columns {
		opts = append(opts, cel.Declarations(decls.NewVar(c.Name, decls.Dyn)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ck := &Checker{env: env}
	for _, c := range t.Columns {
		if c.Check == "" {
			continue
		}
		if _, err := ck.compile(c.Check); err != nil {
			return nil, fmt.Errorf("%w: column %s: %v", relerr.ErrBadSchema, c.Name, err)
		}
	}
	return ck, nil
}

func (ck *Checker) compile(expression string) (checkProgram, error) {
	if val, ok := ck.prgCache.Load(expression); ok {
		return val.(checkProgram), nil
	}
	ast, issues := ck.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return checkProgram{}, fmt.Errorf("compile error: %s", issues.Err())
	}
	prg, err := ck.env.Program(ast)
	if err != nil {
		return checkProgram{}, fmt.Errorf("program construction error: %s", err)
	}
	cp := checkProgram{prg: prg, refs: referencedNames(ast)}
	ck.prgCache.Store(expression, cp)
	return cp, nil
}

// Eval runs one CHECK expression against a row context. A NULL in any
// referenced column makes the check pass, matching SQL's three-valued
// rule that only a definite false rejects the row.
func (ck *Checker) Eval(expression string, rowCtx map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil
	}
	cp, err := ck.compile(expression)
	if err != nil {
		return false, err
	}
	for _, name := range cp.refs {
		if v, ok := rowCtx[name]; ok && v == nil {
			return true, nil
		}
	}
	out, _, err := cp.prg.Eval(rowCtx)
	if err != nil {
		return false, fmt.Errorf("eval error: %s", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("check must return boolean")
	}
	return result, nil
}

// CheckRow evaluates every column CHECK for the table against one
// normalized row.
func (ck *Checker) CheckRow(t *Table, row map[string]interface{}) error {
	for _, c := range t.Columns {
		if c.Check == "" {
			continue
		}
		ok, err := ck.Eval(c.Check, row)
		if err != nil {
			return fmt.Errorf("%w: column %s: %v", relerr.ErrCheckViolation, c.Name, err)
		}
		if !ok {
			return fmt.Errorf("%w: column %s: %s", relerr.ErrCheckViolation, c.Name, c.Check)
		}
	}
	return nil
}

// referencedNames pulls the identifiers an expression reads from its
// checked AST, so Eval can spot NULL operands without running the program.
func referencedNames(ast *cel.Ast) []string {
	ce, err := cel.AstToCheckedExpr(ast)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, ref := range ce.GetReferenceMap() {
		if name := ref.GetName(); name != "" {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}
