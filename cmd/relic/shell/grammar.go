// Package shell is the interactive front end. It speaks a small
// line-oriented command language for DDL and DML plus raw plan requests:
// any line opening with '{' goes to the query engine untouched, and
// lines opening with '.' are shell built-ins.
package shell

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/relicdb/relic/internal/schema"
	"github.com/relicdb/relic/internal/types"
)

// command is one parsed input line.
type command struct {
	Create *createCmd `parser:"  'create' @@"`
	Drop   *dropCmd   `parser:"| 'drop' @@"`
	Insert *insertCmd `parser:"| 'insert' @@"`
	Update *updateCmd `parser:"| 'update' @@"`
	Delete *deleteCmd `parser:"| 'delete' @@"`
	Scan   *scanCmd   `parser:"| 'scan' @@"`
}

type createCmd struct {
	Unique bool      `parser:"@'unique'?"`
	Table  *tableDef `parser:"( 'table' @@"`
	Index  *indexDef `parser:"| 'index' @@"`
	View   *viewDef  `parser:"| 'view' @@ )"`
}

type tableDef struct {
	Name    string   `parser:"@Ident"`
	Columns []colDef `parser:"'(' @@ (',' @@)* ')'"`
}

type colDef struct {
	Name    string  `parser:"@Ident"`
	Type    string  `parser:"@('int' | 'float' | 'bool' | 'string')"`
	NotNull bool    `parser:"@('not' 'null')?"`
	Default *lit    `parser:"('default' @@)?"`
	Check   *string `parser:"('check' @String)?"`
}

type indexDef struct {
	Name    string   `parser:"@Ident 'on'"`
	Table   string   `parser:"@Ident"`
	Columns []string `parser:"'(' @Ident (',' @Ident)* ')'"`
}

type viewDef struct {
	Name string `parser:"@Ident 'as'"`
	Plan string `parser:"@Json"`
}

type dropCmd struct {
	Kind string `parser:"@('table' | 'index' | 'view')"`
	Name string `parser:"@Ident"`
}

type insertCmd struct {
	Table  string `parser:"'into' @Ident"`
	Values []lit  `parser:"'values' '(' @@ (',' @@)* ')'"`
}

type updateCmd struct {
	Table string      `parser:"@Ident 'set'"`
	Sets  []assign    `parser:"@@ (',' @@)*"`
	Where *comparison `parser:"('where' @@)?"`
}

type assign struct {
	Column string `parser:"@Ident '='"`
	Value  lit    `parser:"@@"`
}

type deleteCmd struct {
	Table string      `parser:"'from' @Ident"`
	Where *comparison `parser:"('where' @@)?"`
}

type scanCmd struct {
	Table string      `parser:"@Ident"`
	Where *comparison `parser:"('where' @@)?"`
}

type comparison struct {
	Column string `parser:"@Ident"`
	Op     string `parser:"@Op"`
	Value  lit    `parser:"@@"`
}

type lit struct {
	Null  bool    `parser:"  @'null'"`
	True  bool    `parser:"| @'true'"`
	False bool    `parser:"| @'false'"`
	Num   *string `parser:"| @Number"`
	Str   *string `parser:"| @String"`
}

// Json must outrank everything so a brace swallows the rest of the line;
// input is parsed one line at a time so the pattern never crosses lines.
var shellLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Json", Pattern: `\{[^\n]*`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `-?\d+(\.\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Op", Pattern: `<=|>=|!=|=|<|>`},
	{Name: "Punct", Pattern: `[(),]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var cmdParser = participle.MustBuild[command](
	participle.Lexer(shellLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
)

func parseLine(line string) (*command, error) {
	cmd, err := cmdParser.ParseString("", line)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %q: %w", line, err)
	}
	if cmd.Create != nil && cmd.Create.Unique && cmd.Create.Index == nil {
		return nil, fmt.Errorf("unique only applies to indexes")
	}
	return cmd, nil
}

func (l lit) value() (types.Value, error) {
	switch {
	case l.Null:
		return types.Null(), nil
	case l.True:
		return types.NewBool(true), nil
	case l.False:
		return types.NewBool(false), nil
	case l.Num != nil:
		if strings.Contains(*l.Num, ".") {
			f, err := strconv.ParseFloat(*l.Num, 64)
			if err != nil {
				return types.Null(), err
			}
			return types.NewFloat(f), nil
		}
		i, err := strconv.ParseInt(*l.Num, 10, 64)
		if err != nil {
			return types.Null(), err
		}
		return types.NewInt(i), nil
	case l.Str != nil:
		s, err := strconv.Unquote(*l.Str)
		if err != nil {
			return types.Null(), fmt.Errorf("bad string %s: %w", *l.Str, err)
		}
		return types.NewString(s), nil
	}
	return types.Null(), fmt.Errorf("empty literal")
}

var cmpOps = map[string]string{
	"=": "eq", "!=": "ne", "<": "lt", "<=": "le", ">": "gt", ">=": "ge",
}

// filterJSON renders a where clause as the engine's expression form.
func (c *comparison) filterJSON() (json.RawMessage, error) {
	op, ok := cmpOps[c.Op]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", c.Op)
	}
	v, err := c.Value.value()
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"cmp": map[string]any{"op": op, "column": c.Column, "value": v},
	})
}

func (d *tableDef) tableSchema() (*schema.Table, error) {
	sch := &schema.Table{Name: d.Name}
	for _, c := range d.Columns {
		kind, ok := types.KindFromString(c.Type)
		if !ok {
			return nil, fmt.Errorf("unknown column type %q", c.Type)
		}
		col := schema.Column{Name: c.Name, Type: kind, NotNull: c.NotNull}
		if c.Default != nil {
			v, err := c.Default.value()
			if err != nil {
				return nil, err
			}
			col.Default = &v
		}
		if c.Check != nil {
			expr, err := strconv.Unquote(*c.Check)
			if err != nil {
				return nil, fmt.Errorf("bad check expression: %w", err)
			}
			col.Check = expr
		}
		sch.Columns = append(sch.Columns, col)
	}
	return sch, nil
}
