package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/relicdb/relic/internal/engine"
	"github.com/relicdb/relic/internal/txn"
	"github.com/relicdb/relic/internal/types"
)

// Shell drives one engine from a terminal. A transaction opened with
// .begin holds across lines until .commit or .rollback; without one,
// every statement commits on its own.
type Shell struct {
	eng *engine.Engine
	tx  *txn.Txn
	out io.Writer
}

func New(eng *engine.Engine, out io.Writer) *Shell {
	return &Shell{eng: eng, out: out}
}

// Run is the interactive loop. It owns terminal state and history; the
// caller still owns the engine.
func (s *Shell) Run() error {
	rl := liner.NewLiner()
	defer rl.Close()
	rl.SetCtrlCAborts(true)

	histPath := historyPath()
	if f, err := os.Open(histPath); err == nil {
		rl.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			rl.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(s.out, "relic shell. Type .help for commands, .quit to leave.")
	for {
		prompt := "relic> "
		if s.tx != nil {
			prompt = "relic*> "
		}
		input, err := rl.Prompt(prompt)
		if err == liner.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		rl.AppendHistory(input)

		quit, err := s.Execute(input)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relic_history"
	}
	return filepath.Join(home, ".relic_history")
}

// Execute runs one input line. The bool reports whether the shell should
// exit.
func (s *Shell) Execute(line string) (bool, error) {
	switch {
	case strings.HasPrefix(line, "."):
		return s.builtin(line)
	case strings.HasPrefix(line, "{"):
		return false, s.query(json.RawMessage(line))
	default:
		cmd, err := parseLine(line)
		if err != nil {
			return false, err
		}
		return false, s.dispatch(cmd)
	}
}

func (s *Shell) builtin(line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".help":
		s.printHelp()
		return false, nil
	case ".tables":
		for _, name := range s.eng.Catalog().TableNames() {
			fmt.Fprintln(s.out, name)
		}
		return false, nil
	case ".indexes":
		for _, name := range s.eng.Catalog().IndexNames() {
			ix, err := s.eng.Catalog().Index(name)
			if err != nil {
				continue
			}
			kind := "index"
			if ix.Unique() {
				kind = "unique index"
			}
			fmt.Fprintf(s.out, "%s: %s on %s\n", name, kind, ix.Table())
		}
		return false, nil
	case ".views":
		for _, name := range s.eng.Catalog().ViewNames() {
			fmt.Fprintln(s.out, name)
		}
		return false, nil
	case ".schema":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: .schema <table>")
		}
		return false, s.printSchema(fields[1])
	case ".begin":
		if s.tx != nil {
			return false, fmt.Errorf("transaction %d already open", s.tx.ID())
		}
		tx, err := s.eng.Begin()
		if err != nil {
			return false, err
		}
		s.tx = tx
		fmt.Fprintf(s.out, "begin %d\n", tx.ID())
		return false, nil
	case ".commit":
		if s.tx == nil {
			return false, fmt.Errorf("no open transaction")
		}
		err := s.eng.Commit(s.tx)
		s.tx = nil
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "committed")
		return false, nil
	case ".rollback":
		if s.tx == nil {
			return false, fmt.Errorf("no open transaction")
		}
		err := s.eng.Rollback(s.tx)
		s.tx = nil
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "rolled back")
		return false, nil
	case ".sweep":
		n, err := s.eng.SweepNow(context.Background())
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "reclaimed %d\n", n)
		return false, nil
	case ".quit", ".exit":
		if s.tx != nil {
			s.eng.Rollback(s.tx)
			s.tx = nil
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %s; try .help", fields[0])
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `statements
  create table <name> (<col> <type> [not null] [default <lit>] [check "<expr>"], ...)
  create [unique] index <name> on <table> (<col>, ...)
  create view <name> as {<plan json>}
  drop table|index|view <name>
  insert into <table> values (<lit>, ...)
  update <table> set <col> = <lit>, ... [where <col> <op> <lit>]
  delete from <table> [where <col> <op> <lit>]
  scan <table> [where <col> <op> <lit>]
  {<plan json>}                 run a raw plan request

shell
  .tables .indexes .views       list catalog objects
  .schema <table>               show a table definition
  .begin .commit .rollback      explicit transaction control
  .sweep                        reclaim dead versions now
  .quit                         leave
`)
}

func (s *Shell) printSchema(table string) error {
	tbl, err := s.eng.Catalog().Table(table)
	if err != nil {
		return err
	}
	for _, col := range tbl.Schema.Columns {
		line := fmt.Sprintf("  %s %s", col.Name, col.Type)
		if col.NotNull {
			line += " not null"
		}
		if col.Default != nil {
			line += " default " + col.Default.String()
		}
		if col.Check != "" {
			line += fmt.Sprintf(" check %q", col.Check)
		}
		fmt.Fprintln(s.out, line)
	}
	for _, ix := range s.eng.Catalog().TableIndexes(table) {
		cols := make([]string, 0, len(ix.Columns()))
		for _, pos := range ix.Columns() {
			cols = append(cols, tbl.Schema.Columns[pos].Name)
		}
		kind := "index"
		if ix.Unique() {
			kind = "unique index"
		}
		fmt.Fprintf(s.out, "  %s %s (%s)\n", kind, ix.Name(), strings.Join(cols, ", "))
	}
	return nil
}

func (s *Shell) dispatch(cmd *command) error {
	switch {
	case cmd.Create != nil:
		return s.create(cmd.Create)
	case cmd.Drop != nil:
		return s.drop(cmd.Drop)
	case cmd.Insert != nil:
		return s.insert(cmd.Insert)
	case cmd.Update != nil:
		return s.update(cmd.Update)
	case cmd.Delete != nil:
		return s.delete(cmd.Delete)
	case cmd.Scan != nil:
		return s.scan(cmd.Scan)
	}
	return fmt.Errorf("empty command")
}

func (s *Shell) create(cmd *createCmd) error {
	switch {
	case cmd.Table != nil:
		sch, err := cmd.Table.tableSchema()
		if err != nil {
			return err
		}
		if err := s.eng.CreateTable(sch); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "table %s created\n", sch.Name)
	case cmd.Index != nil:
		if err := s.eng.CreateIndex(cmd.Index.Name, cmd.Index.Table, cmd.Index.Columns, cmd.Unique); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "index %s created\n", cmd.Index.Name)
	case cmd.View != nil:
		if err := s.eng.CreateView(cmd.View.Name, json.RawMessage(cmd.View.Plan)); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "view %s created\n", cmd.View.Name)
	}
	return nil
}

func (s *Shell) drop(cmd *dropCmd) error {
	var err error
	switch cmd.Kind {
	case "table":
		err = s.eng.DropTable(cmd.Name)
	case "index":
		err = s.eng.DropIndex(cmd.Name)
	case "view":
		err = s.eng.DropView(cmd.Name)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s dropped\n", cmd.Kind, cmd.Name)
	return nil
}

// write runs fn inside the open transaction if there is one, otherwise
// in a fresh transaction committed on success. Engine-side statement
// failures leave an open transaction usable; rollback here is only for
// the autocommit case.
func (s *Shell) write(fn func(tx *txn.Txn) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	tx, err := s.eng.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		s.eng.Rollback(tx)
		return err
	}
	return s.eng.Commit(tx)
}

func (s *Shell) insert(cmd *insertCmd) error {
	row := make(types.Row, 0, len(cmd.Values))
	for _, l := range cmd.Values {
		v, err := l.value()
		if err != nil {
			return err
		}
		row = append(row, v)
	}
	return s.write(func(tx *txn.Txn) error {
		loc, err := s.eng.Insert(tx, cmd.Table, row)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "inserted at %d\n", loc)
		return nil
	})
}

func (s *Shell) update(cmd *updateCmd) error {
	set := make(map[string]types.Value, len(cmd.Sets))
	for _, a := range cmd.Sets {
		v, err := a.Value.value()
		if err != nil {
			return err
		}
		set[a.Column] = v
	}
	filter, err := whereJSON(cmd.Where)
	if err != nil {
		return err
	}
	return s.write(func(tx *txn.Txn) error {
		n, err := s.eng.Update(tx, cmd.Table, filter, set)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%d updated\n", n)
		return nil
	})
}

func (s *Shell) delete(cmd *deleteCmd) error {
	filter, err := whereJSON(cmd.Where)
	if err != nil {
		return err
	}
	return s.write(func(tx *txn.Txn) error {
		n, err := s.eng.Delete(tx, cmd.Table, filter)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%d deleted\n", n)
		return nil
	})
}

func whereJSON(where *comparison) (json.RawMessage, error) {
	if where == nil {
		return nil, nil
	}
	return where.filterJSON()
}

func (s *Shell) scan(cmd *scanCmd) error {
	node := map[string]any{"table": cmd.Table}
	if cmd.Where != nil {
		filter, err := cmd.Where.filterJSON()
		if err != nil {
			return err
		}
		node["filter"] = filter
	}
	raw, err := json.Marshal(map[string]any{"scan": node})
	if err != nil {
		return err
	}
	return s.query(raw)
}

func (s *Shell) query(raw json.RawMessage) error {
	res, err := s.eng.Query(context.Background(), s.tx, raw)
	if err != nil {
		return err
	}
	s.render(res)
	return nil
}
