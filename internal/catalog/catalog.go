package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/schema"
	"github.com/relicdb/relic/internal/storage"
	"github.com/relicdb/relic/internal/types"
)

// Table is one registered table: its schema, compiled CHECK programs and
// heap storage. Indexes live on the catalog, keyed by name.
type Table struct {
	Schema  *schema.Table
	Checker *schema.Checker
	Store   *storage.Table
}

func (t *Table) Object() types.ObjectID { return t.Store.Object() }

// View is a named stored plan. The plan is kept as raw JSON and spliced
// into referencing queries at build time.
type View struct {
	Name string
	Plan json.RawMessage
}

// Catalog is the in-memory registry of tables, indexes and views. It is
// rebuilt from the WAL at startup; durability belongs to the log, not
// here. Tables and views share one namespace.
type Catalog struct {
	mu         sync.RWMutex
	tables     map[string]*Table
	byObject   map[types.ObjectID]*Table
	indexes    map[string]*index.Index
	byTable    map[string][]*index.Index
	views      map[string]*View
	nextObject types.ObjectID

	cache *storage.RowCache
	log   *logger.Logger
}

func New(cache *storage.RowCache, log *logger.Logger) *Catalog {
	return &Catalog{
		tables:     make(map[string]*Table),
		byObject:   make(map[types.ObjectID]*Table),
		indexes:    make(map[string]*index.Index),
		byTable:    make(map[string][]*index.Index),
		views:      make(map[string]*View),
		nextObject: 1,
		cache:      cache,
		log:        log,
	}
}

// AllocObject hands out the next table object id.
func (c *Catalog) AllocObject() types.ObjectID {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj := c.nextObject
	c.nextObject++
	return obj
}

// AddTable validates and registers a table under obj. Replay calls this
// with the logged object id; live DDL with a fresh one from AllocObject.
func (c *Catalog) AddTable(sch *schema.Table, obj types.ObjectID) (*Table, error) {
	if err := sch.Validate(); err != nil {
		return nil, err
	}
	checker, err := schema.NewChecker(sch)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[sch.Name]; ok {
		return nil, fmt.Errorf("%w: %s", relerr.ErrTableExists, sch.Name)
	}
	if _, ok := c.views[sch.Name]; ok {
		return nil, fmt.Errorf("%w: %s", relerr.ErrViewExists, sch.Name)
	}

	t := &Table{
		Schema:  sch,
		Checker: checker,
		Store:   storage.NewTable(obj, c.cache),
	}
	c.tables[sch.Name] = t
	c.byObject[obj] = t
	if obj >= c.nextObject {
		c.nextObject = obj + 1
	}
	c.log.Info("Created table: %s (object=%d, columns=%d)", sch.Name, obj, len(sch.Columns))
	return t, nil
}

// DropTable unregisters a table and every index on it.
func (c *Catalog) DropTable(name string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", relerr.ErrTableNotFound, name)
	}
	for _, ix := range c.byTable[name] {
		delete(c.indexes, ix.Name())
	}
	delete(c.byTable, name)
	delete(c.tables, name)
	delete(c.byObject, t.Object())
	c.log.Info("Dropped table: %s", name)
	return t, nil
}

func (c *Catalog) Table(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", relerr.ErrTableNotFound, name)
	}
	return t, nil
}

func (c *Catalog) TableByObject(obj types.ObjectID) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byObject[obj]
	if !ok {
		return nil, fmt.Errorf("%w: object %d", relerr.ErrTableNotFound, obj)
	}
	return t, nil
}

func (c *Catalog) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddIndex registers ix under its name and table.
func (c *Catalog) AddIndex(ix *index.Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.indexes[ix.Name()]; ok {
		return fmt.Errorf("%w: %s", relerr.ErrIndexExists, ix.Name())
	}
	if _, ok := c.tables[ix.Table()]; !ok {
		return fmt.Errorf("%w: %s", relerr.ErrTableNotFound, ix.Table())
	}
	c.indexes[ix.Name()] = ix
	c.byTable[ix.Table()] = append(c.byTable[ix.Table()], ix)
	if ix.Object() >= c.nextObject {
		c.nextObject = ix.Object() + 1
	}
	c.log.Info("Created index: %s on %s (unique=%v)", ix.Name(), ix.Table(), ix.Unique())
	return nil
}

func (c *Catalog) DropIndex(name string) (*index.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ix, ok := c.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", relerr.ErrIndexNotFound, name)
	}
	delete(c.indexes, name)
	list := c.byTable[ix.Table()]
	for i, other := range list {
		if other == ix {
			c.byTable[ix.Table()] = append(list[:i], list[i+1:]...)
			break
		}
	}
	c.log.Info("Dropped index: %s", name)
	return ix, nil
}

func (c *Catalog) Index(name string) (*index.Index, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ix, ok := c.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", relerr.ErrIndexNotFound, name)
	}
	return ix, nil
}

// TableIndexes returns the indexes on a table. The slice is a copy; DDL
// may run while callers iterate.
func (c *Catalog) TableIndexes(table string) []*index.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.byTable[table]
	out := make([]*index.Index, len(list))
	copy(out, list)
	return out
}

func (c *Catalog) IndexNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddView registers a stored plan under name.
func (c *Catalog) AddView(name string, plan json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.views[name]; ok {
		return fmt.Errorf("%w: %s", relerr.ErrViewExists, name)
	}
	if _, ok := c.tables[name]; ok {
		return fmt.Errorf("%w: %s", relerr.ErrTableExists, name)
	}
	c.views[name] = &View{Name: name, Plan: plan}
	c.log.Info("Created view: %s", name)
	return nil
}

func (c *Catalog) DropView(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.views[name]; !ok {
		return fmt.Errorf("%w: %s", relerr.ErrViewNotFound, name)
	}
	delete(c.views, name)
	c.log.Info("Dropped view: %s", name)
	return nil
}

func (c *Catalog) View(name string) (*View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", relerr.ErrViewNotFound, name)
	}
	return v, nil
}

func (c *Catalog) ViewNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.views))
	for name := range c.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
