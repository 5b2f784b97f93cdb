package engine

import (
	"encoding/json"
	"fmt"

	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/schema"
	"github.com/relicdb/relic/internal/types"
	"github.com/relicdb/relic/internal/wal"
)

// DDL record payloads. Each carries enough to redo the change on an empty
// catalog; the table manifest also carries the schema fingerprint so a
// replayed definition that was altered or truncated on disk is refused.
type tableManifest struct {
	Schema      *schema.Table `json:"schema"`
	Fingerprint string        `json:"fingerprint"`
}

type indexManifest struct {
	Name    string `json:"name"`
	Table   string `json:"table"`
	Columns []int  `json:"columns"`
	Unique  bool   `json:"unique"`
}

type viewManifest struct {
	Name string          `json:"name"`
	Plan json.RawMessage `json:"plan"`
}

type nameManifest struct {
	Name string `json:"name"`
}

// recover replays the log into the empty catalog. The first pass collects
// the committed set and high-water marks (truncating a torn active tail);
// the second applies DDL and the DML of committed transactions in LSN
// order, placing every version at its recorded location and sequence.
// Indexes are rebuilt from the recovered chain heads at the end.
func (e *Engine) recover(walPath string) (*wal.ScanResult, error) {
	rec := wal.NewRecovery(walPath, e.log)
	res, err := rec.Scan()
	if err != nil {
		return nil, fmt.Errorf("wal scan: %w", err)
	}

	committed := func(id types.TxID) bool {
		_, ok := res.Committed[id]
		return ok
	}

	err = rec.Replay(func(r *wal.Record) error {
		if r.Op == wal.OpCommit || !committed(r.TxID) {
			return nil
		}
		switch r.Op {
		case wal.OpInsert:
			tbl, err := e.cat.TableByObject(r.Object)
			if relerr.IsNotFound(err) {
				// A committed drop removed the table; a statement that
				// raced the drop may still have committed rows behind
				// it in the log. The data is moot either way.
				e.log.Debug("Skipping insert at lsn %d for dropped object %d", r.LSN, r.Object)
				return nil
			}
			if err != nil {
				return fmt.Errorf("replay insert at lsn %d: %w", r.LSN, err)
			}
			tbl.Store.Heap().ApplyVersion(r.Location, r.Seq, r.TxID, r.Payload)
			return nil

		case wal.OpDelete:
			tbl, err := e.cat.TableByObject(r.Object)
			if relerr.IsNotFound(err) {
				e.log.Debug("Skipping delete at lsn %d for dropped object %d", r.LSN, r.Object)
				return nil
			}
			if err != nil {
				return fmt.Errorf("replay delete at lsn %d: %w", r.LSN, err)
			}
			if err := tbl.Store.Heap().ApplyDelete(r.Location, r.Seq, r.TxID); err != nil {
				return fmt.Errorf("replay delete at lsn %d: %w", r.LSN, err)
			}
			return nil

		case wal.OpCreateTable:
			var m tableManifest
			if err := json.Unmarshal(r.Payload, &m); err != nil {
				return fmt.Errorf("replay create table at lsn %d: %w", r.LSN, relerr.ErrCorruptRecord)
			}
			if m.Schema == nil || m.Schema.FingerprintHex() != m.Fingerprint {
				return fmt.Errorf("%w: lsn %d", relerr.ErrSchemaFingerprint, r.LSN)
			}
			_, err := e.cat.AddTable(m.Schema, r.Object)
			return err

		case wal.OpDropTable:
			var m nameManifest
			if err := json.Unmarshal(r.Payload, &m); err != nil {
				return fmt.Errorf("replay drop table at lsn %d: %w", r.LSN, relerr.ErrCorruptRecord)
			}
			_, err := e.cat.DropTable(m.Name)
			return err

		case wal.OpCreateIndex:
			var m indexManifest
			if err := json.Unmarshal(r.Payload, &m); err != nil {
				return fmt.Errorf("replay create index at lsn %d: %w", r.LSN, relerr.ErrCorruptRecord)
			}
			return e.cat.AddIndex(index.New(m.Name, r.Object, m.Table, m.Columns, m.Unique))

		case wal.OpDropIndex:
			var m nameManifest
			if err := json.Unmarshal(r.Payload, &m); err != nil {
				return fmt.Errorf("replay drop index at lsn %d: %w", r.LSN, relerr.ErrCorruptRecord)
			}
			_, err := e.cat.DropIndex(m.Name)
			return err

		case wal.OpCreateView:
			var m viewManifest
			if err := json.Unmarshal(r.Payload, &m); err != nil {
				return fmt.Errorf("replay create view at lsn %d: %w", r.LSN, relerr.ErrCorruptRecord)
			}
			return e.cat.AddView(m.Name, m.Plan)

		case wal.OpDropView:
			var m nameManifest
			if err := json.Unmarshal(r.Payload, &m); err != nil {
				return fmt.Errorf("replay drop view at lsn %d: %w", r.LSN, relerr.ErrCorruptRecord)
			}
			return e.cat.DropView(m.Name)

		default:
			return fmt.Errorf("replay lsn %d: %w: op %d", r.LSN, relerr.ErrCorruptRecord, r.Op)
		}
	})
	if err != nil {
		return nil, err
	}

	e.mgr.Recover(res.MaxTxID+1, res.Committed)

	if err := e.rebuildIndexes(); err != nil {
		return nil, err
	}
	if res.Records > 0 {
		e.log.Info("Recovered %d WAL records, %d committed transactions", res.Records, len(res.Committed))
	}
	return res, nil
}

// rebuildIndexes reloads every index from its table's chain heads. Replay
// applied committed work only, so a head with no delete stamp is exactly a
// live row, and entries keep the row's original creator so every snapshot
// agrees with the heap.
func (e *Engine) rebuildIndexes() error {
	for _, name := range e.cat.IndexNames() {
		ix, err := e.cat.Index(name)
		if err != nil {
			return err
		}
		tbl, err := e.cat.Table(ix.Table())
		if err != nil {
			return fmt.Errorf("rebuild index %s: %w", name, err)
		}
		heap := tbl.Store.Heap()
		for i := 0; i < heap.Len(); i++ {
			loc := types.Location(i)
			head, err := heap.Head(loc)
			if err != nil {
				continue // hole left by an uncommitted insert
			}
			if head.Deleted() != 0 {
				continue
			}
			row, err := tbl.Store.Row(loc, head)
			if err != nil {
				return fmt.Errorf("rebuild index %s: %w", name, err)
			}
			ix.Apply(ix.KeyFor(row), loc, head.Created())
		}
	}
	return nil
}
