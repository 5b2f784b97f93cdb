package txn

import (
	"fmt"
	"sync"

	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/metrics"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// CommitLog is where commit markers go. Commit appends and flushes the
// marker before any in-memory state changes; the WAL writer satisfies this.
type CommitLog interface {
	AppendCommit(tx types.TxID) error
}

// Manager hands out transactions with strictly increasing ids and runs the
// commit protocol: conflict check, commit marker to the log, then stamps
// and status flip. commitMu serializes committers so first-committer-wins
// is literal.
type Manager struct {
	log *logger.Logger
	wal CommitLog

	mu       sync.RWMutex
	nextID   types.TxID
	statuses map[types.TxID]State
	active   map[types.TxID]*Txn

	// floor: every id below it is committed. Vacuum raises it after
	// pruning aborted work, letting statuses stay bounded.
	floor types.TxID

	commitMu sync.Mutex
}

func NewManager(log *logger.Logger, wal CommitLog) *Manager {
	return &Manager{
		log:      log,
		wal:      wal,
		nextID:   1,
		statuses: make(map[types.TxID]State),
		active:   make(map[types.TxID]*Txn),
	}
}

// Begin starts a transaction. Its snapshot is the set of transactions
// committed at this moment; concurrent ones are captured in activeAtBegin.
func (m *Manager) Begin() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	activeAtBegin := make(map[types.TxID]struct{}, len(m.active))
	xmin := id
	for aid := range m.active {
		activeAtBegin[aid] = struct{}{}
		if aid < xmin {
			xmin = aid
		}
	}

	tx := &Txn{
		id:            id,
		mgr:           m,
		activeAtBegin: activeAtBegin,
		xmin:          xmin,
		state:         TxnActive,
	}
	m.statuses[id] = TxnActive
	m.active[id] = tx
	return tx
}

// Get resolves a transaction id, for shells and request boundaries.
func (m *Manager) Get(id types.TxID) (*Txn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.active[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", relerr.ErrTxnNotFound, id)
	}
	return tx, nil
}

func (m *Manager) statusOf(id types.TxID) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < m.floor {
		return TxnCommitted
	}
	if s, ok := m.statuses[id]; ok {
		return s
	}
	// Unknown ids above the floor never committed.
	return TxnAborted
}

// Commit runs the commit protocol. On a write-write or unique-key loss the
// transaction is aborted and ErrTxnConflict returned; the caller retries
// with a fresh transaction. The commit marker hits the log, flushed,
// strictly before stamps and the status flip.
func (m *Manager) Commit(tx *Txn) error {
	tx.mu.Lock()
	if tx.state != TxnActive {
		tx.mu.Unlock()
		return relerr.ErrTxnFinished
	}
	tx.mu.Unlock()

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if err := m.conflicts(tx); err != nil {
		m.finish(tx, TxnAborted)
		metrics.CommitConflicts.Inc()
		metrics.TransactionsTotal.WithLabelValues("conflict").Inc()
		m.log.Debug("tx %d aborted: %v", tx.id, err)
		return err
	}

	if err := m.wal.AppendCommit(tx.id); err != nil {
		// Nothing applied yet; the transaction stays active and the
		// caller may roll back.
		return fmt.Errorf("commit tx %d: %w", tx.id, err)
	}

	for _, d := range tx.deletes {
		d.ver.StampDeleted(tx.id)
	}
	for _, r := range tx.removals {
		r.entry.StampDeleted(tx.id)
	}

	m.finish(tx, TxnCommitted)
	metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	return nil
}

// conflicts applies first-committer-wins under commitMu. Write-write: a
// version this transaction deletes already carries a stamp from a commit
// outside its snapshot. Unique keys: an entry for the same key was
// committed outside the snapshot and still stands.
func (m *Manager) conflicts(tx *Txn) error {
	for _, d := range tx.deletes {
		if stamp := d.ver.Deleted(); stamp != 0 && !tx.Sees(stamp) {
			return fmt.Errorf("%w: row %d/%d written by tx %d",
				relerr.ErrTxnConflict, d.obj, d.loc, stamp)
		}
	}
	for _, u := range tx.uniques {
		for _, e := range u.ix.Entries(u.key) {
			if e.Location() == u.loc {
				continue
			}
			c := e.Created()
			if c == tx.id || tx.Sees(c) || m.statusOf(c) != TxnCommitted {
				continue
			}
			// Committed after our snapshot. Unless a commit also removed
			// it, the key is taken.
			if rd := e.Deleted(); rd != 0 && m.statusOf(rd) == TxnCommitted {
				continue
			}
			return fmt.Errorf("%w: unique key on index %s taken by tx %d",
				relerr.ErrTxnConflict, u.ix.Name(), c)
		}
	}
	return nil
}

// Rollback abandons the transaction. Nothing was stamped, so there is
// nothing to undo: its versions stay in the heaps, invisible to every
// snapshot, until vacuum collects them. No log flush happens; recovery
// treats the missing commit marker as the rollback.
func (m *Manager) Rollback(tx *Txn) error {
	tx.mu.Lock()
	if tx.state != TxnActive {
		tx.mu.Unlock()
		return relerr.ErrTxnFinished
	}
	tx.mu.Unlock()

	m.finish(tx, TxnAborted)
	metrics.TransactionsTotal.WithLabelValues("rolledback").Inc()
	return nil
}

func (m *Manager) finish(tx *Txn, s State) {
	tx.mu.Lock()
	tx.state = s
	tx.mu.Unlock()

	m.mu.Lock()
	m.statuses[tx.id] = s
	delete(m.active, tx.id)
	m.mu.Unlock()
}

// Horizon is the vacuum bound: every transaction below it was terminal
// before any live transaction began, so all live snapshots agree on it.
func (m *Manager) Horizon() types.TxID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.nextID
	for _, tx := range m.active {
		if tx.xmin < h {
			h = tx.xmin
		}
	}
	return h
}

// RaiseFloor declares every id below h committed and drops their status
// entries. Vacuum calls this after it has removed all aborted work below
// h; surviving versions under the floor are committed by construction.
func (m *Manager) RaiseFloor(h types.TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h <= m.floor {
		return
	}
	m.floor = h
	for id := range m.statuses {
		if id < h {
			delete(m.statuses, id)
		}
	}
}

// ActiveCount reports live transactions, for shutdown and stats.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Recover seeds the manager after WAL replay: ids below next are historic,
// committed holds the replayed commit set, everything else under next is
// aborted. The floor starts at 0; the first vacuum raises it.
func (m *Manager) Recover(next types.TxID, committed map[types.TxID]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next > m.nextID {
		m.nextID = next
	}
	for id := range committed {
		m.statuses[id] = TxnCommitted
	}
}

// Committed reports whether id committed, for recovery-time index rebuilds
// and tooling.
func (m *Manager) Committed(id types.TxID) bool {
	return m.statusOf(id) == TxnCommitted
}

// Aborted reports whether id rolled back, lost a conflict, or was never
// committed on a replayed log. Vacuum uses this to drop dead versions.
func (m *Manager) Aborted(id types.TxID) bool {
	return m.statusOf(id) == TxnAborted
}
