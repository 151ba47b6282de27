// Package txn owns the before-image buffer, the lock table, and the
// begin/commit/rollback state machine. At most one transaction is open
// at a time, per the single coarse mutex held above this package by the
// engine.
//
// Grounded on storage_engine/transaction_manager/{structs,main,
// rollback_helpers}.go: the Begin/Commit/Abort state-machine shape and
// the rollback-restores-before-images loop are kept, narrowed from a
// map of many concurrently active transactions down to a single
// in_transaction/current_tx_id pair (spec.md §5: at most one
// transaction exists at any time), and reworked from per-row logical
// undo entries to whole-page BIB snapshots (spec.md §4.C mandates
// page-granularity before-images).
package txn

import (
	"fmt"

	"github.com/achehboune/recordvault/heap"
	"github.com/achehboune/recordvault/journal"
	"github.com/achehboune/recordvault/page"
	"github.com/sirupsen/logrus"
)

// BufferPool is the subset of bufferpool.Pool the transaction manager
// needs.
type BufferPool interface {
	Fix(pageID int64) (*page.Frame, error)
	Unfix(pageID int64) error
	Use(pageID int64) error
	Get(pageID int64) *page.Frame
	Frames() []int64
	Evict(pageID int64)
}

// RecordCache is the subset of cache.RecordCache the transaction
// manager invalidates against on write/rollback.
type RecordCache interface {
	Invalidate(recordID int64)
}

// Manager is the begin/commit/rollback state machine plus the before-
// image buffer and lock set it owns.
type Manager struct {
	pool BufferPool
	jrnl *journal.Journal
	rc   RecordCache

	recordCount func() int64
	setCount    func(int64)

	inTransaction      bool
	currentTxID        int64
	nextTxID           int64
	txStartRecordCount int64

	bib   map[int64][]byte
	locks map[int64]struct{}

	log *logrus.Entry
}

// New builds a transaction manager. recordCount/setCount read and write
// the engine's logical record count, which rollback truncates.
func New(pool BufferPool, jrnl *journal.Journal, rc RecordCache, recordCount func() int64, setCount func(int64), log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		pool:        pool,
		jrnl:        jrnl,
		rc:          rc,
		recordCount: recordCount,
		setCount:    setCount,
		nextTxID:    1,
		bib:         make(map[int64][]byte),
		locks:       make(map[int64]struct{}),
		log:         log.WithField("component", "txn"),
	}
}

// InTransaction reports whether a transaction is currently open.
func (m *Manager) InTransaction() bool {
	return m.inTransaction
}

// CurrentTxID returns the active transaction id, or 0 if idle.
func (m *Manager) CurrentTxID() int64 {
	return m.currentTxID
}

// Begin starts a new transaction. If one is already active it is
// implicitly committed first, per spec.md §9's documented design
// decision to preserve that behavior for compatibility.
func (m *Manager) Begin() error {
	if m.inTransaction {
		m.log.WithField("tx_id", m.currentTxID).Warn("begin: implicitly committing active transaction")
		if err := m.Commit(); err != nil {
			return fmt.Errorf("begin: implicit commit failed: %w", err)
		}
	}

	m.inTransaction = true
	m.currentTxID = m.nextTxID
	m.nextTxID++
	m.txStartRecordCount = m.recordCount()

	m.jrnl.Append(journal.Entry{
		TxID:          m.currentTxID,
		RecordID:      -1,
		Type:          journal.Begin,
		CountSnapshot: -1,
	})

	m.log.WithField("tx_id", m.currentTxID).Debug("begin")
	return nil
}

// Commit flushes the transaction's journal entries, clears the
// transactional flag on every frame, and clears the BIB and lock set.
// It never forces a dirty data page — durability is transitive via the
// journal.
func (m *Manager) Commit() error {
	if !m.inTransaction {
		return nil
	}

	m.jrnl.Append(journal.Entry{
		TxID:          m.currentTxID,
		RecordID:      -1,
		Type:          journal.Commit,
		CountSnapshot: -1,
	})
	if err := m.jrnl.Flush(); err != nil {
		return fmt.Errorf("commit tx %d: %w", m.currentTxID, err)
	}

	for _, pageID := range m.pool.Frames() {
		if f := m.pool.Get(pageID); f != nil {
			f.Lock()
			f.Transactional = false
			f.Unlock()
		}
	}

	txID := m.currentTxID
	m.clearTransactionState()
	m.log.WithField("tx_id", txID).Debug("commit")
	return nil
}

// Rollback restores every page snapshotted in the BIB, truncates
// record_count back to its value at begin, drops purely-transactional
// frames that never had a BIB entry, and flushes a ROLLBACK entry.
func (m *Manager) Rollback() error {
	if !m.inTransaction {
		return nil
	}

	m.setCount(m.txStartRecordCount)

	for pageID, snapshot := range m.bib {
		if f := m.pool.Get(pageID); f != nil {
			f.Lock()
			copy(f.Data, snapshot)
			f.Dirty = false
			f.Transactional = false
			f.Unlock()
		}
		if m.rc != nil {
			invalidateSnapshotRecords(m.rc, pageID)
		}
	}

	for _, pageID := range m.pool.Frames() {
		f := m.pool.Get(pageID)
		if f == nil {
			continue
		}
		f.RLock()
		stillTransactional := f.Transactional
		pinCount := f.PinCount
		f.RUnlock()

		if !stillTransactional {
			continue
		}
		if pinCount > 0 {
			panic(fmt.Sprintf("rollback: page %d is transactional and pinned (pin_count=%d): leaked fix", pageID, pinCount))
		}
		m.pool.Evict(pageID)
	}

	m.bib = make(map[int64][]byte)
	m.locks = make(map[int64]struct{})

	m.jrnl.Append(journal.Entry{
		TxID:          m.currentTxID,
		RecordID:      -1,
		Type:          journal.Rollback,
		CountSnapshot: -1,
	})
	if err := m.jrnl.Flush(); err != nil {
		return fmt.Errorf("rollback tx %d: %w", m.currentTxID, err)
	}

	m.log.WithField("tx_id", m.currentTxID).Debug("rollback")
	m.inTransaction = false
	m.currentTxID = 0
	return nil
}

func (m *Manager) clearTransactionState() {
	m.bib = make(map[int64][]byte)
	m.locks = make(map[int64]struct{})
	m.inTransaction = false
	m.currentTxID = 0
}

// IsLocked reports whether recordID is in the current transaction's
// lock set.
func (m *Manager) IsLocked(recordID int64) bool {
	_, ok := m.locks[recordID]
	return ok
}

// SnapshotPageIfAbsent copies the page frame's current content into the
// BIB under pageID, if no snapshot for that page exists yet in this
// transaction. It is the caller's responsibility to only call this
// while in_transaction.
func (m *Manager) SnapshotPageIfAbsent(pageID int64, f *page.Frame) {
	if _, ok := m.bib[pageID]; ok {
		return
	}
	snapshot := make([]byte, len(f.Data))
	copy(snapshot, f.Data)
	m.bib[pageID] = snapshot
}

// Lock adds recordID to the current transaction's lock set.
func (m *Manager) Lock(recordID int64) {
	m.locks[recordID] = struct{}{}
}

// BIBSnapshot returns the before-image page snapshot for pageID and
// whether one exists.
func (m *Manager) BIBSnapshot(pageID int64) ([]byte, bool) {
	snap, ok := m.bib[pageID]
	return snap, ok
}

// invalidateSnapshotRecords drops every record-cache entry that could
// have lived on pageID, since rollback just restored its pre-
// transaction content.
func invalidateSnapshotRecords(rc RecordCache, pageID int64) {
	first := heap.FirstRecordOf(pageID)
	for i := int64(0); i < heap.RecordsPerPage; i++ {
		rc.Invalidate(first + i)
	}
}
