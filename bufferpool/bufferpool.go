// Package bufferpool pins pages into frames and tracks their
// dirty/transactional state, reading through to disk on a miss and
// conditionally writing back on force.
//
// Grounded on storage_engine/bufferpool/{structs,bufferpool,helpers}.go:
// the map[int64]*page.Frame plus accessOrder-slice LRU eviction
// (addPage/evictLRU/updateAccessOrder) and BufferPoolStats shape are kept
// close to verbatim. The WAL-flushed-LSN gate on flush/evict is dropped
// because spec.md's commit never forces a page at all — gating a force
// on a flushed-LSN watermark would contradict "dirty-page-stays-dirty-
// through-commit" (spec.md §4.B).
package bufferpool

import (
	"fmt"

	"github.com/achehboune/recordvault/dberrors"
	"github.com/achehboune/recordvault/heap"
	"github.com/achehboune/recordvault/page"
	"github.com/sirupsen/logrus"
)

// Disk is the minimal disk-facing contract the buffer pool needs.
type Disk interface {
	ReadPage(pageID int64) ([]byte, error)
	WritePageBounded(pageID int64, data []byte, recordCount int64) error
}

// RecordCountSource supplies the current logical record count, used to
// bound writes on force/eviction per spec.md §4.A.
type RecordCountSource interface {
	RecordCount() int64
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	TotalPages  int
	PinnedPages int
	DirtyPages  int
	Capacity    int
}

// Pool is the buffer manager: fix/unfix/use/force over a set of frames.
//
// Capacity <= 0 means unbounded — frames are never evicted, matching
// spec.md's stated default of no eviction policy. Capacity > 0 enables
// the LRU eviction spec.md explicitly sanctions as an optional
// enhancement.
type Pool struct {
	frames      map[int64]*page.Frame
	accessOrder []int64
	capacity    int
	disk        Disk
	counts      RecordCountSource
	inTxn       func() bool
	log         *logrus.Entry
}

// New creates a buffer pool backed by disk. counts supplies the current
// record count (for bounded writes) and inTxn reports whether a
// transaction is currently open (Use() only marks a frame transactional
// while one is).
func New(disk Disk, counts RecordCountSource, inTxn func() bool, capacity int, log *logrus.Logger) *Pool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		frames:   make(map[int64]*page.Frame),
		capacity: capacity,
		disk:     disk,
		counts:   counts,
		inTxn:    inTxn,
		log:      log.WithField("component", "bufferpool"),
	}
}

// Fix pins pageID, reading it from disk on first access. The returned
// frame's pin count has already been incremented.
func (p *Pool) Fix(pageID int64) (*page.Frame, error) {
	if pageID < 0 {
		return nil, fmt.Errorf("fix page %d: %w", pageID, dberrors.ErrInvalidArgument)
	}

	if f, ok := p.frames[pageID]; ok {
		p.touch(pageID)
		f.Lock()
		f.PinCount++
		f.Unlock()
		return f, nil
	}

	data, err := p.disk.ReadPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("fix page %d: %w", pageID, err)
	}

	f := page.NewFrame(pageID, heap.PageSize)
	f.Data = data

	if err := p.install(f); err != nil {
		return nil, fmt.Errorf("fix page %d: %w", pageID, err)
	}

	f.Lock()
	f.PinCount++
	f.Unlock()

	p.log.WithField("page_id", pageID).Debug("fix: page loaded from disk")
	return f, nil
}

// Unfix decrements pageID's pin count.
func (p *Pool) Unfix(pageID int64) error {
	f, ok := p.frames[pageID]
	if !ok {
		return fmt.Errorf("unfix page %d: frame not resident: %w", pageID, dberrors.ErrIllegalState)
	}

	f.Lock()
	defer f.Unlock()
	if f.PinCount == 0 {
		return fmt.Errorf("unfix page %d: pin count already zero: %w", pageID, dberrors.ErrIllegalState)
	}
	f.PinCount--
	return nil
}

// Use marks pageID dirty, and transactional if a transaction is
// currently open.
func (p *Pool) Use(pageID int64) error {
	f, ok := p.frames[pageID]
	if !ok {
		return fmt.Errorf("use page %d: frame not resident: %w", pageID, dberrors.ErrIllegalState)
	}

	f.Lock()
	defer f.Unlock()
	f.Dirty = true
	if p.inTxn() {
		f.Transactional = true
	}
	return nil
}

// Force writes pageID to disk if it is dirty and not a transactional
// frame of a still-open transaction, then clears its dirty and
// transactional flags.
func (p *Pool) Force(pageID int64) error {
	f, ok := p.frames[pageID]
	if !ok {
		return nil
	}

	f.Lock()
	defer f.Unlock()

	if !f.Dirty || (f.Transactional && p.inTxn()) {
		return nil
	}

	if err := p.disk.WritePageBounded(pageID, f.Data, p.counts.RecordCount()); err != nil {
		return fmt.Errorf("force page %d: %w", pageID, err)
	}

	f.Dirty = false
	f.Transactional = false
	p.log.WithField("page_id", pageID).Debug("force: page written to disk")
	return nil
}

// Get returns the resident frame for pageID without touching disk, or
// nil if it is not resident.
func (p *Pool) Get(pageID int64) *page.Frame {
	return p.frames[pageID]
}

// Frames returns every resident page id, for callers that must walk the
// whole pool (checkpoint, commit's transactional-flag clear, rollback).
func (p *Pool) Frames() []int64 {
	ids := make([]int64, 0, len(p.frames))
	for id := range p.frames {
		ids = append(ids, id)
	}
	return ids
}

// Evict removes pageID's frame unconditionally, without writing it
// back. Used by rollback to drop purely-transactional frames that never
// had a before-image (new pages created by an insert that never
// committed).
func (p *Pool) Evict(pageID int64) {
	delete(p.frames, pageID)
	p.removeFromAccessOrder(pageID)
}

// Stats returns a point-in-time occupancy snapshot.
func (p *Pool) Stats() Stats {
	s := Stats{TotalPages: len(p.frames), Capacity: p.capacity}
	for _, f := range p.frames {
		f.RLock()
		if f.PinCount > 0 {
			s.PinnedPages++
		}
		if f.Dirty {
			s.DirtyPages++
		}
		f.RUnlock()
	}
	return s
}

func (p *Pool) install(f *page.Frame) error {
	if _, exists := p.frames[f.ID]; exists {
		p.touch(f.ID)
		return nil
	}

	if p.capacity > 0 && len(p.frames) >= p.capacity {
		if err := p.evictLRU(); err != nil {
			return err
		}
	}

	p.frames[f.ID] = f
	p.touch(f.ID)
	return nil
}

// evictLRU writes back and drops the least-recently-used unpinned
// frame. Grounded on bufferpool.go's evictLRU: scan accessOrder from the
// front, skip pinned frames, flush-then-drop the first eligible one.
func (p *Pool) evictLRU() error {
	for i, id := range p.accessOrder {
		f, ok := p.frames[id]
		if !ok {
			continue
		}

		f.Lock()
		pinned := f.PinCount > 0
		dirty := f.Dirty
		f.Unlock()

		if pinned {
			continue
		}

		if dirty {
			if err := p.disk.WritePageBounded(id, f.Data, p.counts.RecordCount()); err != nil {
				return fmt.Errorf("evict page %d: %w", id, err)
			}
		}

		delete(p.frames, id)
		p.accessOrder = append(p.accessOrder[:i], p.accessOrder[i+1:]...)
		p.log.WithField("page_id", id).Debug("evicted least-recently-used frame")
		return nil
	}
	return fmt.Errorf("buffer pool at capacity %d, all frames pinned: %w", p.capacity, dberrors.ErrIllegalState)
}

func (p *Pool) touch(pageID int64) {
	p.removeFromAccessOrder(pageID)
	p.accessOrder = append(p.accessOrder, pageID)
}

func (p *Pool) removeFromAccessOrder(pageID int64) {
	for i, id := range p.accessOrder {
		if id == pageID {
			p.accessOrder = append(p.accessOrder[:i], p.accessOrder[i+1:]...)
			return
		}
	}
}
