// Package diskmanager owns the single on-disk data file: opening it,
// validating its size, and reading/writing pages at their fixed offsets
// under the record-count-bounded write rule.
//
// Grounded on storage_engine/disk_manager/main.go: the
// os.OpenFile(os.O_RDWR|os.O_CREATE, 0644) open pattern, ReadAt/WriteAt
// page I/O, and "%w"-wrapped error style are kept. The multi-file
// FileDescriptor map, globalPageID encoding, and AllocatePage counter
// are dropped: this engine has exactly one data file, so a page id maps
// straight to a byte offset via heap.PageFileOffset (pages are packed at
// RecordsPerPage*RecordSize bytes apart, with no on-disk padding).
package diskmanager

import (
	"fmt"
	"os"

	"github.com/achehboune/recordvault/dberrors"
	"github.com/achehboune/recordvault/heap"
	"github.com/sirupsen/logrus"
)

// Manager performs raw reads and writes against one data file.
type Manager struct {
	path string
	file *os.File
	log  *logrus.Entry
}

// ioErr wraps an underlying I/O failure with the dberrors.ErrIoError
// sentinel so callers can classify it with errors.Is while still seeing
// the platform error text.
func ioErr(context string, err error) error {
	return fmt.Errorf("%s: %w (%v)", context, dberrors.ErrIoError, err)
}

// Open opens (creating if necessary) the data file at path and
// validates that its size is a multiple of heap.RecordSize.
func Open(path string, log *logrus.Logger) (*Manager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ioErr(fmt.Sprintf("open data file %s", path), err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioErr(fmt.Sprintf("stat data file %s", path), err)
	}

	if stat.Size()%heap.RecordSize != 0 {
		f.Close()
		return nil, fmt.Errorf("data file %s has size %d, not a multiple of %d: %w", path, stat.Size(), heap.RecordSize, dberrors.ErrCorruptedFile)
	}

	m := &Manager{
		path: path,
		file: f,
		log:  log.WithField("component", "diskmanager"),
	}
	m.log.WithField("size", stat.Size()).Debug("data file opened")
	return m, nil
}

// RecordCount returns the persisted record count: the data file's byte
// length divided by heap.RecordSize.
func (m *Manager) RecordCount() (int64, error) {
	stat, err := m.file.Stat()
	if err != nil {
		return 0, ioErr("stat data file", err)
	}
	return stat.Size() / heap.RecordSize, nil
}

// ReadPage reads pageID's full-size buffer from disk, zero-padding any
// bytes past the current end of file.
func (m *Manager) ReadPage(pageID int64) ([]byte, error) {
	if pageID < 0 {
		return nil, fmt.Errorf("page id %d: %w", pageID, dberrors.ErrInvalidArgument)
	}

	buf := make([]byte, heap.PageSize)
	offset := heap.PageFileOffset(pageID)

	n, err := m.file.ReadAt(buf, offset)
	if err != nil && n == 0 {
		// A short/empty read at or past EOF just means "page never
		// written" — return the zero-filled buffer.
		stat, statErr := m.file.Stat()
		if statErr == nil && offset >= stat.Size() {
			return buf, nil
		}
		return nil, ioErr(fmt.Sprintf("read page %d", pageID), err)
	}

	m.log.WithFields(logrus.Fields{"page_id": pageID, "bytes": n}).Debug("page read from disk")
	return buf, nil
}

// WritePageBounded writes only the live prefix of page (per
// heap.BoundedWriteLength(pageID, recordCount)) to disk. A page
// entirely beyond recordCount writes nothing at all.
func (m *Manager) WritePageBounded(pageID int64, data []byte, recordCount int64) error {
	if pageID < 0 {
		return fmt.Errorf("page id %d: %w", pageID, dberrors.ErrInvalidArgument)
	}

	n := heap.BoundedWriteLength(pageID, recordCount)
	if n == 0 {
		return nil
	}

	offset := heap.PageFileOffset(pageID)
	if _, err := m.file.WriteAt(data[:n], offset); err != nil {
		return ioErr(fmt.Sprintf("write page %d", pageID), err)
	}

	m.log.WithFields(logrus.Fields{"page_id": pageID, "bytes": n}).Debug("page written to disk")
	return nil
}

// Close closes the underlying file.
func (m *Manager) Close() error {
	return m.file.Close()
}

// Path returns the data file path this manager was opened with.
func (m *Manager) Path() string {
	return m.path
}
