// Package heap maps record ids to page ids and intra-page byte offsets,
// and knows the two encodings every other subsystem needs: the
// zero-padded on-disk record slot, and the record-count-bounded length
// of a page when it is flushed.
//
// The package does no I/O of its own — it is pure arithmetic, the same
// way the teacher's page headers are pure arithmetic over a fixed layout
// (see storage_engine/access/heapfile_manager/heap_page_helpers.go),
// simplified from variable-length slotted rows down to the spec's fixed
// 100-byte slots.
package heap

import "fmt"

const (
	// PageSize is the fixed size, in bytes, of a buffered page.
	PageSize = 4096
	// RecordSize is the fixed size, in bytes, of a stored record slot.
	RecordSize = 100
	// RecordsPerPage is how many record slots fit in one page.
	RecordsPerPage = PageSize / RecordSize
)

// PageOf returns the page id that holds recordID.
func PageOf(recordID int64) int64 {
	return recordID / RecordsPerPage
}

// OffsetOf returns the intra-page byte offset of recordID's slot.
func OffsetOf(recordID int64) int {
	return int(recordID%RecordsPerPage) * RecordSize
}

// FirstRecordOf returns the lowest record id stored on pageID.
func FirstRecordOf(pageID int64) int64 {
	return pageID * RecordsPerPage
}

// PageFileOffset returns the byte offset of pageID's first record slot in
// the data file. The file is packed tight at RecordsPerPage*RecordSize
// (4000) bytes per page, not PageSize (4096): there is no on-disk padding
// between pages, since nothing beyond the live RecordsPerPage slots is
// ever written (see BoundedWriteLength).
func PageFileOffset(pageID int64) int64 {
	return FirstRecordOf(pageID) * RecordSize
}

// PadRecord returns payload padded with trailing zero bytes to exactly
// RecordSize. It returns an error if payload is already longer than
// RecordSize.
func PadRecord(payload []byte) ([]byte, error) {
	if len(payload) > RecordSize {
		return nil, fmt.Errorf("record payload of %d bytes exceeds RecordSize %d", len(payload), RecordSize)
	}
	slot := make([]byte, RecordSize)
	copy(slot, payload)
	return slot, nil
}

// DecodeRecord strips the trailing zero-byte padding from a RecordSize
// slot, returning the original payload.
func DecodeRecord(slot []byte) []byte {
	end := len(slot)
	for end > 0 && slot[end-1] == 0 {
		end--
	}
	out := make([]byte, end)
	copy(out, slot[:end])
	return out
}

// BoundedWriteLength returns how many bytes of pageID's buffer are
// live given recordCount, per the record-count-bounded write rule: a
// tail page only ever writes the slots that exist, never a full
// PageSize, and a page entirely beyond recordCount writes nothing.
func BoundedWriteLength(pageID int64, recordCount int64) int {
	first := FirstRecordOf(pageID)
	if first >= recordCount {
		return 0
	}
	live := recordCount - first
	if live > RecordsPerPage {
		live = RecordsPerPage
	}
	return int(live) * RecordSize
}
