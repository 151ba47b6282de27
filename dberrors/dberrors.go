// Package dberrors defines the sentinel error kinds shared by every
// storage-engine subsystem. Subsystems wrap one of these with fmt.Errorf
// and "%w" so callers can classify a failure with errors.Is while still
// getting a specific, contextual message.
package dberrors

import "errors"

var (
	// ErrInvalidArgument is returned for a negative page id or a
	// record payload that cannot be stored (too long).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfBounds is returned when a record id falls outside
	// [0, record_count).
	ErrOutOfBounds = errors.New("record id out of bounds")

	// ErrCorruptedFile is returned when the data file's byte length is
	// not a multiple of RecordSize at open.
	ErrCorruptedFile = errors.New("corrupted data file")

	// ErrIoError wraps an underlying read/write failure of the data
	// file. Journal file failures wrap the platform error directly and
	// do not carry this sentinel.
	ErrIoError = errors.New("io error")

	// ErrIllegalState is returned for unfix of a page that is not
	// resident or already at pin count zero, use of a non-resident page,
	// and a fix that needs a free frame while every frame of a bounded
	// pool is pinned. Force of a non-resident page is a no-op, and a
	// rollback that finds a pinned transactional frame panics instead.
	ErrIllegalState = errors.New("illegal state")

	// ErrRecordLocked is returned when update targets a record id
	// already in the current transaction's lock set.
	ErrRecordLocked = errors.New("record locked by current transaction")
)
