// Package journal implements the write-ahead log: a tagged entry type
// with an exact pipe-delimited wire format, an in-memory staging list
// (the TJT), and the on-disk append-only file it is flushed to (the
// FJT).
//
// Grounded on wal_manager/wal_segment.go's Open/Append/Sync/Close
// lifecycle on a single *os.File, simplified from its segmented,
// CRC32-framed binary record format: the wire format here is fixed by
// contract (tx_id|record_id|before|after|TYPE|count_snapshot, base64 or
// NULL images) and must parse byte-for-byte, so no segmentation or
// framing survives. The tagged-entry shape is grounded on
// types/operations.go's OperationType enum + struct idiom.
package journal

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Type is the log entry kind.
type Type int

const (
	Begin Type = iota
	Update
	Insert
	Delete
	Commit
	Rollback
	Checkpoint
)

var typeNames = map[Type]string{
	Begin:      "BEGIN",
	Update:     "UPDATE",
	Insert:     "INSERT",
	Delete:     "DELETE",
	Commit:     "COMMIT",
	Rollback:   "ROLLBACK",
	Checkpoint: "CHECKPOINT",
}

var namesToType = map[string]Type{
	"BEGIN":      Begin,
	"UPDATE":     Update,
	"INSERT":     Insert,
	"DELETE":     Delete,
	"COMMIT":     Commit,
	"ROLLBACK":   Rollback,
	"CHECKPOINT": Checkpoint,
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Entry is one log record. RecordID is -1 for BEGIN/COMMIT/ROLLBACK/
// CHECKPOINT. BeforeImage/AfterImage are nil when absent and otherwise
// exactly RecordSize bytes. CountSnapshot is only meaningful for INSERT;
// -1 elsewhere. CHECKPOINT entries carry TxID = -1.
type Entry struct {
	TxID          int64
	RecordID      int64
	BeforeImage   []byte
	AfterImage    []byte
	Type          Type
	CountSnapshot int64
}

// Serialize renders e in the fixed wire format:
// tx_id|record_id|before|after|TYPE|count_snapshot
func (e Entry) Serialize() string {
	return fmt.Sprintf("%d|%d|%s|%s|%s|%d",
		e.TxID,
		e.RecordID,
		imageField(e.BeforeImage),
		imageField(e.AfterImage),
		e.Type.String(),
		e.CountSnapshot,
	)
}

func imageField(img []byte) string {
	if img == nil {
		return "NULL"
	}
	return base64.StdEncoding.EncodeToString(img)
}

// Parse decodes one journal line produced by Serialize.
func Parse(line string) (Entry, error) {
	fields := strings.Split(line, "|")
	if len(fields) != 6 {
		return Entry{}, fmt.Errorf("journal line has %d fields, want 6: %q", len(fields), line)
	}

	txID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse tx_id %q: %w", fields[0], err)
	}

	recordID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse record_id %q: %w", fields[1], err)
	}

	before, err := parseImage(fields[2])
	if err != nil {
		return Entry{}, fmt.Errorf("parse before image: %w", err)
	}

	after, err := parseImage(fields[3])
	if err != nil {
		return Entry{}, fmt.Errorf("parse after image: %w", err)
	}

	typ, ok := namesToType[fields[4]]
	if !ok {
		return Entry{}, fmt.Errorf("unknown journal entry type %q", fields[4])
	}

	count, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse count_snapshot %q: %w", fields[5], err)
	}

	return Entry{
		TxID:          txID,
		RecordID:      recordID,
		BeforeImage:   before,
		AfterImage:    after,
		Type:          typ,
		CountSnapshot: count,
	}, nil
}

func parseImage(field string) ([]byte, error) {
	if field == "NULL" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(field)
}

// Journal owns the in-memory TJT and the on-disk FJT file.
type Journal struct {
	path string
	file *os.File
	tjt  []Entry
	log  *logrus.Entry
}

// Open opens (creating if necessary) the journal file at path.
func Open(path string, log *logrus.Logger) (*Journal, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal file %s: %w", path, err)
	}

	return &Journal{
		path: path,
		file: f,
		log:  log.WithField("component", "journal"),
	}, nil
}

// Append stages entry in the TJT without touching disk.
func (j *Journal) Append(entry Entry) {
	j.tjt = append(j.tjt, entry)
}

// Flush writes every staged TJT entry to the journal file, in order,
// fsyncs the file, and clears the TJT.
func (j *Journal) Flush() error {
	if len(j.tjt) == 0 {
		return nil
	}

	w := bufio.NewWriter(j.file)
	for _, e := range j.tjt {
		if _, err := w.WriteString(e.Serialize() + "\n"); err != nil {
			return fmt.Errorf("flush journal entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush journal buffer: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal file: %w", err)
	}

	j.log.WithField("count", len(j.tjt)).Debug("flushed staged entries to journal file")
	j.tjt = j.tjt[:0]
	return nil
}

// AppendDurable writes entry directly to the journal file, bypassing
// the TJT, for entries that must be immediately durable (CHECKPOINT).
func (j *Journal) AppendDurable(entry Entry) error {
	if _, err := j.file.WriteString(entry.Serialize() + "\n"); err != nil {
		return fmt.Errorf("append durable journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal file: %w", err)
	}
	return nil
}

// Entries reads and parses every entry currently on disk, in append
// order. It does not consult the TJT.
func (j *Journal) Entries() ([]Entry, error) {
	if _, err := j.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("seek journal file: %w", err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(j.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("parse journal: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal file: %w", err)
	}

	if _, err := j.file.Seek(0, 2); err != nil {
		return nil, fmt.Errorf("seek journal file to end: %w", err)
	}
	return entries, nil
}

// Clear truncates the journal file to empty and drops the TJT. Provided
// for tests; the journal is otherwise append-only per spec.
func (j *Journal) Clear() error {
	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate journal file: %w", err)
	}
	if _, err := j.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek journal file: %w", err)
	}
	j.tjt = j.tjt[:0]
	return nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	return j.file.Close()
}
