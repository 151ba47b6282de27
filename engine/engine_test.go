package engine

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/achehboune/recordvault/dberrors"
)

func open(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func insertAll(t *testing.T, e *Engine, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		if _, err := e.InsertRecord([]byte(p)); err != nil {
			t.Fatalf("InsertRecord(%q): %v", p, err)
		}
	}
}

func mustRead(t *testing.T, e *Engine, recordID int64) string {
	t.Helper()
	payload, err := e.ReadRecord(recordID)
	if err != nil {
		t.Fatalf("ReadRecord(%d): %v", recordID, err)
	}
	return string(payload)
}

// TestScenarioS1RollbackRestoresOriginal: rollback of an UPDATE restores
// the original value.
func TestScenarioS1RollbackRestoresOriginal(t *testing.T) {
	e := open(t)
	insertAll(t, e, "A", "B", "C")

	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.UpdateRecord(0, []byte("X")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if err := e.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if got := mustRead(t, e, 0); got != "A" {
		t.Errorf("read(0) = %q, want %q", got, "A")
	}
	if e.IsLocked(0) {
		t.Error("is_locked(0) = true, want false")
	}
	if got := e.GetRecordCount(); got != 3 {
		t.Errorf("record_count = %d, want 3", got)
	}
}

// TestScenarioS2CommitPersistsAfterCrashViaRedo: a committed update
// survives a crash because REDO replays it from the journal.
func TestScenarioS2CommitPersistsAfterCrashViaRedo(t *testing.T) {
	e := open(t)
	insertAll(t, e, "A", "B")
	if err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.UpdateRecord(0, []byte("MOD")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if err := e.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	e.Crash()
	if _, err := e.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if got := mustRead(t, e, 0); got != "MOD" {
		t.Errorf("read(0) = %q, want %q", got, "MOD")
	}
	if got := mustRead(t, e, 1); got != "B" {
		t.Errorf("read(1) = %q, want %q", got, "B")
	}
	if got := e.GetRecordCount(); got != 2 {
		t.Errorf("record_count = %d, want 2", got)
	}
}

// TestScenarioS3UncommittedUpdateIsUndone: an update that never
// committed leaves no trace after a crash and recovery.
func TestScenarioS3UncommittedUpdateIsUndone(t *testing.T) {
	e := open(t)
	insertAll(t, e, "A", "B")
	if err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.UpdateRecord(1, []byte("TMP")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}

	e.Crash()
	if _, err := e.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if got := mustRead(t, e, 1); got != "B" {
		t.Errorf("read(1) = %q, want %q", got, "B")
	}
	if e.txns.InTransaction() {
		t.Error("expected no active transaction after recovery")
	}
}

// TestScenarioS4Mixed: two committed updates survive crash/recovery,
// an uncommitted third one does not.
func TestScenarioS4Mixed(t *testing.T) {
	e := open(t)
	insertAll(t, e, "E1", "E2", "E3", "E4", "E5")
	if err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.UpdateRecord(2, []byte("C1")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if err := e.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.UpdateRecord(3, []byte("C2")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if err := e.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.UpdateRecord(4, []byte("NC")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}

	e.Crash()
	if _, err := e.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if got := mustRead(t, e, 2); got != "C1" {
		t.Errorf("read(2) = %q, want %q", got, "C1")
	}
	if got := mustRead(t, e, 3); got != "C2" {
		t.Errorf("read(3) = %q, want %q", got, "C2")
	}
	if got := mustRead(t, e, 4); got != "E5" {
		t.Errorf("read(4) = %q, want %q", got, "E5")
	}
}

// TestScenarioS5DoubleLockDetection: updating an already-locked record
// within the same transaction fails with RecordLocked.
func TestScenarioS5DoubleLockDetection(t *testing.T) {
	e := open(t)
	insertAll(t, e, "orig")

	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.UpdateRecord(0, []byte("x")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if err := e.UpdateRecord(0, []byte("y")); err == nil {
		t.Fatal("expected RecordLocked, got nil")
	} else if !errors.Is(err, dberrors.ErrRecordLocked) {
		t.Fatalf("expected RecordLocked, got %v", err)
	}

	if err := e.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if e.IsLocked(0) {
		t.Error("is_locked(0) = true, want false")
	}
	if got := mustRead(t, e, 0); got != "orig" {
		t.Errorf("read(0) = %q, want %q", got, "orig")
	}
}

// TestScenarioS6InsertRollbackTruncatesCount: rolling back a
// transaction that inserted new records truncates record_count back to
// its value at begin.
func TestScenarioS6InsertRollbackTruncatesCount(t *testing.T) {
	e := open(t)
	for i := 0; i < 105; i++ {
		if _, err := e.InsertRecord([]byte("x")); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
	}

	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := e.InsertRecord([]byte("A")); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if _, err := e.InsertRecord([]byte("B")); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := e.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if got := e.GetRecordCount(); got != 105 {
		t.Errorf("record_count = %d, want 105", got)
	}
	if _, err := e.ReadRecord(105); !errors.Is(err, dberrors.ErrOutOfBounds) {
		t.Errorf("read(105) error = %v, want OutOfBounds", err)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	e := open(t)
	insertAll(t, e, "A", "B")
	if err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.UpdateRecord(0, []byte("MOD")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if err := e.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	e.Crash()
	if _, err := e.Recover(); err != nil {
		t.Fatalf("first Recover: %v", err)
	}
	first := mustRead(t, e, 0)

	if _, err := e.Recover(); err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	second := mustRead(t, e, 0)

	if first != second {
		t.Errorf("recover is not idempotent: first=%q second=%q", first, second)
	}
}
