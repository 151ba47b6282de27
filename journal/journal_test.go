package journal

import (
	"os"
	"path/filepath"
	"testing"
)

func image(fill byte) []byte {
	b := make([]byte, 100)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestSerializeParseRoundTrip(t *testing.T) {
	entries := []Entry{
		{TxID: 1, RecordID: -1, Type: Begin, CountSnapshot: -1},
		{TxID: 1, RecordID: 5, BeforeImage: image('A'), AfterImage: image('B'), Type: Update, CountSnapshot: -1},
		{TxID: 1, RecordID: 6, AfterImage: image(0), Type: Insert, CountSnapshot: 6},
		{TxID: 1, RecordID: -1, Type: Commit, CountSnapshot: -1},
		{TxID: -1, RecordID: -1, Type: Rollback, CountSnapshot: -1},
		{TxID: -1, RecordID: -1, Type: Checkpoint, CountSnapshot: -1},
		{TxID: 2, RecordID: 7, BeforeImage: make([]byte, 100), AfterImage: make([]byte, 100), Type: Update, CountSnapshot: -1},
	}

	for _, e := range entries {
		line := e.Serialize()
		got, err := Parse(line)
		if err != nil {
			t.Fatalf("Parse(%q): %v", line, err)
		}

		if got.TxID != e.TxID || got.RecordID != e.RecordID || got.Type != e.Type || got.CountSnapshot != e.CountSnapshot {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
		}
		if string(got.BeforeImage) != string(e.BeforeImage) {
			t.Errorf("before image mismatch for %q", line)
		}
		if string(got.AfterImage) != string(e.AfterImage) {
			t.Errorf("after image mismatch for %q", line)
		}
	}
}

func TestParseRejectsMalformedLine(t *testing.T) {
	_, err := Parse("not|enough|fields")
	if err == nil {
		t.Fatal("expected an error for a malformed line, got nil")
	}
}

func TestAppendFlushAndEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	j, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	j.Append(Entry{TxID: 1, RecordID: -1, Type: Begin, CountSnapshot: -1})
	j.Append(Entry{TxID: 1, RecordID: -1, Type: Commit, CountSnapshot: -1})

	if err := j.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries, err := j.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Type != Begin || entries[1].Type != Commit {
		t.Errorf("unexpected entry order: %+v", entries)
	}
}

func TestAppendDurableBypassesTJT(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	j, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if err := j.AppendDurable(Entry{TxID: -1, RecordID: -1, Type: Checkpoint, CountSnapshot: -1}); err != nil {
		t.Fatalf("AppendDurable: %v", err)
	}

	entries, err := j.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != Checkpoint {
		t.Fatalf("got %+v, want a single CHECKPOINT entry", entries)
	}
}

func TestClearTruncatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	j, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	j.Append(Entry{TxID: 1, RecordID: -1, Type: Begin, CountSnapshot: -1})
	if err := j.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := j.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	entries, err := j.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries after clear, want 0", len(entries))
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.Size() != 0 {
		t.Fatalf("journal file size after clear = %d, want 0", stat.Size())
	}
}
