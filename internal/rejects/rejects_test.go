package rejects

import (
	"os"
	"path/filepath"
	"testing"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	var entries []Entry
	if err := Read(path, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	return entries
}

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejects.jsonl")

	l, err := Open(path, "run-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Append(3, "hello", ReasonNotSlow, ""); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(7, `{"msg":"Slow query"`, ReasonMalformed, "missing duration"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].Seq <= entries[0].Seq {
		t.Errorf("sequence did not advance: %d then %d", entries[0].Seq, entries[1].Seq)
	}
	if entries[1].LineNo != 7 || entries[1].Reason != ReasonMalformed || entries[1].Detail != "missing duration" {
		t.Errorf("entry = %+v", entries[1])
	}
	if entries[0].RunID != "run-1" {
		t.Errorf("run id = %q", entries[0].RunID)
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejects.jsonl")

	for i := 0; i < 2; i++ {
		l, err := Open(path, "")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := l.Append(int64(i), "x", ReasonNotSlow, ""); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	entries := readEntries(t, path)
	if len(entries) != 2 || entries[0].Seq != 1 || entries[1].Seq != 2 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestReasonFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejects.jsonl")

	l, err := Open(path, "", ReasonMalformed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = l.Append(1, "chatter", ReasonNotSlow, "")
	_ = l.Append(2, "bad", ReasonMalformed, "negative duration")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readEntries(t, path)
	if len(entries) != 1 || entries[0].Line != "bad" {
		t.Errorf("entries = %+v, want only the malformed line", entries)
	}
}

func TestPartialTrailingLineIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejects.jsonl")
	data := `{"seq":1,"line_no":1,"reason":"malformed","line":"a","at":"2024-01-01T00:00:00Z"}` + "\n" + `{"seq":2,"li`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestAppendAfterClose(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "rejects.jsonl"), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Append(1, "x", ReasonNotSlow, ""); err == nil {
		t.Error("Append after Close should fail")
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open("  ", ""); err == nil {
		t.Error("expected error for empty path")
	}
}
