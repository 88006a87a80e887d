package recorder

import (
	"path/filepath"
	"testing"
)

func TestSQLiteRecorder_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	r, err := NewSQLiteRecorder(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	err = r.Record(&Notification{
		Height:   12,
		TimeUnix: 1000,
		Type:     "WinnerMarked",
		Attrs:    map[string]string{"potId": "1", "winner": "alice"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var (
		height int64
		typ    string
		attrs  string
	)
	row := r.db.QueryRow(`SELECT height, event_type, attrs FROM notifications WHERE height = ?`, 12)
	if err := row.Scan(&height, &typ, &attrs); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if height != 12 || typ != "WinnerMarked" {
		t.Fatalf("row mismatch: height=%d type=%q", height, typ)
	}
	if attrs == "" {
		t.Fatalf("expected attrs json")
	}
}

func TestSQLiteRecorder_MigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	r, err := NewSQLiteRecorder(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen against the same file.
	r2, err := NewSQLiteRecorder(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r2.Close()
	if err := r2.Record(&Notification{Height: 1, TimeUnix: 1, Type: "MemberRegistered"}); err != nil {
		t.Fatalf("record after reopen: %v", err)
	}
}

func TestNoopRecorder(t *testing.T) {
	r := NewNoopRecorder()
	if err := r.Record(&Notification{Type: "PotCreated"}); err != nil {
		t.Fatalf("noop record: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("noop close: %v", err)
	}
}
