package recorder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists committed ledger events to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the node writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notifications (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			height     INTEGER NOT NULL,
			timestamp  INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			attrs      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_height ON notifications(height)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_type ON notifications(event_type)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) Record(n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attrs, err := json.Marshal(n.Attrs)
	if err != nil {
		return fmt.Errorf("encode attrs: %w", err)
	}
	_, err = r.db.Exec(`INSERT INTO notifications
		(height, timestamp, event_type, attrs)
		VALUES (?,?,?,?)`,
		n.Height, n.TimeUnix, n.Type, string(attrs),
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
