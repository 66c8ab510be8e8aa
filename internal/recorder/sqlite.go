package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists engine history to a SQLite database.
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

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS engine_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			account_id  TEXT NOT NULL,
			session_id  TEXT,
			event_type  TEXT NOT NULL,
			principal   REAL,
			yield       REAL,
			note        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_engine_events_account_ts ON engine_events(account_id, timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordEvent(evt *EngineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO engine_events
		(timestamp, account_id, session_id, event_type, principal, yield, note)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().UnixMilli(), evt.AccountID, evt.SessionID, evt.EventType,
		evt.Principal, evt.Yield, evt.Note,
	)
	return err
}

// CountEvents returns how many events of eventType were recorded for accountID.
func (r *SQLiteRecorder) CountEvents(accountID, eventType string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM engine_events WHERE account_id = ? AND event_type = ?`,
		accountID, eventType).Scan(&n)
	return n, err
}

func (r *SQLiteRecorder) Close() error {
	log.Println("closing sqlite recorder")
	return r.db.Close()
}
