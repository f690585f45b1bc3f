package logstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists room logs in a single SQLite database. All rooms
// share one table keyed by (room, idx); the index is assigned inside the
// append transaction so it always equals the room's record count.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS posts (
	room        TEXT    NOT NULL,
	idx         INTEGER NOT NULL,
	server_time INTEGER NOT NULL,
	client_time INTEGER NOT NULL,
	name        TEXT    NOT NULL,
	data        TEXT    NOT NULL,
	PRIMARY KEY (room, idx)
);
`

// OpenSQLite opens (and initializes) a SQLite-backed store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts rec with the next index for the room, transactionally.
func (s *SQLiteStore) Append(room string, rec Record) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var index int
	row := tx.QueryRow(`SELECT COALESCE(MAX(idx)+1, 0) FROM posts WHERE room = ?`, room)
	if err := row.Scan(&index); err != nil {
		return 0, fmt.Errorf("next index: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO posts (room, idx, server_time, client_time, name, data) VALUES (?, ?, ?, ?, ?, ?)`,
		room, index, rec.ServerTime, rec.ClientTime, rec.Name, string(rec.Data),
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return index, nil
}

// Read returns records at or after from, ordered by index.
func (s *SQLiteStore) Read(room string, from int) ([]Record, error) {
	if from < 0 {
		from = 0
	}

	rows, err := s.db.Query(
		`SELECT server_time, client_time, name, data FROM posts WHERE room = ? AND idx >= ? ORDER BY idx ASC`,
		room, from,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var data string
		if err := rows.Scan(&rec.ServerTime, &rec.ClientTime, &rec.Name, &data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Data = []byte(data)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
