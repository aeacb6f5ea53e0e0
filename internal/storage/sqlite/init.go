package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the torrents table if it
// doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS torrents (
		hash TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		quality TEXT NOT NULL DEFAULT 'unknown',
		status TEXT NOT NULL DEFAULT 'unknown',
		imported INTEGER NOT NULL DEFAULT 0,
		usenet INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create torrents table: %w", err)
	}

	return db, nil
}
