// Package store is the SQLite-backed remote store collaborator. It
// serves the bulk and point queries of the synchronization layer and
// publishes one change event on the bus for every committed write,
// which is the push stream the roster and thread reducers consume.
package store

import (
	"database/sql"
	"fmt"

	"github.com/lfcamargo/atendo/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the app-owned atendo.db.
type DB struct {
	*sql.DB
	bus *bus.Bus
}

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas. Writes publish change events on b.
func Open(path string, b *bus.Bus) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, bus: b}, nil
}

func (db *DB) publish(c bus.Change) {
	if db.bus != nil {
		db.bus.PublishChange(c)
	}
}
