package storage

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// InitSQLite opens the local SQLite database and creates the schemas for
// the incident ledger and the reliability snapshots.
func InitSQLite(dbPath string, maxOpenConns int) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite database")
	}

	if err := createSchemas(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schemas")
	}

	return db, nil
}

func createSchemas(db *sql.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			incident_id INTEGER NOT NULL DEFAULT 0,
			fault TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			mission_sol INTEGER NOT NULL,
			millisol REAL NOT NULL,
			timestamp DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_entity_id ON incidents(entity_id);`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_event_type ON incidents(event_type);`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_incident_id ON incidents(incident_id);`,
		`CREATE TABLE IF NOT EXISTS part_reliability (
			part_id INTEGER PRIMARY KEY,
			start_sol REAL NOT NULL,
			cum_failures INTEGER NOT NULL DEFAULT 0,
			mtbf REAL NOT NULL,
			failure_rate REAL NOT NULL,
			reliability REAL NOT NULL,
			last_updated DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fault_learning (
			fault TEXT PRIMARY KEY,
			probability REAL NOT NULL,
			parts_json TEXT NOT NULL,
			last_updated DATETIME NOT NULL
		);`,
	}

	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
