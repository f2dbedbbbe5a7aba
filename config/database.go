package config

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	spec        TEXT NOT NULL,
	bindings    TEXT NOT NULL,
	container_id TEXT NOT NULL DEFAULT '',
	serial      TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS actions (
	id        TEXT PRIMARY KEY,
	device    TEXT NOT NULL,
	type      TEXT NOT NULL,
	params    TEXT,
	status    TEXT NOT NULL,
	result    TEXT,
	timestamp INTEGER NOT NULL
);
`

// OpenDatabase opens (creating if needed) the registry database under
// dataDir and applies the schema.
func OpenDatabase(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, "androidbox.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("Registry database ready at %s", path)
	return db, nil
}

// OpenMemoryDatabase is the in-memory variant used by tests.
func OpenMemoryDatabase() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
