package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/sqlite"

	"github.com/jxwalker/modshelf/internal/config"
)

type DB struct {
	SQL  *sql.DB
	Path string
}

func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if cfg.General.DataRoot == "" {
		return nil, errors.New("general.data_root required")
	}
	if err := os.MkdirAll(cfg.General.DataRoot, 0o755); err != nil {
		return nil, err
	}
	return OpenPath(cfg.DBPath())
}

// OpenPath opens (creating if needed) the state database at path, along with its
// parent directory.
func OpenPath(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout=5000&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := initSchema(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{SQL: sqldb, Path: path}, nil
}

func (db *DB) Close() error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT)`,
		`CREATE TABLE IF NOT EXISTS models (
			model_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS versions (
			hash TEXT PRIMARY KEY,
			version_id INTEGER,
			model_id INTEGER,
			model_type TEXT,
			name TEXT,
			base_model TEXT,
			local_path TEXT UNIQUE,
			local_root TEXT,
			local_mtime REAL,
			file_size INTEGER,
			trained_words TEXT,
			api_response TEXT,
			last_api_check INTEGER,
			FOREIGN KEY (model_id) REFERENCES models (model_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_model_type ON versions (model_type)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_version_id ON versions (version_id)`,
		`CREATE TABLE IF NOT EXISTS images (
			image_id INTEGER PRIMARY KEY AUTOINCREMENT,
			version_id INTEGER,
			url TEXT UNIQUE NOT NULL,
			meta TEXT,
			local_filename TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_url ON images (url)`,
		`CREATE TABLE IF NOT EXISTS analysis_cache (
			fingerprint TEXT PRIMARY KEY,
			analysis_data TEXT,
			last_updated INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS selections (
			node_id TEXT PRIMARY KEY,
			item TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	// Older databases predate these columns.
	_, _ = db.Exec(`ALTER TABLE versions ADD COLUMN base_model TEXT`)
	_, _ = db.Exec(`ALTER TABLE versions ADD COLUMN local_root TEXT`)
	_, _ = db.Exec(`ALTER TABLE versions ADD COLUMN file_size INTEGER`)
	return nil
}
