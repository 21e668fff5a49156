package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotFoundResponse is stored as api_response for hashes Civitai does not know, so they
// are not looked up again until the API cache is cleared.
const NotFoundResponse = "{}"

// Version is one row of the versions table: a local file keyed by its SHA256, plus the
// Civitai version it resolved to, if any.
type Version struct {
	Hash         string
	VersionID    int64
	ModelID      int64
	ModelType    string
	Name         string
	BaseModel    string
	LocalPath    string
	LocalRoot    string
	LocalMTime   float64
	FileSize     int64
	TrainedWords []string
	APIResponse  string // raw JSON; "" means never checked, "{}" means not found
	LastAPICheck int64

	ModelName string // joined from models
}

// Checked reports whether the hash was looked up on Civitai.
func (v *Version) Checked() bool { return v.APIResponse != "" }

// Found reports whether the lookup resolved to a Civitai version.
func (v *Version) Found() bool { return v.VersionID != 0 }

// LocalFile is a hashed file found on disk.
type LocalFile struct {
	Hash      string
	Path      string
	Root      string
	MTime     float64
	Size      int64
	Name      string
	ModelType string
}

// UpsertLocalFile records a hashed file. Any older row that pointed at the same path
// (the file changed contents) loses its local path first.
func (db *DB) UpsertLocalFile(f LocalFile) error {
	tx, err := db.SQL.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`UPDATE versions SET local_path = NULL, local_mtime = NULL WHERE local_path = ? AND hash <> ?`,
		f.Path, strings.ToLower(f.Hash)); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO versions (hash, local_path, local_root, local_mtime, file_size, name, model_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			local_path = excluded.local_path,
			local_root = excluded.local_root,
			local_mtime = excluded.local_mtime,
			file_size = excluded.file_size,
			model_type = excluded.model_type`,
		strings.ToLower(f.Hash), f.Path, f.Root, f.MTime, f.Size, f.Name, f.ModelType); err != nil {
		return err
	}
	return tx.Commit()
}

// LocalMTimes returns path -> recorded mtime for every local file of a model type.
func (db *DB) LocalMTimes(modelType string) (map[string]float64, error) {
	rows, err := db.SQL.Query(`SELECT local_path, COALESCE(local_mtime, 0) FROM versions WHERE model_type = ? AND local_path IS NOT NULL`, modelType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var p string
		var m float64
		if err := rows.Scan(&p, &m); err != nil {
			return nil, err
		}
		out[p] = m
	}
	return out, rows.Err()
}

// ResetMTimes zeroes recorded mtimes so the next scan rehashes every file of the type.
func (db *DB) ResetMTimes(modelType string) (int64, error) {
	res, err := db.SQL.Exec(`UPDATE versions SET local_mtime = 0 WHERE model_type = ? AND local_path IS NOT NULL`, modelType)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ForgetMissing clears local paths of the given type that are not in seen.
func (db *DB) ForgetMissing(modelType string, seen map[string]bool) (int, error) {
	current, err := db.LocalMTimes(modelType)
	if err != nil {
		return 0, err
	}
	n := 0
	for p := range current {
		if seen[p] {
			continue
		}
		if _, err := db.SQL.Exec(`UPDATE versions SET local_path = NULL, local_mtime = NULL WHERE local_path = ?`, p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// APIVersion is what the enrichment step learned about a hash.
type APIVersion struct {
	Hash         string
	VersionID    int64
	ModelID      int64
	ModelName    string
	ModelType    string // Civitai's model type, e.g. "LORA"
	Name         string
	BaseModel    string
	TrainedWords []string
	Raw          json.RawMessage
}

// UpsertFromAPI stores a Civitai version response and its parent model.
func (db *DB) UpsertFromAPI(v APIVersion) error {
	if v.VersionID == 0 || v.ModelID == 0 || v.Hash == "" {
		return fmt.Errorf("incomplete version: id=%d model=%d hash=%q", v.VersionID, v.ModelID, v.Hash)
	}
	words, err := json.Marshal(nonNil(v.TrainedWords))
	if err != nil {
		return err
	}
	tx, err := db.SQL.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT INTO models (model_id, name, type) VALUES (?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET name = excluded.name, type = excluded.type`,
		v.ModelID, v.ModelName, v.ModelType); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO versions (hash, version_id, model_id, name, base_model, trained_words, api_response, last_api_check)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			version_id = excluded.version_id,
			model_id = excluded.model_id,
			name = excluded.name,
			base_model = excluded.base_model,
			trained_words = excluded.trained_words,
			api_response = excluded.api_response,
			last_api_check = excluded.last_api_check`,
		strings.ToLower(v.Hash), v.VersionID, v.ModelID, v.Name, v.BaseModel, string(words), string(v.Raw), time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkNotFound records that Civitai has no version for hash.
func (db *DB) MarkNotFound(hash string) error {
	_, err := db.SQL.Exec(`UPDATE versions SET api_response = ?, last_api_check = ? WHERE hash = ?`,
		NotFoundResponse, time.Now().Unix(), strings.ToLower(hash))
	return err
}

// PendingEnrichment returns hashes of local files never checked against Civitai.
func (db *DB) PendingEnrichment() ([]string, error) {
	rows, err := db.SQL.Query(`SELECT hash FROM versions WHERE api_response IS NULL AND local_path IS NOT NULL ORDER BY hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const versionCols = `v.hash, COALESCE(v.version_id, 0), COALESCE(v.model_id, 0), COALESCE(v.model_type, ''),
	COALESCE(v.name, ''), COALESCE(v.base_model, ''), COALESCE(v.local_path, ''), COALESCE(v.local_root, ''),
	COALESCE(v.local_mtime, 0), COALESCE(v.file_size, 0), COALESCE(v.trained_words, ''),
	COALESCE(v.api_response, ''), COALESCE(v.last_api_check, 0), COALESCE(m.name, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(s rowScanner) (*Version, error) {
	var v Version
	var words string
	if err := s.Scan(&v.Hash, &v.VersionID, &v.ModelID, &v.ModelType, &v.Name, &v.BaseModel, &v.LocalPath,
		&v.LocalRoot, &v.LocalMTime, &v.FileSize, &words, &v.APIResponse, &v.LastAPICheck, &v.ModelName); err != nil {
		return nil, err
	}
	if words != "" {
		if err := json.Unmarshal([]byte(words), &v.TrainedWords); err != nil {
			return nil, fmt.Errorf("decode trained words for %s: %w", v.Hash, err)
		}
	}
	return &v, nil
}

func (db *DB) versionWhere(where string, arg any) (*Version, error) {
	// Several files (fp16, pruned, ...) can share a version id; prefer one on disk.
	row := db.SQL.QueryRow(`SELECT `+versionCols+` FROM versions v LEFT JOIN models m ON v.model_id = m.model_id WHERE `+where+
		` ORDER BY v.local_path IS NULL, v.hash LIMIT 1`, arg)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// VersionByHash returns nil, nil when the hash is unknown.
func (db *DB) VersionByHash(hash string) (*Version, error) {
	if hash == "" {
		return nil, nil
	}
	return db.versionWhere(`v.hash = ?`, strings.ToLower(hash))
}

// VersionByID returns nil, nil when the version id is unknown.
func (db *DB) VersionByID(id int64) (*Version, error) {
	if id == 0 {
		return nil, nil
	}
	return db.versionWhere(`v.version_id = ?`, id)
}

// VersionByPath returns nil, nil when no local file is recorded at path.
func (db *DB) VersionByPath(path string) (*Version, error) {
	if path == "" {
		return nil, nil
	}
	return db.versionWhere(`v.local_path = ?`, path)
}

// LocalModels returns every version with a local file, ordered by type then path.
// An empty modelType returns all types.
func (db *DB) LocalModels(modelType string) ([]*Version, error) {
	q := `SELECT ` + versionCols + ` FROM versions v LEFT JOIN models m ON v.model_id = m.model_id
		WHERE v.local_path IS NOT NULL`
	var args []any
	if modelType != "" {
		q += ` AND v.model_type = ?`
		args = append(args, modelType)
	}
	q += ` ORDER BY v.model_type, v.local_path`
	rows, err := db.SQL.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LocalHashes returns the set of hashes of files present on disk.
func (db *DB) LocalHashes() (map[string]bool, error) {
	rows, err := db.SQL.Query(`SELECT hash FROM versions WHERE local_path IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out[h] = true
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
