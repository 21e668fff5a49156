package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known settings keys.
const (
	SettingNetwork = "network_choice" // "com" | "work"
)

// GetSetting decodes the JSON value stored under key into v. It reports false when
// the key is unset. Values written by hand as bare strings are accepted for *string.
func (db *DB) GetSetting(key string, v any) (bool, error) {
	var raw sql.NullString
	err := db.SQL.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows || (err == nil && (!raw.Valid || raw.String == "")) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw.String), v); err != nil {
		if sp, ok := v.(*string); ok {
			*sp = raw.String
			return true, nil
		}
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

// SetSetting stores v as JSON under key.
func (db *DB) SetSetting(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = db.SQL.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(b))
	return err
}

// Network returns the stored Civitai network choice, or fallback when unset.
func (db *DB) Network(fallback string) string {
	var n string
	if ok, err := db.GetSetting(SettingNetwork, &n); err != nil || !ok || (n != "com" && n != "work") {
		return fallback
	}
	return n
}

// SetSelection records the gallery item chosen for a node (or any named consumer).
func (db *DB) SetSelection(nodeID string, item any) error {
	b, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = db.SQL.Exec(`INSERT INTO selections (node_id, item, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET item = excluded.item, updated_at = excluded.updated_at`,
		nodeID, string(b), time.Now().Unix())
	return err
}

// Selection returns the raw JSON stored for nodeID, or nil.
func (db *DB) Selection(nodeID string) (json.RawMessage, error) {
	var s string
	err := db.SQL.QueryRow(`SELECT item FROM selections WHERE node_id = ?`, nodeID).Scan(&s)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(s), nil
}

// AnalysisCache returns the cached analysis for fingerprint if it is younger than ttl
// (ttl <= 0 disables expiry).
func (db *DB) AnalysisCache(fingerprint string, ttl time.Duration, v any) (bool, error) {
	var data string
	var updated int64
	err := db.SQL.QueryRow(`SELECT COALESCE(analysis_data, ''), COALESCE(last_updated, 0) FROM analysis_cache WHERE fingerprint = ?`,
		fingerprint).Scan(&data, &updated)
	if err == sql.ErrNoRows || (err == nil && data == "") {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ttl > 0 && time.Since(time.Unix(updated, 0)) > ttl {
		return false, nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("decode analysis %s: %w", fingerprint, err)
	}
	return true, nil
}

// SetAnalysisCache stores v for fingerprint.
func (db *DB) SetAnalysisCache(fingerprint string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = db.SQL.Exec(`INSERT INTO analysis_cache (fingerprint, analysis_data, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET analysis_data = excluded.analysis_data, last_updated = excluded.last_updated`,
		fingerprint, string(b), time.Now().Unix())
	return err
}

// Cache kinds accepted by ClearCache.
const (
	CacheAnalysis     = "analysis"
	CacheAPIResponses = "api_responses"
	CacheTriggers     = "triggers"
	CacheAll          = "all"
)

// ClearCache drops one kind of cached data. "all" drops every kind.
func (db *DB) ClearCache(kind string) error {
	var stmts []string
	switch kind {
	case CacheAnalysis:
		stmts = []string{`DELETE FROM analysis_cache`}
	case CacheAPIResponses:
		stmts = []string{`UPDATE versions SET api_response = NULL, last_api_check = 0`}
	case CacheTriggers:
		stmts = []string{`UPDATE versions SET trained_words = NULL`}
	case CacheAll:
		stmts = []string{
			`DELETE FROM analysis_cache`,
			`UPDATE versions SET api_response = NULL, last_api_check = 0, trained_words = NULL`,
		}
	default:
		return fmt.Errorf("unknown cache kind %q (want analysis, api_responses, triggers or all)", kind)
	}
	for _, s := range stmts {
		if _, err := db.SQL.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarises the database.
type Stats struct {
	ByType     map[string]int
	Unchecked  int
	NotFound   int
	Images     int
	Saved      int
	Selections int
}

func (db *DB) Stats() (Stats, error) {
	st := Stats{ByType: map[string]int{}}
	rows, err := db.SQL.Query(`SELECT COALESCE(model_type, ''), COUNT(*) FROM versions WHERE local_path IS NOT NULL GROUP BY model_type`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.ByType[t] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}
	counts := []struct {
		q   string
		dst *int
	}{
		{`SELECT COUNT(*) FROM versions WHERE local_path IS NOT NULL AND api_response IS NULL`, &st.Unchecked},
		{`SELECT COUNT(*) FROM versions WHERE api_response = '{}'`, &st.NotFound},
		{`SELECT COUNT(*) FROM images`, &st.Images},
		{`SELECT COUNT(*) FROM images WHERE local_filename IS NOT NULL`, &st.Saved},
		{`SELECT COUNT(*) FROM selections`, &st.Selections},
	}
	for _, c := range counts {
		if err := db.SQL.QueryRow(c.q).Scan(c.dst); err != nil {
			return st, err
		}
	}
	return st, nil
}
