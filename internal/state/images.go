package state

import (
	"database/sql"
	"encoding/json"
)

type ImageRow struct {
	ID            int64
	VersionID     int64
	URL           string
	Meta          json.RawMessage
	LocalFilename string
}

// RecordImage upserts an image seen in a gallery fetch or saved to disk. Empty fields
// never overwrite values already stored.
func (db *DB) RecordImage(url, localFilename string, versionID int64, meta json.RawMessage) error {
	var metaArg, versionArg, fileArg any
	if len(meta) > 0 && string(meta) != "null" {
		metaArg = string(meta)
	}
	if versionID != 0 {
		versionArg = versionID
	}
	if localFilename != "" {
		fileArg = localFilename
	}
	_, err := db.SQL.Exec(`INSERT INTO images (url, local_filename, version_id, meta) VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			local_filename = COALESCE(excluded.local_filename, local_filename),
			version_id = COALESCE(excluded.version_id, version_id),
			meta = COALESCE(excluded.meta, meta)`,
		url, fileArg, versionArg, metaArg)
	return err
}

// ImageByURL returns nil, nil when the URL was never recorded.
func (db *DB) ImageByURL(url string) (*ImageRow, error) {
	var r ImageRow
	var meta string
	err := db.SQL.QueryRow(`SELECT image_id, COALESCE(version_id, 0), url, COALESCE(meta, ''), COALESCE(local_filename, '')
		FROM images WHERE url = ?`, url).Scan(&r.ID, &r.VersionID, &r.URL, &meta, &r.LocalFilename)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if meta != "" {
		r.Meta = json.RawMessage(meta)
	}
	return &r, nil
}
