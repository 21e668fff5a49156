package state

import (
	"fmt"
	"strings"
)

// CheckIntegrity runs SQLite's integrity check on the database
func (db *DB) CheckIntegrity() error {
	if db == nil || db.SQL == nil {
		return fmt.Errorf("database not open")
	}
	var result string
	if err := db.SQL.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check failed: %s", result)
	}
	return nil
}

// Orphans counts rows nothing points at any more.
type Orphans struct {
	Models   int // models no version row references
	Versions int // versions with neither a local file nor a Civitai match
}

func (o Orphans) Total() int { return o.Models + o.Versions }

// SQLite rejects a table alias in DELETE, so the correlated subquery names the
// outer table in full.
const (
	orphanModels   = `FROM models WHERE NOT EXISTS (SELECT 1 FROM versions v WHERE v.model_id = models.model_id)`
	orphanVersions = `FROM versions WHERE local_path IS NULL AND COALESCE(version_id, 0) = 0`
)

// CheckOrphans counts orphaned records
func (db *DB) CheckOrphans() (Orphans, error) {
	var o Orphans
	if db == nil || db.SQL == nil {
		return o, fmt.Errorf("database not open")
	}
	if err := db.SQL.QueryRow(`SELECT COUNT(*) ` + orphanModels).Scan(&o.Models); err != nil {
		return o, fmt.Errorf("failed to count orphaned models: %w", err)
	}
	if err := db.SQL.QueryRow(`SELECT COUNT(*) ` + orphanVersions).Scan(&o.Versions); err != nil {
		return o, fmt.Errorf("failed to count orphaned versions: %w", err)
	}
	return o, nil
}

// RepairOrphans deletes orphaned rows. Versions go first so the models they held
// become orphans in the same pass.
func (db *DB) RepairOrphans() (int, error) {
	if db == nil || db.SQL == nil {
		return 0, fmt.Errorf("database not open")
	}
	total := 0
	for _, q := range []string{orphanVersions, orphanModels} {
		res, err := db.SQL.Exec(`DELETE ` + q)
		if err != nil {
			return total, fmt.Errorf("failed to delete orphans: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// Vacuum reclaims unused space.
func (db *DB) Vacuum() error {
	if db == nil || db.SQL == nil {
		return fmt.Errorf("database not open")
	}
	if _, err := db.SQL.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database to destPath with VACUUM INTO.
func (db *DB) Backup(destPath string) error {
	if db == nil || db.SQL == nil {
		return fmt.Errorf("database not open")
	}
	query := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(destPath, "'", "''"))
	if _, err := db.SQL.Exec(query); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	return nil
}

// Size is the database size in bytes as SQLite accounts it.
func (db *DB) Size() (int64, error) {
	if db == nil || db.SQL == nil {
		return 0, fmt.Errorf("database not open")
	}
	var pages, pageSize int64
	if err := db.SQL.QueryRow("PRAGMA page_count").Scan(&pages); err != nil {
		return 0, err
	}
	if err := db.SQL.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}
