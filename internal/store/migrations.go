// Package store provides the relational + vector persistence layer for the
// code knowledge graph: symbols, edges, summaries, glossary, constraints,
// entry points, anti-patterns, jobs, and the dual-write consistency
// machinery that keeps the vector store in sync with the relational one.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"ariadne/internal/errkind"
	"ariadne/internal/logging"
)

// CurrentSchemaVersion is the schema version this build of the store
// expects. RunMigrations brings any older database up to this version.
const CurrentSchemaVersion = 2

// BackupRow is one row a migration's Apply step is about to delete or
// overwrite, captured by Preview before the destructive statement runs.
type BackupRow struct {
	Table   string
	Columns []string
	Values  []any
}

// Migration is one versioned schema change. Preview reports what would be
// destroyed or rewritten without touching the database; Apply performs the
// change, first copying every row Preview identified into
// deleted_orphans_backup_<version> inside the same transaction.
type Migration struct {
	Version     int
	Describe    string
	Preview     func(tx *sql.Tx) ([]BackupRow, error)
	Apply       func(tx *sql.Tx) error
}

// migrations lists every schema migration in ascending version order.
// Version 1 is the baseline schema created by createSchema and has no
// migration entry; entries here run for version >= 2.
var migrations = []Migration{
	migrationPurgeOrphanedAntiPatterns,
}

// migrationPurgeOrphanedAntiPatterns (version 2) removes anti_patterns
// rows whose from_fqn no longer resolves to a live symbol. Early
// deployments ran without foreign_keys enforcement turned on, so a
// symbol delete could leave anti_patterns behind instead of cascading;
// this migration reconciles any database that predates that pragma.
var migrationPurgeOrphanedAntiPatterns = Migration{
	Version:  2,
	Describe: "purge anti_patterns rows with no matching symbol",
	Preview: func(tx *sql.Tx) ([]BackupRow, error) {
		rows, err := tx.Query(`SELECT ap.id, ap.rule_id, ap.from_fqn, ap.to_fqn, ap.severity, ap.message, ap.detected_at
			FROM anti_patterns ap
			LEFT JOIN symbols s ON s.fqn = ap.from_fqn
			WHERE s.fqn IS NULL`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []BackupRow
		for rows.Next() {
			var id int64
			var ruleID, fromFQN, severity, message string
			var toFQN sql.NullString
			var detectedAt time.Time
			if err := rows.Scan(&id, &ruleID, &fromFQN, &toFQN, &severity, &message, &detectedAt); err != nil {
				return nil, err
			}
			out = append(out, BackupRow{
				Table:   "anti_patterns",
				Columns: []string{"id", "rule_id", "from_fqn", "to_fqn", "severity", "message", "detected_at"},
				Values:  []any{id, ruleID, fromFQN, toFQN.String, severity, message, detectedAt},
			})
		}
		return out, rows.Err()
	},
	Apply: func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM anti_patterns WHERE from_fqn NOT IN (SELECT fqn FROM symbols)`)
		return err
	},
}

func schemaDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			fqn TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			line_number INTEGER NOT NULL DEFAULT 0,
			modifiers TEXT NOT NULL DEFAULT '[]',
			signature TEXT NOT NULL DEFAULT '',
			parent_fqn TEXT,
			annotations TEXT NOT NULL DEFAULT '[]',
			attrs TEXT NOT NULL DEFAULT '{}',
			FOREIGN KEY (parent_fqn) REFERENCES symbols(fqn) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_file_path ON symbols(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_parent_fqn ON symbols(parent_fqn)`,
		`CREATE TABLE IF NOT EXISTS edges (
			from_fqn TEXT NOT NULL,
			to_fqn TEXT NOT NULL,
			relation TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (from_fqn, to_fqn, relation, kind),
			FOREIGN KEY (from_fqn) REFERENCES symbols(fqn) ON DELETE CASCADE,
			FOREIGN KEY (to_fqn) REFERENCES symbols(fqn) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_to_fqn_relation ON edges(to_fqn, relation)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from_fqn_relation ON edges(from_fqn, relation)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			target_fqn TEXT NOT NULL,
			level TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			vector_id TEXT,
			is_stale INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (target_fqn, level),
			FOREIGN KEY (target_fqn) REFERENCES symbols(fqn) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_is_stale ON summaries(is_stale)`,
		`CREATE TABLE IF NOT EXISTS glossary (
			code_term TEXT PRIMARY KEY,
			business_meaning TEXT NOT NULL,
			synonyms TEXT NOT NULL DEFAULT '[]',
			source_fqn TEXT,
			vector_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (source_fqn) REFERENCES symbols(fqn) ON DELETE SET NULL
		)`,
		`CREATE TABLE IF NOT EXISTS constraints (
			name TEXT PRIMARY KEY,
			constraint_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			source_fqn TEXT,
			severity TEXT NOT NULL DEFAULT 'info',
			vector_id TEXT,
			FOREIGN KEY (source_fqn) REFERENCES symbols(fqn) ON DELETE SET NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entry_points (
			symbol_fqn TEXT PRIMARY KEY,
			entry_type TEXT NOT NULL,
			http_method TEXT,
			http_path TEXT,
			cron_expression TEXT,
			mq_queue TEXT,
			FOREIGN KEY (symbol_fqn) REFERENCES symbols(fqn) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS anti_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_id TEXT NOT NULL,
			from_fqn TEXT NOT NULL,
			to_fqn TEXT,
			severity TEXT NOT NULL DEFAULT 'warning',
			message TEXT NOT NULL DEFAULT '',
			detected_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (from_fqn) REFERENCES symbols(fqn) ON DELETE CASCADE,
			FOREIGN KEY (to_fqn) REFERENCES symbols(fqn) ON DELETE SET NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			finished_at DATETIME,
			payload BLOB,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE TABLE IF NOT EXISTS pending_vectors (
			vector_id TEXT PRIMARY KEY,
			target_fqn TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS vectors (
			vector_id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(
			vector_id TEXT,
			embedding BLOB,
			content TEXT,
			metadata TEXT
		)`,
	}
}

// createSchema applies the version-1 baseline DDL. It is idempotent: every
// statement uses IF NOT EXISTS so opening an already-current database is a
// no-op pass.
func createSchema(db *sql.DB) error {
	for _, stmt := range schemaDDL() {
		if _, err := db.Exec(stmt); err != nil {
			return errkind.New(errkind.StoreIntegrityError, "schema", fmt.Errorf("executing %q: %w", stmt, err))
		}
	}
	return nil
}

// GetSchemaVersion returns the current schema version, 0 if the version
// table is absent or empty.
func GetSchemaVersion(db *sql.DB) int {
	if !tableExists(db, "schema_version") {
		return 0
	}
	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

// SetSchemaVersion records that the database has been brought up to version.
func SetSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	if err != nil {
		return fmt.Errorf("recording schema version %d: %w", version, err)
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}

// RunMigrations brings db from its current schema version up to
// CurrentSchemaVersion, creating the baseline schema first if necessary.
// Each pending migration previews the rows it is about to destroy, copies
// them into a deleted_orphans_backup_<version> table, applies its change,
// and records the new version — all inside one transaction per migration.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryMigration, "RunMigrations")
	defer timer.Stop()

	if err := createSchema(db); err != nil {
		return err
	}

	current := GetSchemaVersion(db)
	if current == 0 {
		current = 1
		if err := SetSchemaVersion(db, current); err != nil {
			return err
		}
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Describe, err)
		}
		logging.Infof(logging.CategoryMigration, "applied migration %d: %s", m.Version, m.Describe)
	}
	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := m.Preview(tx)
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}

	if len(rows) > 0 {
		if err := backupRows(tx, m.Version, rows); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	if err := m.Apply(tx); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	return tx.Commit()
}

// backupRows writes every row a migration is about to purge into
// deleted_orphans_backup_<version>, so an operator can recover what was
// destroyed. The backup table is created on first use per version.
func backupRows(tx *sql.Tx, version int, rows []BackupRow) error {
	backupTable := fmt.Sprintf("deleted_orphans_backup_%d", version)

	tablesSeen := make(map[string]bool)
	for _, r := range rows {
		key := r.Table
		if tablesSeen[key] {
			continue
		}
		tablesSeen[key] = true

		createStmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source_table TEXT NOT NULL,
				backed_up_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				row_json TEXT NOT NULL
			)`, backupTable)
		if _, err := tx.Exec(createStmt); err != nil {
			return err
		}
	}

	insertStmt := fmt.Sprintf("INSERT INTO %s (source_table, row_json) VALUES (?, ?)", backupTable)
	for _, r := range rows {
		rowJSON, err := encodeBackupRow(r)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(insertStmt, r.Table, rowJSON); err != nil {
			return err
		}
	}
	return nil
}

func encodeBackupRow(r BackupRow) (string, error) {
	obj := make(map[string]any, len(r.Columns))
	for i, col := range r.Columns {
		if i < len(r.Values) {
			obj[col] = r.Values[i]
		}
	}
	return jsonMarshalString(obj)
}

// CreateBackup copies the database file to a timestamped sibling path,
// used before destructive operator-triggered maintenance.
func CreateBackup(dbPath string) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	backupPath := dbPath + ".backup_" + timestamp
	if err := copyFile(dbPath, backupPath); err != nil {
		return "", err
	}
	return backupPath, nil
}
