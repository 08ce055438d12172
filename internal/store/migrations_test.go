package store

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// TestApplyMigration_PurgeOrphanedAntiPatterns exercises the version-2
// migration's Preview -> backup -> Apply -> version-bump flow end to end:
// an orphaned anti_patterns row is backed up into
// deleted_orphans_backup_2 before the purge deletes it.
func TestApplyMigration_PurgeOrphanedAntiPatterns(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()

	previewRows := sqlmock.NewRows([]string{"id", "rule_id", "from_fqn", "to_fqn", "severity", "message", "detected_at"}).
		AddRow(int64(1), "god-class", "com.acme.Deleted", nil, "warning", "stale reference", time.Now())
	mock.ExpectQuery(`SELECT ap.id, ap.rule_id, ap.from_fqn, ap.to_fqn, ap.severity, ap.message, ap.detected_at`).
		WillReturnRows(previewRows)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS deleted_orphans_backup_2`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO deleted_orphans_backup_2`).
		WithArgs("anti_patterns", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(`DELETE FROM anti_patterns WHERE from_fqn NOT IN`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`INSERT INTO schema_version \(version\) VALUES \(\?\)`).
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectCommit()

	require.NoError(t, applyMigration(db, migrationPurgeOrphanedAntiPatterns))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigration_NoOrphansSkipsBackup(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT ap.id, ap.rule_id, ap.from_fqn, ap.to_fqn, ap.severity, ap.message, ap.detected_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rule_id", "from_fqn", "to_fqn", "severity", "message", "detected_at"}))
	mock.ExpectExec(`DELETE FROM anti_patterns WHERE from_fqn NOT IN`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_version \(version\) VALUES \(\?\)`).
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, applyMigration(db, migrationPurgeOrphanedAntiPatterns))
	require.NoError(t, mock.ExpectationsWereMet())
}
