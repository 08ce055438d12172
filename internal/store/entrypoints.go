package store

import (
	"context"
	"database/sql"

	"ariadne/internal/errkind"
)

// UpsertEntryPoints applies conflict-on-unique-key UPDATE, the same policy
// as UpsertSymbols and for the same reason: a delete-then-insert would
// cascade nothing here directly, but it would momentarily drop the FK row
// other components rely on for list_entry_points during a re-extraction
// (spec §4.2).
func (s *Store) UpsertEntryPoints(ctx context.Context, points []EntryPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.New(errkind.StoreIntegrityError, "", err)
	}
	defer tx.Rollback()

	for _, ep := range points {
		if err := upsertEntryPoint(ctx, tx, ep); err != nil {
			return errkind.New(errkind.StoreIntegrityError, ep.SymbolFQN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errkind.New(errkind.StoreIntegrityError, "", err)
	}
	return nil
}

func upsertEntryPoint(ctx context.Context, tx *sql.Tx, ep EntryPoint) error {
	var httpMethod, httpPath, cron, mq any
	if ep.HTTPMethod != "" {
		httpMethod = ep.HTTPMethod
	}
	if ep.HTTPPath != "" {
		httpPath = ep.HTTPPath
	}
	if ep.CronExpression != "" {
		cron = ep.CronExpression
	}
	if ep.MQQueue != "" {
		mq = ep.MQQueue
	}

	_, err := tx.ExecContext(ctx, `INSERT INTO entry_points (symbol_fqn, entry_type, http_method, http_path, cron_expression, mq_queue)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol_fqn) DO UPDATE SET
			entry_type=excluded.entry_type, http_method=excluded.http_method, http_path=excluded.http_path,
			cron_expression=excluded.cron_expression, mq_queue=excluded.mq_queue`,
		ep.SymbolFQN, string(ep.EntryType), httpMethod, httpPath, cron, mq)
	return err
}

// ListEntryPointsFilter narrows ListEntryPoints results; zero value
// matches everything.
type ListEntryPointsFilter struct {
	EntryType EntryType
}

// ListEntryPoints returns entry points matching filter.
func (s *Store) ListEntryPoints(ctx context.Context, filter ListEntryPointsFilter) ([]EntryPoint, error) {
	query := `SELECT symbol_fqn, entry_type, COALESCE(http_method, ''), COALESCE(http_path, ''),
		COALESCE(cron_expression, ''), COALESCE(mq_queue, '') FROM entry_points`
	var args []any
	if filter.EntryType != "" {
		query += " WHERE entry_type = ?"
		args = append(args, string(filter.EntryType))
	}
	query += " ORDER BY symbol_fqn"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	defer rows.Close()

	var out []EntryPoint
	for rows.Next() {
		var ep EntryPoint
		var entryType string
		if err := rows.Scan(&ep.SymbolFQN, &entryType, &ep.HTTPMethod, &ep.HTTPPath, &ep.CronExpression, &ep.MQQueue); err != nil {
			return nil, err
		}
		ep.EntryType = EntryType(entryType)
		out = append(out, ep)
	}
	return out, rows.Err()
}
