package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"ariadne/internal/errkind"
)

// UpsertEdges inserts edges, deduplicating on the (from_fqn, to_fqn,
// relation, kind) unique key. Edges are append-only per extraction run in
// the common case, but re-extracting identical bytecode must produce a
// bit-identical edge set (spec §8 property 2), so this is a genuine upsert
// rather than a blind insert: re-running with the same metadata is a
// no-op, and changed metadata (e.g. a qualifier) overwrites in place.
func (s *Store) UpsertEdges(ctx context.Context, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.New(errkind.StoreIntegrityError, "", err)
	}
	defer tx.Rollback()

	for _, e := range edges {
		if err := upsertEdge(ctx, tx, e); err != nil {
			return errkind.New(errkind.StoreIntegrityError, e.FromFQN+"->"+e.ToFQN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errkind.New(errkind.StoreIntegrityError, "", err)
	}
	return nil
}

func upsertEdge(ctx context.Context, tx *sql.Tx, e Edge) error {
	metadata, err := jsonMarshalString(nonNilMap(e.Metadata))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO edges (from_fqn, to_fqn, relation, kind, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(from_fqn, to_fqn, relation, kind) DO UPDATE SET metadata=excluded.metadata`,
		e.FromFQN, e.ToFQN, string(e.Relation), e.Kind, metadata)
	return err
}

// EdgesForClass replaces every edge whose from_fqn belongs to one of
// classFQNs with newEdges, inside one transaction. Used by the incremental
// coordinator when re-running C1 on a changed file: the old edge set for
// that file's symbols is superseded wholesale rather than merged, since
// bytecode for those symbols has changed.
func (s *Store) EdgesForClass(ctx context.Context, classFQNs []string, newEdges []Edge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.New(errkind.StoreIntegrityError, "", err)
	}
	defer tx.Rollback()

	for _, fqn := range classFQNs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE from_fqn = ?", fqn); err != nil {
			return errkind.New(errkind.StoreIntegrityError, fqn, err)
		}
	}
	for _, e := range newEdges {
		if err := upsertEdge(ctx, tx, e); err != nil {
			return errkind.New(errkind.StoreIntegrityError, e.FromFQN+"->"+e.ToFQN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errkind.New(errkind.StoreIntegrityError, "", err)
	}
	return nil
}

// CallersOf returns direct callers of target (one hop), used by the
// incremental coordinator to compute dependents.
func (s *Store) CallersOf(ctx context.Context, target string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT from_fqn FROM edges WHERE to_fqn = ? AND relation = 'calls'`, target)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, target, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fqn string
		if err := rows.Scan(&fqn); err != nil {
			return nil, err
		}
		out = append(out, fqn)
	}
	return out, rows.Err()
}

// EdgesByFromFQN returns every edge whose from_fqn is fqn, ordered by
// to_fqn, relation and kind. Nothing else in this module calls it.
func (s *Store) EdgesByFromFQN(ctx context.Context, fqn string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_fqn, to_fqn, relation, kind, metadata FROM edges WHERE from_fqn = ? ORDER BY to_fqn, relation, kind`, fqn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		var relation, metadata string
		if err := rows.Scan(&e.FromFQN, &e.ToFQN, &relation, &e.Kind, &metadata); err != nil {
			return nil, err
		}
		e.Relation = Relation(relation)
		_ = json.Unmarshal([]byte(metadata), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}
