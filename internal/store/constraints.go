package store

import (
	"context"
	"database/sql"

	"ariadne/internal/errkind"
	"ariadne/internal/logging"
)

// CreateConstraint performs the two-phase dual-write scoped to the
// constraints table.
func (s *Store) CreateConstraint(ctx context.Context, c Constraint, embedding []float32) (*Constraint, error) {
	var vectorID string
	var err error
	if len(embedding) > 0 {
		vectorID, err = s.VectorAdd(ctx, c.Description, embedding, map[string]any{"name": c.Name, "constraint_type": c.ConstraintType})
		if err != nil {
			logging.Warnf(logging.CategoryStore, "vector write failed for constraint %s, committing without vector: %v", c.Name, err)
			vectorID = ""
		}
	}

	created, commitErr := s.insertConstraintTx(ctx, c, vectorID)
	if commitErr == nil {
		return created, nil
	}

	if vectorID != "" {
		if delErr := s.VectorDelete(ctx, vectorID); delErr != nil {
			_ = recordPendingVector(s.db, vectorID, c.Name, "rollback_failed")
		}
	}
	return nil, errkind.New(errkind.StoreIntegrityError, c.Name, commitErr)
}

func (s *Store) insertConstraintTx(ctx context.Context, c Constraint, vectorID string) (*Constraint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var vid, src any
	if vectorID != "" {
		vid = vectorID
	}
	if c.SourceFQN != "" {
		src = c.SourceFQN
	}
	severity := c.Severity
	if severity == "" {
		severity = SeverityInfo
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO constraints (name, constraint_type, description, source_fqn, severity, vector_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			constraint_type=excluded.constraint_type, description=excluded.description,
			source_fqn=excluded.source_fqn, severity=excluded.severity, vector_id=excluded.vector_id`,
		c.Name, c.ConstraintType, c.Description, src, string(severity), vid)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	out := c
	out.Severity = severity
	out.VectorID = vectorID
	return &out, nil
}

// GetConstraint fetches one constraint by name.
func (s *Store) GetConstraint(ctx context.Context, name string) (*Constraint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, constraint_type, description, COALESCE(source_fqn, ''),
		severity, COALESCE(vector_id, '') FROM constraints WHERE name = ?`, name)
	return scanConstraint(row)
}

func scanConstraint(row *sql.Row) (*Constraint, error) {
	var c Constraint
	var severity string
	if err := row.Scan(&c.Name, &c.ConstraintType, &c.Description, &c.SourceFQN, &severity, &c.VectorID); err != nil {
		return nil, err
	}
	c.Severity = Severity(severity)
	return &c, nil
}
