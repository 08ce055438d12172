package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ariadne/internal/errkind"
	"ariadne/internal/logging"
)

// CreateSummaryWithVector performs the two-phase dual-write for one
// summary (spec §4.2):
//  1. write the embedding to the vector store under a fresh vector_id
//  2. insert the summary row with that vector_id set, in one relational
//     transaction, then commit
//
// On step-2 failure the vector is best-effort deleted; if that delete
// also fails, a pending_vectors row is recorded via a fresh connection,
// since the aborted transaction's connection cannot be reused. The
// summary row is never left without an attempt to account for the
// vector it names (spec §8 property 5).
func (s *Store) CreateSummaryWithVector(ctx context.Context, targetFQN string, level SummaryLevel, text string, embedding []float32) (*Summary, error) {
	embedder := s.getEmbedder()

	var vectorID string
	var err error
	if len(embedding) > 0 {
		vectorID, err = s.VectorAdd(ctx, text, embedding, map[string]any{"target_fqn": targetFQN, "level": string(level)})
	} else if embedder != nil {
		vectorID, err = s.EmbedAndAdd(ctx, text, map[string]any{"target_fqn": targetFQN, "level": string(level)})
	}
	if err != nil {
		// Vector write failed before any relational transaction opened;
		// the summary still commits with vector_id=null per spec §7.
		logging.Warnf(logging.CategoryStore, "vector write failed for %s/%s, committing without vector: %v", targetFQN, level, err)
		vectorID = ""
	}

	sum, commitErr := s.insertSummaryTx(ctx, targetFQN, level, text, vectorID)
	if commitErr == nil {
		return sum, nil
	}

	if vectorID == "" {
		return nil, errkind.New(errkind.StoreIntegrityError, targetFQN, commitErr)
	}

	// Step 2 failed after step 1 succeeded: compensate.
	if delErr := s.VectorDelete(ctx, vectorID); delErr != nil {
		if recErr := recordPendingVector(s.db, vectorID, targetFQN, "rollback_failed"); recErr != nil {
			logging.Errorf(logging.CategoryStore, "orphan tracking insert failed for vector %s (target=%s): %v", vectorID, targetFQN, recErr)
		}
	}
	return nil, errkind.New(errkind.StoreIntegrityError, targetFQN, commitErr)
}

func (s *Store) insertSummaryTx(ctx context.Context, targetFQN string, level SummaryLevel, text, vectorID string) (*Summary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var vid any
	if vectorID != "" {
		vid = vectorID
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `INSERT INTO summaries (target_fqn, level, summary, vector_id, is_stale, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(target_fqn, level) DO UPDATE SET
			summary=excluded.summary, vector_id=excluded.vector_id, is_stale=0, updated_at=excluded.updated_at`,
		targetFQN, string(level), text, vid, now, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Summary{TargetFQN: targetFQN, Level: level, Text: text, VectorID: vectorID, CreatedAt: now, UpdatedAt: now}, nil
}

// BatchCreateSummaries writes a list of summaries. allOrNothing runs them
// inside one relational transaction (any failure rolls back every row in
// the batch); otherwise each is attempted independently and failures are
// returned alongside the successes, matching the configurable per-item
// failure policy in spec §4.2.
type SummaryInput struct {
	TargetFQN string
	Level     SummaryLevel
	Text      string
	Embedding []float32
}

type BatchSummaryResult struct {
	Created []Summary
	Failed  map[string]error // keyed by TargetFQN
}

func (s *Store) BatchCreateSummaries(ctx context.Context, inputs []SummaryInput, allOrNothing bool) (*BatchSummaryResult, error) {
	result := &BatchSummaryResult{Failed: make(map[string]error)}
	if len(inputs) == 0 {
		return result, nil
	}

	if !allOrNothing {
		for _, in := range inputs {
			sum, err := s.CreateSummaryWithVector(ctx, in.TargetFQN, in.Level, in.Text, in.Embedding)
			if err != nil {
				result.Failed[in.TargetFQN] = err
				continue
			}
			result.Created = append(result.Created, *sum)
		}
		return result, nil
	}

	// All-or-nothing: embed everything first (outside the transaction,
	// since vector writes are not transactional with the relational
	// store), then commit all relational rows in one transaction.
	type prepared struct {
		in       SummaryInput
		vectorID string
	}
	var preps []prepared
	for _, in := range inputs {
		vectorID := ""
		if len(in.Embedding) > 0 {
			id, err := s.VectorAdd(ctx, in.Text, in.Embedding, map[string]any{"target_fqn": in.TargetFQN, "level": string(in.Level)})
			if err != nil {
				return nil, errkind.New(errkind.VectorFailure, in.TargetFQN, err)
			}
			vectorID = id
		}
		preps = append(preps, prepared{in: in, vectorID: vectorID})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, p := range preps {
		var vid any
		if p.vectorID != "" {
			vid = p.vectorID
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO summaries (target_fqn, level, summary, vector_id, is_stale, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(target_fqn, level) DO UPDATE SET
				summary=excluded.summary, vector_id=excluded.vector_id, is_stale=0, updated_at=excluded.updated_at`,
			p.in.TargetFQN, string(p.in.Level), p.in.Text, vid, now, now)
		if err != nil {
			// Compensate every vector written this batch before surfacing.
			for _, q := range preps {
				if q.vectorID == "" {
					continue
				}
				if delErr := s.VectorDelete(ctx, q.vectorID); delErr != nil {
					_ = recordPendingVector(s.db, q.vectorID, q.in.TargetFQN, "rollback_failed")
				}
			}
			return nil, errkind.New(errkind.StoreIntegrityError, p.in.TargetFQN, err)
		}
		result.Created = append(result.Created, Summary{
			TargetFQN: p.in.TargetFQN, Level: p.in.Level, Text: p.in.Text, VectorID: p.vectorID, CreatedAt: now, UpdatedAt: now,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	return result, nil
}

// MarkStale flips is_stale=true for every summary whose target_fqn is in
// fqns, in a single UPDATE ... WHERE target_fqn IN (...) statement, and
// returns the true affected-row count. A per-fqn UPDATE-in-a-loop is
// forbidden: it yields O(n) commits and the wrong row count when fqns
// contains duplicates or entries with no existing summary (spec §4.2,
// §8 property 4, §9).
func (s *Store) MarkStale(ctx context.Context, fqns []string) (int, error) {
	if len(fqns) == 0 {
		return 0, nil
	}
	query, args, err := psql.Update("summaries").
		Set("is_stale", 1).
		Where(sq.Eq{"target_fqn": fqns}).
		ToSql()
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetSummary fetches one summary by (target_fqn, level).
func (s *Store) GetSummary(ctx context.Context, targetFQN string, level SummaryLevel) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT target_fqn, level, summary, COALESCE(vector_id, ''), is_stale, created_at, updated_at
		FROM summaries WHERE target_fqn = ? AND level = ?`, targetFQN, string(level))
	return scanSummary(row)
}

func scanSummary(row *sql.Row) (*Summary, error) {
	var sum Summary
	var level string
	var isStale int
	if err := row.Scan(&sum.TargetFQN, &level, &sum.Text, &sum.VectorID, &isStale, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
		return nil, err
	}
	sum.Level = SummaryLevel(level)
	sum.IsStale = isStale != 0
	return &sum, nil
}

// IsStale reports whether a summary's stale flag is currently set; used
// by the summariser's re-fetch check before a stale-clearing write, since
// last-writer-wins is disallowed for stale flag transitions (spec §4.4
// step 7, §5).
func (s *Store) IsStale(ctx context.Context, targetFQN string, level SummaryLevel) (bool, error) {
	var isStale int
	err := s.db.QueryRowContext(ctx, "SELECT is_stale FROM summaries WHERE target_fqn = ? AND level = ?", targetFQN, string(level)).Scan(&isStale)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return isStale != 0, nil
}
