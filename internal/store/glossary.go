package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"ariadne/internal/errkind"
	"ariadne/internal/logging"
)

// CreateGlossaryEntry performs the same two-phase dual-write as
// CreateSummaryWithVector, scoped to the glossary table.
func (s *Store) CreateGlossaryEntry(ctx context.Context, codeTerm, businessMeaning string, synonyms []string, sourceFQN string, embedding []float32) (*GlossaryEntry, error) {
	var vectorID string
	var err error
	if len(embedding) > 0 {
		vectorID, err = s.VectorAdd(ctx, businessMeaning, embedding, map[string]any{"code_term": codeTerm})
		if err != nil {
			logging.Warnf(logging.CategoryStore, "vector write failed for glossary term %s, committing without vector: %v", codeTerm, err)
			vectorID = ""
		}
	}

	entry, commitErr := s.insertGlossaryTx(ctx, codeTerm, businessMeaning, synonyms, sourceFQN, vectorID)
	if commitErr == nil {
		return entry, nil
	}

	if vectorID != "" {
		if delErr := s.VectorDelete(ctx, vectorID); delErr != nil {
			_ = recordPendingVector(s.db, vectorID, codeTerm, "rollback_failed")
		}
	}
	return nil, errkind.New(errkind.StoreIntegrityError, codeTerm, commitErr)
}

func (s *Store) insertGlossaryTx(ctx context.Context, codeTerm, businessMeaning string, synonyms []string, sourceFQN, vectorID string) (*GlossaryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	synJSON, err := jsonMarshalString(nonNil(synonyms))
	if err != nil {
		return nil, err
	}

	var vid, src any
	if vectorID != "" {
		vid = vectorID
	}
	if sourceFQN != "" {
		src = sourceFQN
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `INSERT INTO glossary (code_term, business_meaning, synonyms, source_fqn, vector_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code_term) DO UPDATE SET
			business_meaning=excluded.business_meaning, synonyms=excluded.synonyms,
			source_fqn=excluded.source_fqn, vector_id=excluded.vector_id`,
		codeTerm, businessMeaning, synJSON, src, vid, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &GlossaryEntry{CodeTerm: codeTerm, BusinessMeaning: businessMeaning, Synonyms: synonyms,
		SourceFQN: sourceFQN, VectorID: vectorID, CreatedAt: now}, nil
}

// GetGlossaryEntry fetches one entry by code_term.
func (s *Store) GetGlossaryEntry(ctx context.Context, codeTerm string) (*GlossaryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT code_term, business_meaning, synonyms, COALESCE(source_fqn, ''),
		COALESCE(vector_id, ''), created_at FROM glossary WHERE code_term = ?`, codeTerm)
	return scanGlossaryEntry(row)
}

func scanGlossaryEntry(row *sql.Row) (*GlossaryEntry, error) {
	var g GlossaryEntry
	var synJSON string
	if err := row.Scan(&g.CodeTerm, &g.BusinessMeaning, &synJSON, &g.SourceFQN, &g.VectorID, &g.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(synJSON), &g.Synonyms)
	return &g, nil
}
