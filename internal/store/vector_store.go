package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"ariadne/internal/errkind"
	"ariadne/internal/llm"
	"ariadne/internal/logging"
)

// VectorMatch is one result row from VectorSearch.
type VectorMatch struct {
	VectorID string
	Content  string
	Metadata map[string]any
	Distance float64 // cosine distance; 0 = identical, 2 = opposite
}

// VectorAdd persists an embedding under a freshly generated vector_id and
// returns it. It is the first half of the two-phase dual-write (spec
// §4.2): callers insert the relational row referencing this vector_id in
// the same call that performs step 2.
func (s *Store) VectorAdd(ctx context.Context, content string, embedding []float32, metadata map[string]any) (string, error) {
	if len(embedding) == 0 {
		return "", errkind.New(errkind.VectorFailure, "", fmt.Errorf("empty embedding"))
	}
	vectorID := uuid.NewString()
	blob := encodeFloat32Slice(embedding)
	metaJSON, err := jsonMarshalString(nonNilMap(metadata))
	if err != nil {
		return "", errkind.New(errkind.VectorFailure, vectorID, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO vectors (vector_id, embedding, content, metadata) VALUES (?, ?, ?, ?)",
		vectorID, blob, content, metaJSON)
	if err != nil {
		return "", errkind.New(errkind.VectorFailure, vectorID, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO vec_index (vector_id, embedding, content, metadata) VALUES (?, ?, ?, ?)",
		vectorID, blob, content, metaJSON)
	if err != nil {
		// The vectors row (the relational source of truth for the dual-write
		// protocol, spec §4.2) is already committed; vec_index is the search
		// index derived from it. Log and return the vector_id rather than
		// failing the whole write; the row stays absent from vec_index, so
		// VectorSearch does not return it, and ReconcileVectors does not
		// re-add it.
		logging.Errorf(logging.CategoryStore, "vec_index insert failed for %s, search index is now stale: %v", vectorID, err)
	}

	return vectorID, nil
}

// VectorDelete removes an embedding from both the relational vectors table
// and the vec_index search table. Idempotent: deleting an absent vector_id
// is not an error, matching the VectorStore contract in spec §6.
func (s *Store) VectorDelete(ctx context.Context, vectorID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM vectors WHERE vector_id = ?", vectorID)
	if err != nil {
		return errkind.New(errkind.VectorFailure, vectorID, err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vec_index WHERE vector_id = ?", vectorID); err != nil {
		logging.Warnf(logging.CategoryStore, "vec_index delete failed for %s: %v", vectorID, err)
	}
	return nil
}

// VectorSearch returns the k nearest embeddings to query by cosine
// distance, searching the vec0-compatible vec_index virtual table (spec
// §4.2's vector index) rather than scanning the relational vectors table
// directly; vector_distance_cos (internal/store/vec_compat.go) is the same
// cosine function either table would use.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]VectorMatch, error) {
	if len(queryEmbedding) == 0 {
		return nil, errkind.New(errkind.VectorFailure, "", fmt.Errorf("empty query embedding"))
	}
	if k <= 0 {
		k = 10
	}
	blob := encodeFloat32Slice(queryEmbedding)

	rows, err := s.db.QueryContext(ctx, `SELECT vector_id, content, metadata, vector_distance_cos(embedding, ?) AS dist
		FROM vec_index ORDER BY dist ASC LIMIT ?`, blob, k)
	if err != nil {
		return nil, errkind.New(errkind.VectorFailure, "", err)
	}
	defer rows.Close()

	var out []VectorMatch
	for rows.Next() {
		var m VectorMatch
		var metaJSON string
		if err := rows.Scan(&m.VectorID, &m.Content, &metaJSON, &m.Distance); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		out = append(out, m)
	}
	return out, rows.Err()
}

// EmbedAndAdd embeds text with the store's configured Embedder and persists
// it, rejecting empty text with a typed error rather than silently
// embedding a zero vector (spec §9, §8 property list).
func (s *Store) EmbedAndAdd(ctx context.Context, content string, metadata map[string]any) (string, error) {
	embedder := s.getEmbedder()
	if embedder == nil {
		return "", errkind.New(errkind.VectorFailure, "", fmt.Errorf("no embedder configured"))
	}
	if content == "" {
		return "", errkind.New(errkind.VectorFailure, "", llm.ErrEmptyInput)
	}
	vec, err := embedder.Embed(ctx, content)
	if err != nil {
		return "", errkind.New(errkind.VectorFailure, "", err)
	}
	return s.VectorAdd(ctx, content, vec, metadata)
}

func encodeFloat32Slice(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// recordPendingVector inserts a pending_vectors row via a fresh connection
// rather than the aborted transaction's connection: after a rollback the
// transaction context is invalid, and silently dropping the tracking
// insert would hide the orphan permanently (spec §9).
func recordPendingVector(db *sql.DB, vectorID, targetFQN, reason string) error {
	_, err := db.Exec(
		"INSERT INTO pending_vectors (vector_id, target_fqn, reason) VALUES (?, ?, ?)",
		vectorID, targetFQN, reason)
	if err != nil {
		logging.Errorf(logging.CategoryStore, "failed to record pending vector %s for %s: %v", vectorID, targetFQN, err)
		return err
	}
	return nil
}

// ReconcileVectors retries deletion of every pending_vectors row and
// removes the tracking row on success. Runs on store open and on demand.
func (s *Store) ReconcileVectors(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT vector_id FROM pending_vectors")
	if err != nil {
		return 0, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	reconciled := 0
	for _, id := range ids {
		if err := s.VectorDelete(ctx, id); err != nil {
			logging.Warnf(logging.CategoryStore, "reconcile: vector delete still failing for %s: %v", id, err)
			continue
		}
		if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_vectors WHERE vector_id = ?", id); err != nil {
			logging.Warnf(logging.CategoryStore, "reconcile: failed to clear pending_vectors row %s: %v", id, err)
			continue
		}
		reconciled++
	}
	return reconciled, nil
}

// DetectOrphans reports vector_ids referenced by a summary/glossary/
// constraint row that no longer resolve in the vector store, and
// vector_ids present in the vector store with no referencing row.
type OrphanReport struct {
	DanglingReferences []string // referenced vector_id, not found in vectors table
	UnreferencedVectors []string // vector_id in vectors table, referenced nowhere
}

// DetectOrphans scans the relational store for dual-write inconsistencies.
func (s *Store) DetectOrphans(ctx context.Context) (*OrphanReport, error) {
	referenced := make(map[string]bool)
	for _, table := range []string{"summaries", "glossary", "constraints"} {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT vector_id FROM %s WHERE vector_id IS NOT NULL", table))
		if err != nil {
			return nil, errkind.New(errkind.StoreIntegrityError, table, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			referenced[id] = true
		}
		rows.Close()
	}

	existing := make(map[string]bool)
	vrows, err := s.db.QueryContext(ctx, "SELECT vector_id FROM vectors")
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "vectors", err)
	}
	for vrows.Next() {
		var id string
		if err := vrows.Scan(&id); err != nil {
			vrows.Close()
			return nil, err
		}
		existing[id] = true
	}
	vrows.Close()

	report := &OrphanReport{}
	for id := range referenced {
		if !existing[id] {
			report.DanglingReferences = append(report.DanglingReferences, id)
		}
	}
	for id := range existing {
		if !referenced[id] {
			report.UnreferencedVectors = append(report.UnreferencedVectors, id)
		}
	}
	return report, nil
}
