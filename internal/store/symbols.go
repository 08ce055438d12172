package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"ariadne/internal/errkind"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// UpsertSymbols inserts or updates symbols in one transaction using
// conflict-on-unique-key UPDATE. It never deletes a row to replace it: a
// delete-then-insert would cascade-delete dependent summaries, edges, and
// entry points, which this engine treats as a correctness bug (spec §9).
func (s *Store) UpsertSymbols(ctx context.Context, symbols []Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.New(errkind.StoreIntegrityError, "", err)
	}
	defer tx.Rollback()

	for _, sym := range symbols {
		if err := upsertSymbol(ctx, tx, sym); err != nil {
			return errkind.New(errkind.StoreIntegrityError, sym.FQN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errkind.New(errkind.StoreIntegrityError, "", err)
	}
	return nil
}

func upsertSymbol(ctx context.Context, tx *sql.Tx, sym Symbol) error {
	modifiers, err := jsonMarshalString(nonNil(sym.Modifiers))
	if err != nil {
		return err
	}
	annotations, err := jsonMarshalString(nonNil(sym.Annotations))
	if err != nil {
		return err
	}
	attrs, err := jsonMarshalString(nonNilMap(sym.Attrs))
	if err != nil {
		return err
	}

	var parentFQN any
	if sym.ParentFQN != "" {
		parentFQN = sym.ParentFQN
	}

	query, args, err := psql.Insert("symbols").
		Columns("fqn", "kind", "name", "file_path", "line_number", "modifiers", "signature", "parent_fqn", "annotations", "attrs").
		Values(sym.FQN, string(sym.Kind), sym.Name, sym.FilePath, sym.LineNumber, modifiers, sym.Signature, parentFQN, annotations, attrs).
		Suffix(`ON CONFLICT(fqn) DO UPDATE SET
			kind=excluded.kind,
			name=excluded.name,
			file_path=excluded.file_path,
			line_number=excluded.line_number,
			modifiers=excluded.modifiers,
			signature=excluded.signature,
			parent_fqn=excluded.parent_fqn,
			annotations=excluded.annotations,
			attrs=excluded.attrs`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// GetSymbol fetches one symbol by FQN. Returns sql.ErrNoRows if absent.
func (s *Store) GetSymbol(ctx context.Context, fqn string) (*Symbol, error) {
	row := s.db.QueryRowContext(ctx, `SELECT fqn, kind, name, file_path, line_number, modifiers, signature,
		COALESCE(parent_fqn, ''), annotations, attrs FROM symbols WHERE fqn = ?`, fqn)
	return scanSymbol(row)
}

func scanSymbol(row *sql.Row) (*Symbol, error) {
	var sym Symbol
	var kind, modifiers, annotations, attrs string
	if err := row.Scan(&sym.FQN, &kind, &sym.Name, &sym.FilePath, &sym.LineNumber, &modifiers,
		&sym.Signature, &sym.ParentFQN, &annotations, &attrs); err != nil {
		return nil, err
	}
	sym.Kind = SymbolKind(kind)
	if err := json.Unmarshal([]byte(modifiers), &sym.Modifiers); err != nil {
		return nil, fmt.Errorf("decoding modifiers for %s: %w", sym.FQN, err)
	}
	if err := json.Unmarshal([]byte(annotations), &sym.Annotations); err != nil {
		return nil, fmt.Errorf("decoding annotations for %s: %w", sym.FQN, err)
	}
	if err := json.Unmarshal([]byte(attrs), &sym.Attrs); err != nil {
		return nil, fmt.Errorf("decoding attrs for %s: %w", sym.FQN, err)
	}
	return &sym, nil
}

// DeleteSymbol removes a symbol; FK cascades remove dependent edges,
// summaries, entry points, and anti-patterns (spec §3 referential
// integrity table). GlossaryEntry/Constraint source_fqn is SET NULL, not
// cascaded.
func (s *Store) DeleteSymbol(ctx context.Context, fqn string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM symbols WHERE fqn = ?", fqn)
	if err != nil {
		return errkind.New(errkind.StoreIntegrityError, fqn, err)
	}
	return nil
}

// SymbolsByFilePaths returns every symbol whose file_path is in paths,
// used by the incremental coordinator to resolve changed_fqns.
func (s *Store) SymbolsByFilePaths(ctx context.Context, paths []string) ([]Symbol, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	query, args, err := psql.Select("fqn", "kind", "name", "file_path", "line_number", "modifiers", "signature",
		"COALESCE(parent_fqn, '')", "annotations", "attrs").
		From("symbols").
		Where(sq.Eq{"file_path": paths}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	defer rows.Close()

	var out []Symbol
	for rows.Next() {
		var sym Symbol
		var kind, modifiers, annotations, attrs string
		if err := rows.Scan(&sym.FQN, &kind, &sym.Name, &sym.FilePath, &sym.LineNumber, &modifiers,
			&sym.Signature, &sym.ParentFQN, &annotations, &attrs); err != nil {
			return nil, err
		}
		sym.Kind = SymbolKind(kind)
		_ = json.Unmarshal([]byte(modifiers), &sym.Modifiers)
		_ = json.Unmarshal([]byte(annotations), &sym.Annotations)
		_ = json.Unmarshal([]byte(attrs), &sym.Attrs)
		out = append(out, sym)
	}
	return out, rows.Err()
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
