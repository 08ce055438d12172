package store

import (
	"context"

	"ariadne/internal/errkind"
)

// RecordAntiPattern inserts a detected anti-pattern violation. Unlike
// symbols/entry_points, anti-patterns are append-only observations from a
// detection run rather than an entity with stable identity, so no
// upsert-on-unique-key is needed here.
func (s *Store) RecordAntiPattern(ctx context.Context, ap AntiPattern) error {
	var toFQN any
	if ap.ToFQN != "" {
		toFQN = ap.ToFQN
	}
	severity := ap.Severity
	if severity == "" {
		severity = SeverityWarning
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO anti_patterns (rule_id, from_fqn, to_fqn, severity, message)
		VALUES (?, ?, ?, ?, ?)`, ap.RuleID, ap.FromFQN, toFQN, string(severity), ap.Message)
	if err != nil {
		return errkind.New(errkind.StoreIntegrityError, ap.FromFQN, err)
	}
	return nil
}

// AntiPatternsForRule returns every recorded violation of ruleID,
// supporting the pure-predicate evaluation model from spec §9: rule
// evaluation itself lives outside this store (an Open Question this
// engine resolves by treating rules as pluggable predicates over the
// already-built graph), but once a predicate fires, the violation is
// recorded and queryable here.
func (s *Store) AntiPatternsForRule(ctx context.Context, ruleID string) ([]AntiPattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rule_id, from_fqn, COALESCE(to_fqn, ''), severity, message, detected_at
		FROM anti_patterns WHERE rule_id = ? ORDER BY detected_at DESC`, ruleID)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, ruleID, err)
	}
	defer rows.Close()

	var out []AntiPattern
	for rows.Next() {
		var ap AntiPattern
		var severity string
		if err := rows.Scan(&ap.RuleID, &ap.FromFQN, &ap.ToFQN, &severity, &ap.Message, &ap.DetectedAt); err != nil {
			return nil, err
		}
		ap.Severity = Severity(severity)
		out = append(out, ap)
	}
	return out, rows.Err()
}
