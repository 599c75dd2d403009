package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleSetStore implements RuleSetStore and RunStore backed by PostgreSQL.
// Rule documents live in a json column, which keeps the text verbatim so
// multi-class intervals come back in the order the analyst wrote them.
type PostgresRuleSetStore struct {
	db *sql.DB
}

func NewPostgresRuleSetStore(db *sql.DB) *PostgresRuleSetStore {
	return &PostgresRuleSetStore{db: db}
}

// Add inserts a new rule set
func (s *PostgresRuleSetStore) Add(ctx context.Context, rs *RuleSet) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM rule_sets WHERE id = $1)
	`, rs.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule set existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRuleSetExists, rs.ID)
	}

	derived, err := json.Marshal(rs.Derived)
	if err != nil {
		return fmt.Errorf("failed to encode derived fields: %w", err)
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_sets (id, name, definition, derived, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rs.ID, rs.Name, string(rs.Document), string(derived), rs.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule set: %w", err)
	}

	return nil
}

// Get retrieves a rule set by ID
func (s *PostgresRuleSetStore) Get(ctx context.Context, id string) (*RuleSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, definition, derived, created_at
		FROM rule_sets
		WHERE id = $1
	`, id)

	rs, err := scanRuleSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleSetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule set: %w", err)
	}
	return rs, nil
}

// List returns all rule sets, newest first
func (s *PostgresRuleSetStore) List(ctx context.Context) ([]*RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, definition, derived, created_at
		FROM rule_sets
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	defer rows.Close()

	var list []*RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		list = append(list, rs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule sets: %w", err)
	}

	return list, nil
}

// Latest returns the newest rule set
func (s *PostgresRuleSetStore) Latest(ctx context.Context) (*RuleSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, definition, derived, created_at
		FROM rule_sets
		ORDER BY created_at DESC
		LIMIT 1
	`)

	rs, err := scanRuleSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: store is empty", ErrRuleSetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest rule set: %w", err)
	}
	return rs, nil
}

// Delete removes a rule set; its runs go with it through the foreign key
func (s *PostgresRuleSetStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rule_sets
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleSetNotFound, id)
	}

	return nil
}

// Record inserts a run
func (s *PostgresRuleSetStore) Record(ctx context.Context, run *Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, rule_set_id, kind, row_count, noise, bajo, medio, alto, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID, run.RuleSetID, string(run.Kind), run.Rows, run.Noise,
		run.Distribution.Low, run.Distribution.Medium, run.Distribution.High, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// ListByRuleSet returns the runs of a rule set, newest first
func (s *PostgresRuleSetStore) ListByRuleSet(ctx context.Context, ruleSetID string) ([]*Run, error) {
	if _, err := s.Get(ctx, ruleSetID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_set_id, kind, row_count, noise, bajo, medio, alto, created_at
		FROM runs
		WHERE rule_set_id = $1
		ORDER BY created_at DESC
	`, ruleSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var kind string
		if err := rows.Scan(&r.ID, &r.RuleSetID, &kind, &r.Rows, &r.Noise,
			&r.Distribution.Low, &r.Distribution.Medium, &r.Distribution.High, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Kind = RunKind(kind)
		runs = append(runs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleSet(row rowScanner) (*RuleSet, error) {
	var rs RuleSet
	var definition, derived []byte
	if err := row.Scan(&rs.ID, &rs.Name, &definition, &derived, &rs.CreatedAt); err != nil {
		return nil, err
	}

	rs.Document = json.RawMessage(definition)
	if len(derived) > 0 {
		if err := json.Unmarshal(derived, &rs.Derived); err != nil {
			return nil, fmt.Errorf("invalid derived fields for rule set %s: %w", rs.ID, err)
		}
	}
	return &rs, nil
}
