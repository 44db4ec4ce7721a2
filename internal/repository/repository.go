// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleSet stores a rule set, updating name and description on conflict.
func (r *SQLRepository) SaveRuleSet(ctx context.Context, rs *domain.RuleSet) error {
	if rs.ID == "" {
		return fmt.Errorf("%w: rule set id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO rule_sets (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rs.ID, rs.Name, rs.Description, rs.CreatedAt,
	)
	return err
}

// GetRuleSet retrieves a rule set by ID.
func (r *SQLRepository) GetRuleSet(ctx context.Context, id string) (*domain.RuleSet, error) {
	query := `
		SELECT id, name, description, created_at
		FROM rule_sets
		WHERE id = ?
	`

	var rs domain.RuleSet
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&rs.ID, &rs.Name, &rs.Description, &rs.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &rs, nil
}

// ListRuleSets retrieves all rule sets ordered by name.
func (r *SQLRepository) ListRuleSets(ctx context.Context) ([]*domain.RuleSet, error) {
	query := `
		SELECT id, name, description, created_at
		FROM rule_sets
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*domain.RuleSet
	for rows.Next() {
		var rs domain.RuleSet
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.Description, &rs.CreatedAt); err != nil {
			return nil, err
		}
		sets = append(sets, &rs)
	}

	return sets, rows.Err()
}

// CreateRuleVersion inserts a new draft version with monotonic version 1.
func (r *SQLRepository) CreateRuleVersion(ctx context.Context, v *domain.RuleVersion) error {
	if v.ID == "" || v.RuleSetID == "" {
		return fmt.Errorf("%w: version id and rule set id are required", ErrInvalidInput)
	}

	requirements, err := json.Marshal(v.Requirements)
	if err != nil {
		return fmt.Errorf("failed to encode requirements: %w", err)
	}

	v.Published = false
	v.MonotonicVersion = 1

	query := `
		INSERT INTO rule_versions (
			id, rule_set_id, effective_from, effective_to,
			published, monotonic_version, requirements, created_at, updated_at
		) VALUES (?, ?, ?, ?, 0, 1, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		v.ID, v.RuleSetID, v.EffectiveFrom, v.EffectiveTo,
		string(requirements), v.CreatedAt, v.UpdatedAt,
	)
	return err
}

// UpdateRuleVersion rewrites a draft version's requirements and effective
// range, conditioned on the caller's observed monotonic version. A stale
// observation fails with domain.ErrOptimisticLock. Published versions are
// immutable and cannot be updated.
func (r *SQLRepository) UpdateRuleVersion(ctx context.Context, v *domain.RuleVersion, expectedVersion int64) error {
	requirements, err := json.Marshal(v.Requirements)
	if err != nil {
		return fmt.Errorf("failed to encode requirements: %w", err)
	}

	query := `
		UPDATE rule_versions
		SET effective_from = ?,
			effective_to = ?,
			requirements = ?,
			monotonic_version = monotonic_version + 1,
			updated_at = ?
		WHERE id = ? AND monotonic_version = ? AND published = 0
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		v.EffectiveFrom, v.EffectiveTo, string(requirements),
		time.Now().UTC(), v.ID, expectedVersion,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a stale or published one.
		if _, getErr := r.GetRuleVersion(ctx, v.ID); getErr != nil {
			return getErr
		}
		return domain.ErrOptimisticLock
	}

	return nil
}

// PublishRuleVersion marks a version published via compare-and-swap on the
// monotonic version. The caller is expected to have run conflict detection
// against the observed state; the CAS guarantees that state did not move
// between check and publish.
func (r *SQLRepository) PublishRuleVersion(ctx context.Context, versionID string, expectedVersion int64) error {
	query := `
		UPDATE rule_versions
		SET published = 1,
			monotonic_version = monotonic_version + 1,
			updated_at = ?
		WHERE id = ? AND monotonic_version = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		time.Now().UTC(), versionID, expectedVersion,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := r.GetRuleVersion(ctx, versionID); getErr != nil {
			return getErr
		}
		return domain.ErrOptimisticLock
	}

	return nil
}

// GetRuleVersion retrieves a rule version by ID.
func (r *SQLRepository) GetRuleVersion(ctx context.Context, id string) (*domain.RuleVersion, error) {
	query := `
		SELECT id, rule_set_id, effective_from, effective_to,
			   published, monotonic_version, requirements, created_at, updated_at
		FROM rule_versions
		WHERE id = ?
	`

	v, err := scanRuleVersion(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListRuleVersions retrieves all versions of a rule set, drafts included.
func (r *SQLRepository) ListRuleVersions(ctx context.Context, ruleSetID string) ([]*domain.RuleVersion, error) {
	query := `
		SELECT id, rule_set_id, effective_from, effective_to,
			   published, monotonic_version, requirements, created_at, updated_at
		FROM rule_versions
		WHERE rule_set_id = ?
		ORDER BY effective_from, created_at
	`
	return r.queryRuleVersions(ctx, query, ruleSetID)
}

// PublishedVersions retrieves only published versions of a rule set.
func (r *SQLRepository) PublishedVersions(ctx context.Context, ruleSetID string) ([]*domain.RuleVersion, error) {
	query := `
		SELECT id, rule_set_id, effective_from, effective_to,
			   published, monotonic_version, requirements, created_at, updated_at
		FROM rule_versions
		WHERE rule_set_id = ? AND published = 1
		ORDER BY effective_from, created_at
	`
	return r.queryRuleVersions(ctx, query, ruleSetID)
}

func (r *SQLRepository) queryRuleVersions(ctx context.Context, query string, args ...any) ([]*domain.RuleVersion, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*domain.RuleVersion
	for rows.Next() {
		v, err := scanRuleVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleVersion(row rowScanner) (*domain.RuleVersion, error) {
	var v domain.RuleVersion
	var effectiveTo sql.NullTime
	var published int
	var requirements string

	if err := row.Scan(
		&v.ID, &v.RuleSetID, &v.EffectiveFrom, &effectiveTo,
		&published, &v.MonotonicVersion, &requirements,
		&v.CreatedAt, &v.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if effectiveTo.Valid {
		t := effectiveTo.Time
		v.EffectiveTo = &t
	}
	v.Published = published == 1

	if err := json.Unmarshal([]byte(requirements), &v.Requirements); err != nil {
		return nil, fmt.Errorf("failed to parse requirements for version %s: %w", v.ID, err)
	}

	return &v, nil
}

// AppendFact inserts a new fact row. Facts are append-only; an existing
// (case_id, key) pair gets a new row, never an update.
func (r *SQLRepository) AppendFact(ctx context.Context, f *domain.Fact) error {
	if f.CaseID == "" || f.Key == "" {
		return fmt.Errorf("%w: case id and key are required", ErrInvalidInput)
	}
	if !domain.ValidSource(f.Source) {
		return fmt.Errorf("%w: unknown fact source %q", ErrInvalidInput, f.Source)
	}

	value, err := json.Marshal(f.Value)
	if err != nil {
		return fmt.Errorf("failed to encode fact value: %w", err)
	}

	query := `
		INSERT INTO facts (id, case_id, key, value, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		f.ID, f.CaseID, f.Key, string(value), string(f.Source), f.CreatedAt,
	)
	return err
}

// ListFacts retrieves the full fact history for a case, oldest first.
func (r *SQLRepository) ListFacts(ctx context.Context, caseID string) ([]*domain.Fact, error) {
	query := `
		SELECT id, case_id, key, value, source, created_at
		FROM facts
		WHERE case_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []*domain.Fact
	for rows.Next() {
		var f domain.Fact
		var value, source string

		if err := rows.Scan(&f.ID, &f.CaseID, &f.Key, &value, &source, &f.CreatedAt); err != nil {
			return nil, err
		}

		f.Source = domain.FactSource(source)
		if value != "" {
			if err := json.Unmarshal([]byte(value), &f.Value); err != nil {
				return nil, fmt.Errorf("failed to parse value for fact %s: %w", f.ID, err)
			}
		}

		facts = append(facts, &f)
	}

	return facts, rows.Err()
}

// SaveDecision stores a combined evaluation result.
func (r *SQLRepository) SaveDecision(ctx context.Context, d *domain.CombinedResult) error {
	ruleResult, err := json.Marshal(d.Rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule result: %w", err)
	}
	aiVerdict, err := json.Marshal(d.AI)
	if err != nil {
		return fmt.Errorf("failed to encode ai verdict: %w", err)
	}

	conflict := 0
	if d.ConflictDetected {
		conflict = 1
	}
	review := 0
	if d.RequiresReview {
		review = 1
	}

	query := `
		INSERT INTO decisions (
			id, case_id, rule_set_id, rule_version_id,
			outcome, confidence, conflict_detected, requires_review,
			rule_result, ai_verdict, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		d.ID, d.CaseID, d.RuleSetID, d.RuleVersionID,
		string(d.Outcome), d.Confidence, conflict, review,
		string(ruleResult), string(aiVerdict), d.EvaluatedAt,
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, id string) (*domain.CombinedResult, error) {
	query := `
		SELECT id, case_id, rule_set_id, rule_version_id,
			   outcome, confidence, conflict_detected, requires_review,
			   rule_result, ai_verdict, evaluated_at
		FROM decisions
		WHERE id = ?
	`

	d, err := scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListDecisions retrieves the decision history for a case, newest first.
func (r *SQLRepository) ListDecisions(ctx context.Context, caseID string) ([]*domain.CombinedResult, error) {
	query := `
		SELECT id, case_id, rule_set_id, rule_version_id,
			   outcome, confidence, conflict_detected, requires_review,
			   rule_result, ai_verdict, evaluated_at
		FROM decisions
		WHERE case_id = ?
		ORDER BY evaluated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*domain.CombinedResult
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}

func scanDecision(row rowScanner) (*domain.CombinedResult, error) {
	var d domain.CombinedResult
	var outcome, ruleResult, aiVerdict string
	var conflict, review int

	if err := row.Scan(
		&d.ID, &d.CaseID, &d.RuleSetID, &d.RuleVersionID,
		&outcome, &d.Confidence, &conflict, &review,
		&ruleResult, &aiVerdict, &d.EvaluatedAt,
	); err != nil {
		return nil, err
	}

	d.Outcome = domain.Outcome(outcome)
	d.ConflictDetected = conflict == 1
	d.RequiresReview = review == 1

	if err := json.Unmarshal([]byte(ruleResult), &d.Rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule result for decision %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(aiVerdict), &d.AI); err != nil {
		return nil, fmt.Errorf("failed to parse ai verdict for decision %s: %w", d.ID, err)
	}

	return &d, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
