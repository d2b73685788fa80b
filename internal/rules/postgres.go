package rules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openclinika/medlex/pkg/clinical"
)

// Schema is the SQL DDL for the learned-rule tables. Execute it via
// [PostgresSource.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS correction_rules (
    raw        TEXT NOT NULL,
    fix        TEXT NOT NULL,
    category   TEXT NOT NULL DEFAULT 'spelling',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (raw, fix)
);
CREATE TABLE IF NOT EXISTS glossary_terms (
    term       TEXT PRIMARY KEY,
    position   BIGSERIAL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresSource]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSource is a [Source] and [Saver] backed by PostgreSQL. Deployments
// without a reachable optimization service point the engine at a local
// database instead; rules accepted through the safe-apply path are persisted
// here and survive restarts.
type PostgresSource struct {
	db DB
}

// Compile-time interface checks.
var (
	_ Source = (*PostgresSource)(nil)
	_ Saver  = (*PostgresSource)(nil)
)

// NewPostgresSource creates a PostgresSource using the given connection or
// pool. Call [PostgresSource.Migrate] before issuing queries.
func NewPostgresSource(db DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Migrate executes the [Schema] DDL, creating the rule and glossary tables
// if they do not already exist.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("rules: migrate: %w", err)
	}
	return nil
}

// Fetch implements [Source]: loads all persisted rules and glossary terms.
// Failures are wrapped in [ErrDynamicUnavailable] so the store degrades the
// same way it does for the HTTP source.
func (s *PostgresSource) Fetch(ctx context.Context) (RuleSet, error) {
	var set RuleSet

	rows, err := s.db.Query(ctx,
		`SELECT raw, fix, category FROM correction_rules ORDER BY created_at, raw`)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: query rules: %v", ErrDynamicUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Rule
		var category string
		if err := rows.Scan(&r.Raw, &r.Fix, &category); err != nil {
			return RuleSet{}, fmt.Errorf("%w: scan rule: %v", ErrDynamicUnavailable, err)
		}
		r.Category = clinical.Category(category)
		r.Provenance = ProvenanceDynamic
		set.Rules = append(set.Rules, r)
	}
	if err := rows.Err(); err != nil {
		return RuleSet{}, fmt.Errorf("%w: iterate rules: %v", ErrDynamicUnavailable, err)
	}

	termRows, err := s.db.Query(ctx,
		`SELECT term FROM glossary_terms ORDER BY position`)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: query glossary: %v", ErrDynamicUnavailable, err)
	}
	defer termRows.Close()

	for termRows.Next() {
		var term string
		if err := termRows.Scan(&term); err != nil {
			return RuleSet{}, fmt.Errorf("%w: scan glossary term: %v", ErrDynamicUnavailable, err)
		}
		set.GlossaryTerms = append(set.GlossaryTerms, term)
	}
	if err := termRows.Err(); err != nil {
		return RuleSet{}, fmt.Errorf("%w: iterate glossary: %v", ErrDynamicUnavailable, err)
	}

	return set, nil
}

// Save implements [Saver]: upserts accepted rules and records their fix text
// as glossary vocabulary.
func (s *PostgresSource) Save(ctx context.Context, rules []Rule) error {
	for _, r := range rules {
		if _, err := s.db.Exec(ctx,
			`INSERT INTO correction_rules (raw, fix, category)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (raw, fix) DO UPDATE SET category = EXCLUDED.category`,
			r.Raw, r.Fix, string(r.category()),
		); err != nil {
			return fmt.Errorf("rules: save rule %q: %w", r.Raw, err)
		}
		if _, err := s.db.Exec(ctx,
			`INSERT INTO glossary_terms (term) VALUES ($1)
			 ON CONFLICT (term) DO NOTHING`,
			r.Fix,
		); err != nil {
			return fmt.Errorf("rules: save glossary term %q: %w", r.Fix, err)
		}
	}
	return nil
}
