package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is a Repository backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle. Run Migrate first.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("store: migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

func (p *Postgres) AppendViolation(ctx context.Context, rec ViolationRecord) error {
	const query = `
		INSERT INTO violations (id, subject_id, context_id, text, score, detected_terms, tier, violation_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	terms := rec.DetectedTerms
	if terms == nil {
		terms = []string{}
	}
	_, err := p.db.ExecContext(ctx, query,
		rec.ID,
		rec.SubjectID,
		rec.ContextID,
		rec.Text,
		rec.Score,
		pq.Array(terms),
		rec.Tier.String(),
		rec.Tier.ViolationType(),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert violation: %w", err)
	}
	return nil
}

func (p *Postgres) CountViolations(ctx context.Context, subjectID, contextID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM violations
		WHERE subject_id = $1
		  AND context_id = $2`

	var count int
	if err := p.db.QueryRowContext(ctx, query, subjectID, contextID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count violations: %w", err)
	}
	return count, nil
}

func (p *Postgres) UpsertTimeout(ctx context.Context, t ActiveTimeout) error {
	const query = `
		INSERT INTO active_timeouts (subject_id, context_id, issued_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id, context_id) DO UPDATE
		SET issued_at  = EXCLUDED.issued_at,
		    expires_at = EXCLUDED.expires_at,
		    is_active  = EXCLUDED.is_active
		WHERE active_timeouts.issued_at <= EXCLUDED.issued_at`

	_, err := p.db.ExecContext(ctx, query, t.SubjectID, t.ContextID, t.IssuedAt.UTC(), t.ExpiresAt.UTC(), t.Active)
	if err != nil {
		return fmt.Errorf("store: upsert timeout: %w", err)
	}
	return nil
}

func (p *Postgres) ActiveTimeout(ctx context.Context, subjectID, contextID string) (*ActiveTimeout, error) {
	const query = `
		SELECT issued_at, expires_at
		FROM active_timeouts
		WHERE subject_id = $1
		  AND context_id = $2
		  AND is_active`

	t := ActiveTimeout{SubjectID: subjectID, ContextID: contextID, Active: true}
	err := p.db.QueryRowContext(ctx, query, subjectID, contextID).Scan(&t.IssuedAt, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: active timeout: %w", err)
	}
	return &t, nil
}
