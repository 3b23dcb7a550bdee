package external

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interviewd/interviewd/internal/session"
)

// ddlCVJD creates the plain CV/JD/history tables this accessor reads from.
// Idempotent: safe to run on every application start.
const ddlCVJD = `
CREATE TABLE IF NOT EXISTS cv_documents (
    user_id    TEXT        PRIMARY KEY,
    content    TEXT        NOT NULL,
    metadata   JSONB       NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_descriptions (
    session_id   TEXT        PRIMARY KEY,
    title        TEXT        NOT NULL DEFAULT '',
    description  TEXT        NOT NULL DEFAULT '',
    requirements TEXT        NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dialogue_history (
    id         BIGSERIAL    PRIMARY KEY,
    session_id TEXT         NOT NULL,
    speaker    TEXT         NOT NULL,
    content    TEXT         NOT NULL,
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dialogue_history_session_id
    ON dialogue_history (session_id);

CREATE INDEX IF NOT EXISTS idx_dialogue_history_session_timestamp
    ON dialogue_history (session_id, timestamp);
`

// PostgresAccessor is a PostgreSQL-backed [Accessor]: the optional
// deployment choice behind [config.MemoryConfig.PostgresDSN], in place of
// the in-memory default. Safe for concurrent use.
type PostgresAccessor struct {
	pool *pgxpool.Pool
}

// NewPostgresAccessor connects to dsn, runs the idempotent schema
// migration, and returns a ready [PostgresAccessor].
func NewPostgresAccessor(ctx context.Context, dsn string) (*PostgresAccessor, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("external: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("external: postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlCVJD); err != nil {
		pool.Close()
		return nil, fmt.Errorf("external: postgres migrate: %w", err)
	}
	return &PostgresAccessor{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresAccessor) Close() {
	p.pool.Close()
}

func (p *PostgresAccessor) GetCV(ctx context.Context, userID string) (*CV, error) {
	const q = `SELECT content, metadata FROM cv_documents WHERE user_id = $1`

	var cv CV
	err := p.pool.QueryRow(ctx, q, userID).Scan(&cv.Content, &cv.Metadata)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("external: get cv: %w", err)
	}
	return &cv, nil
}

func (p *PostgresAccessor) GetJD(ctx context.Context, sessionID string) (*JD, error) {
	const q = `SELECT title, description, requirements FROM job_descriptions WHERE session_id = $1`

	var jd JD
	err := p.pool.QueryRow(ctx, q, sessionID).Scan(&jd.Title, &jd.Description, &jd.Requirements)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("external: get jd: %w", err)
	}
	return &jd, nil
}

func (p *PostgresAccessor) GetHistory(ctx context.Context, sessionID string) ([]session.HistoryEntry, error) {
	const q = `
		SELECT speaker, content, timestamp
		FROM   dialogue_history
		WHERE  session_id = $1
		ORDER  BY timestamp`

	rows, err := p.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("external: get history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.HistoryEntry, error) {
		var (
			e  session.HistoryEntry
			ts time.Time
		)
		if err := row.Scan(&e.Speaker, &e.Content, &ts); err != nil {
			return session.HistoryEntry{}, err
		}
		e.Timestamp = ts
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("external: scan history: %w", err)
	}
	if entries == nil {
		entries = []session.HistoryEntry{}
	}
	return entries, nil
}

var _ Accessor = (*PostgresAccessor)(nil)
