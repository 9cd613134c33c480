// Package store persists run summaries to Postgres for long term trend analysis.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Run struct {
	ID            string
	CreatedAt     time.Time
	Status        string
	TestCount     int
	PassedCount   int
	FailedCount   int
	SkippedCount  int
	FlakyCount    int
	PassRate      float64
	TotalDuration float64
	NewlyFailing  int
	Fixed         int
	BuildInfo     map[string]any
}

type Failure struct {
	RunID        string
	TestKey      string
	Title        string
	Suite        string
	File         string
	Team         string
	Status       string
	Category     string
	Message      string
	Duration     float64
	IsTimeout    bool
	NewlyFailing bool
}

type Connection interface {
	EnsureSchema(ctx context.Context) error

	Begin(ctx context.Context) (Transactor, error)
	Close() error
}

type Transactor interface {
	InsertRun(ctx context.Context, r Run) error
	InsertFailure(ctx context.Context, f Failure) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	test_count INTEGER NOT NULL,
	passed_count INTEGER NOT NULL,
	failed_count INTEGER NOT NULL,
	skipped_count INTEGER NOT NULL,
	flaky_count INTEGER NOT NULL,
	pass_rate DOUBLE PRECISION NOT NULL,
	total_duration DOUBLE PRECISION NOT NULL,
	newly_failing INTEGER NOT NULL,
	fixed INTEGER NOT NULL,
	build_info JSONB
);
CREATE TABLE IF NOT EXISTS failures (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	test_key TEXT NOT NULL,
	title TEXT NOT NULL,
	suite TEXT NOT NULL,
	file TEXT NOT NULL,
	team TEXT NOT NULL,
	status TEXT NOT NULL,
	category TEXT NOT NULL,
	message TEXT NOT NULL,
	duration DOUBLE PRECISION NOT NULL,
	is_timeout BOOLEAN NOT NULL,
	newly_failing BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS failures_test_key_idx ON failures (test_key);
`

type PGXDB struct {
	conn *pgxpool.Pool
	log  log.Logger
}

func New(ctx context.Context, uri string, logger log.Logger) (*PGXDB, error) {
	conn, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	return &PGXDB{conn: conn, log: logger}, nil
}

func (p *PGXDB) EnsureSchema(ctx context.Context) error {
	if _, err := p.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PGXDB) Begin(ctx context.Context) (Transactor, error) {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &PGXTransactor{tx: tx, log: p.log}, nil
}

func (p *PGXDB) Close() error {
	p.conn.Close()
	return nil
}

type PGXTransactor struct {
	tx  pgx.Tx
	mtx sync.Mutex
	log log.Logger
}

func (p *PGXTransactor) InsertRun(ctx context.Context, r Run) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	sql := `
INSERT INTO runs (id, created_at, status, test_count, passed_count, failed_count, skipped_count,
	flaky_count, pass_rate, total_duration, newly_failing, fixed, build_info)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) ON CONFLICT DO NOTHING
`

	if _, err := p.tx.Exec(ctx,
		sql,
		r.ID,
		r.CreatedAt,
		r.Status,
		r.TestCount,
		r.PassedCount,
		r.FailedCount,
		r.SkippedCount,
		r.FlakyCount,
		r.PassRate,
		r.TotalDuration,
		r.NewlyFailing,
		r.Fixed,
		r.BuildInfo,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (p *PGXTransactor) InsertFailure(ctx context.Context, f Failure) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	sql := `
INSERT INTO failures (run_id, test_key, title, suite, file, team, status, category, message,
	duration, is_timeout, newly_failing)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

	if _, err := p.tx.Exec(ctx,
		sql,
		f.RunID,
		f.TestKey,
		f.Title,
		f.Suite,
		f.File,
		f.Team,
		f.Status,
		f.Category,
		f.Message,
		f.Duration,
		f.IsTimeout,
		f.NewlyFailing,
	); err != nil {
		return fmt.Errorf("failed to insert failure: %w", err)
	}
	return nil
}

func (p *PGXTransactor) Commit(ctx context.Context) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.tx.Commit(ctx)
}

func (p *PGXTransactor) Rollback(ctx context.Context) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if err := p.tx.Rollback(context.Background()); err != nil && p.log != nil {
		p.log.Error("error rolling back transaction", "err", err)
	}
}
