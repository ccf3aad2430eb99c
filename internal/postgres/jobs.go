// Package postgres keeps Job Records in a PostgreSQL jobs table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lllllllleong/imagepipeline/internal/models"
	"github.com/Lllllllleong/imagepipeline/internal/services"
)

// Schema creates the jobs table when missing.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id         TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	original_name  TEXT NOT NULL DEFAULT '',
	source_key     TEXT NOT NULL DEFAULT '',
	results_key    TEXT NOT NULL DEFAULT '',
	compressed_key TEXT NOT NULL DEFAULT '',
	labels_key     TEXT NOT NULL DEFAULT '',
	metadata_key   TEXT NOT NULL DEFAULT '',
	error_details  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_source_key_idx ON jobs (source_key);
`

const jobColumns = `job_id, status, original_name, source_key, results_key, compressed_key,
	labels_key, metadata_key, error_details, created_at, updated_at`

const uniqueViolation = "23505"

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// DefaultConfig returns pool settings for dsn.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     3 * time.Second,
	}
}

// JobStore reads and writes the jobs table.
type JobStore struct {
	pool *pgxpool.Pool
}

// Open creates a pgx pool, applies Schema and returns the store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*JobStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "imagepipeline"

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply jobs schema: %w", err)
	}
	logger.Info("successfully connected to database")
	return &JobStore{pool: pool}, nil
}

// NewJobStore wraps an existing pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Create inserts a new job.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		jobArgs(job)...,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return services.ErrJobExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get loads one job.
func (s *JobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

// FindBySourceKey returns the job created for an uploaded object.
func (s *JobStore) FindBySourceKey(ctx context.Context, sourceKey string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE source_key = $1 ORDER BY created_at LIMIT 1`, sourceKey)
	return scanJob(row)
}

// Update locks the row with SELECT ... FOR UPDATE, applies mutate and writes
// the result back in the same transaction.
func (s *JobStore) Update(ctx context.Context, jobID string, mutate func(*models.Job) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID)
		job, err := scanJob(row)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE jobs SET
			status = $2, original_name = $3, source_key = $4, results_key = $5, compressed_key = $6,
			labels_key = $7, metadata_key = $8, error_details = $9, created_at = $10, updated_at = $11
			WHERE job_id = $1`,
			jobArgs(job)...,
		)
		if err != nil {
			return fmt.Errorf("failed to update job %s: %w", jobID, err)
		}
		return nil
	})
}

// Close closes the pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

func jobArgs(job *models.Job) []any {
	return []any{
		job.JobID, string(job.Status), job.OriginalName, job.SourceKey, job.ResultsKey, job.CompressedKey,
		job.LabelsKey, job.MetadataKey, job.ErrorDetails, job.CreatedAt, job.UpdatedAt,
	}
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var status string
	err := row.Scan(
		&job.JobID, &status, &job.OriginalName, &job.SourceKey, &job.ResultsKey, &job.CompressedKey,
		&job.LabelsKey, &job.MetadataKey, &job.ErrorDetails, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.Status = models.Status(status)
	return &job, nil
}
