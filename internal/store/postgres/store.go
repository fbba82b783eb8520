// Package postgres provides the Postgres-backed Store implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists accounts, videos, jobs and post history in Postgres.
// Counter columns are updated with SQL-level increments so concurrent
// writers cannot lose updates.
type Store struct {
	pool querier
}

// New creates a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetAccount loads an account with its proxy via a left join.
func (s *Store) GetAccount(ctx context.Context, accountID string) (autopost.Account, error) {
	query := `
		SELECT a.id, a.username, a.password, a.cookies,
		       a.posts_today, a.failed_attempts,
		       a.last_login_at, a.last_post_at, a.last_failed_at,
		       p.id, p.protocol, p.host, p.port, p.username, p.password
		FROM accounts a
		LEFT JOIN proxies p ON p.id = a.proxy_id
		WHERE a.id = $1
	`
	var (
		account       autopost.Account
		proxyID       *string
		proxyProtocol *string
		proxyHost     *string
		proxyPort     *int
		proxyUser     *string
		proxyPass     *string
	)
	err := s.pool.QueryRow(ctx, query, accountID).Scan(
		&account.ID,
		&account.Username,
		&account.Password,
		&account.Cookies,
		&account.PostsToday,
		&account.FailedAttempts,
		&account.LastLoginAt,
		&account.LastPostAt,
		&account.LastFailedAt,
		&proxyID,
		&proxyProtocol,
		&proxyHost,
		&proxyPort,
		&proxyUser,
		&proxyPass,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return autopost.Account{}, &autopost.NotFoundError{Kind: "account", ID: accountID}
	}
	if err != nil {
		return autopost.Account{}, fmt.Errorf("query account: %w", err)
	}
	if proxyID != nil {
		account.Proxy = &autopost.Proxy{
			ID:       *proxyID,
			Protocol: stringOr(proxyProtocol, "http"),
			Host:     stringOr(proxyHost, ""),
			Port:     intOr(proxyPort, 0),
			Username: stringOr(proxyUser, ""),
			Password: stringOr(proxyPass, ""),
		}
	}
	return account, nil
}

// GetVideo loads one video record.
func (s *Store) GetVideo(ctx context.Context, videoID string) (autopost.Video, error) {
	query := `SELECT id, title, filename, local_path FROM videos WHERE id = $1`
	var video autopost.Video
	err := s.pool.QueryRow(ctx, query, videoID).Scan(
		&video.ID,
		&video.Title,
		&video.Filename,
		&video.LocalPath,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return autopost.Video{}, &autopost.NotFoundError{Kind: "video", ID: videoID}
	}
	if err != nil {
		return autopost.Video{}, fmt.Errorf("query video: %w", err)
	}
	return video, nil
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job autopost.Job) error {
	query := `
		INSERT INTO jobs (id, account_id, video_id, status, enqueued_at, attempt_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query,
		job.ID, job.AccountID, job.VideoID, job.Status, job.EnqueuedAt, job.AttemptCount,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads one job row.
func (s *Store) GetJob(ctx context.Context, jobID string) (autopost.Job, error) {
	query := `
		SELECT id, account_id, video_id, status, enqueued_at,
		       started_at, completed_at, failed_at, attempt_count, error_text
		FROM jobs WHERE id = $1
	`
	var job autopost.Job
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.AccountID,
		&job.VideoID,
		&job.Status,
		&job.EnqueuedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.FailedAt,
		&job.AttemptCount,
		&job.ErrorText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return autopost.Job{}, &autopost.NotFoundError{Kind: "job", ID: jobID}
	}
	if err != nil {
		return autopost.Job{}, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// MarkJobProcessing transitions PENDING -> PROCESSING. Terminal rows are
// left untouched by the status guard.
func (s *Store) MarkJobProcessing(ctx context.Context, jobID string, at time.Time) error {
	query := `
		UPDATE jobs SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := s.pool.Exec(ctx, query, autopost.JobStatusProcessing, at, jobID, autopost.JobStatusPending)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &autopost.NotFoundError{Kind: "job", ID: jobID}
	}
	return nil
}

// MarkJobCompleted transitions PROCESSING -> COMPLETED.
func (s *Store) MarkJobCompleted(ctx context.Context, jobID string, at time.Time) error {
	query := `
		UPDATE jobs SET status = $1, completed_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := s.pool.Exec(ctx, query, autopost.JobStatusCompleted, at, jobID, autopost.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &autopost.NotFoundError{Kind: "job", ID: jobID}
	}
	return nil
}

// MarkJobFailed transitions any non-terminal status to FAILED with an
// atomic attempt_count increment.
func (s *Store) MarkJobFailed(ctx context.Context, jobID string, at time.Time, errText, trace string) error {
	query := `
		UPDATE jobs
		SET status = $1, failed_at = $2, error_text = $3, error_trace = $4,
		    attempt_count = attempt_count + 1
		WHERE id = $5 AND status NOT IN ($6, $7)
	`
	tag, err := s.pool.Exec(ctx, query,
		autopost.JobStatusFailed, at, errText, trace, jobID,
		autopost.JobStatusCompleted, autopost.JobStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &autopost.NotFoundError{Kind: "job", ID: jobID}
	}
	return nil
}

// SaveAccountCookies overwrites the cookie blob and login stamp.
func (s *Store) SaveAccountCookies(ctx context.Context, accountID string, cookies []byte, loginAt time.Time) error {
	query := `UPDATE accounts SET cookies = $1, last_login_at = $2 WHERE id = $3`
	tag, err := s.pool.Exec(ctx, query, cookies, loginAt, accountID)
	if err != nil {
		return fmt.Errorf("save account cookies: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &autopost.NotFoundError{Kind: "account", ID: accountID}
	}
	return nil
}

// RecordPostSuccess applies the success bookkeeping in one statement.
func (s *Store) RecordPostSuccess(ctx context.Context, accountID string, at time.Time) error {
	query := `
		UPDATE accounts
		SET posts_today = posts_today + 1, last_post_at = $1, failed_attempts = 0
		WHERE id = $2
	`
	tag, err := s.pool.Exec(ctx, query, at, accountID)
	if err != nil {
		return fmt.Errorf("record post success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &autopost.NotFoundError{Kind: "account", ID: accountID}
	}
	return nil
}

// RecordPostFailure applies the failure bookkeeping in one statement.
func (s *Store) RecordPostFailure(ctx context.Context, accountID string, at time.Time) error {
	query := `
		UPDATE accounts
		SET failed_attempts = failed_attempts + 1, last_failed_at = $1
		WHERE id = $2
	`
	tag, err := s.pool.Exec(ctx, query, at, accountID)
	if err != nil {
		return fmt.Errorf("record post failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &autopost.NotFoundError{Kind: "account", ID: accountID}
	}
	return nil
}

// AppendPostHistory inserts one publish attempt record.
func (s *Store) AppendPostHistory(ctx context.Context, record autopost.PostHistory) error {
	query := `
		INSERT INTO post_history (account_id, video_title, success, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query,
		record.AccountID, record.VideoTitle, record.Success, record.DurationMs, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert post history: %w", err)
	}
	return nil
}

func stringOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
