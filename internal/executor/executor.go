// Package executor runs one posting job end to end with durable bookkeeping
// around the pipeline.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
	"github.com/missatjuhvdk1/snapbot/internal/pipeline"
	"github.com/missatjuhvdk1/snapbot/internal/session"
)

// Executor loads a job's account and video, drives the pipeline over a
// session, and records the outcome. Bookkeeping writes are independent and
// non-transactional on purpose: every counter update in the store is an
// atomic increment, so partial write visibility never loses updates.
type Executor struct {
	store    autopost.Store
	sessions *session.Manager
	pipe     *pipeline.Pipeline
	clock    autopost.Clock
	logger   *zap.Logger
}

// New wires an Executor.
func New(store autopost.Store, sessions *session.Manager, pipe *pipeline.Pipeline, clock autopost.Clock, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:    store,
		sessions: sessions,
		pipe:     pipe,
		clock:    clock,
		logger:   logger,
	}
}

// Execute runs the job to a terminal state. The returned error is what the
// pool observes; the job row is already FAILED by the time it is non-nil.
func (e *Executor) Execute(ctx context.Context, payload autopost.JobPayload) error {
	job, err := e.store.GetJob(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", payload.JobID, err)
	}

	// Missing account or video fails the job before any session is spent.
	account, err := e.store.GetAccount(ctx, payload.AccountID)
	if err != nil {
		return e.fail(ctx, job, nil, autopost.Video{}, err)
	}
	video, err := e.store.GetVideo(ctx, payload.VideoID)
	if err != nil {
		return e.fail(ctx, job, &account, autopost.Video{}, err)
	}

	if err := e.store.MarkJobProcessing(ctx, job.ID, e.clock.Now()); err != nil {
		return fmt.Errorf("mark job %s processing: %w", job.ID, err)
	}

	sess, err := e.sessions.Acquire(ctx, account)
	if err != nil {
		return e.fail(ctx, job, &account, video, err)
	}
	defer e.sessions.Release(sess)

	runErr := e.pipe.Run(ctx, sess.Browser, account, video, func(ctx context.Context, cookies []byte) error {
		return e.store.SaveAccountCookies(ctx, account.ID, cookies, e.clock.Now())
	})
	if runErr != nil {
		if ctx.Err() != nil {
			runErr = &autopost.ForcedShutdownError{JobID: job.ID}
		}
		return e.fail(context.WithoutCancel(ctx), job, &account, video, runErr)
	}

	return e.succeed(ctx, job, account, video)
}

func (e *Executor) succeed(ctx context.Context, job autopost.Job, account autopost.Account, video autopost.Video) error {
	now := e.clock.Now()
	if err := e.store.MarkJobCompleted(ctx, job.ID, now); err != nil {
		e.logger.Error("job completed but status write failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	if err := e.store.RecordPostSuccess(ctx, account.ID, now); err != nil {
		e.logger.Error("post success counters write failed",
			zap.String("account_id", account.ID), zap.Error(err))
	}
	if err := e.store.AppendPostHistory(ctx, autopost.PostHistory{
		AccountID:  account.ID,
		VideoTitle: video.Title,
		Success:    true,
		DurationMs: now.Sub(job.EnqueuedAt).Milliseconds(),
		CreatedAt:  now,
	}); err != nil {
		e.logger.Error("post history write failed",
			zap.String("account_id", account.ID), zap.Error(err))
	}
	e.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("account_id", account.ID),
		zap.String("video_id", video.ID))
	return nil
}

// fail records the terminal failure. Account counters and history move only
// when the account exists.
func (e *Executor) fail(ctx context.Context, job autopost.Job, account *autopost.Account, video autopost.Video, cause error) error {
	now := e.clock.Now()
	trace := string(debug.Stack())
	if err := e.store.MarkJobFailed(ctx, job.ID, now, cause.Error(), trace); err != nil {
		e.logger.Error("job failure status write failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	if account != nil {
		if err := e.store.RecordPostFailure(ctx, account.ID, now); err != nil {
			e.logger.Error("post failure counters write failed",
				zap.String("account_id", account.ID), zap.Error(err))
		}
		if err := e.store.AppendPostHistory(ctx, autopost.PostHistory{
			AccountID:  account.ID,
			VideoTitle: video.Title,
			Success:    false,
			DurationMs: now.Sub(job.EnqueuedAt).Milliseconds(),
			CreatedAt:  now,
		}); err != nil {
			e.logger.Error("post history write failed",
				zap.String("account_id", account.ID), zap.Error(err))
		}
	}
	e.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("account_id", job.AccountID),
		zap.Error(cause))
	return cause
}
