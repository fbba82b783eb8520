package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

func seedPendingJob(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.CreateJob(context.Background(), autopost.Job{
		ID:         id,
		AccountID:  "acct-1",
		VideoID:    "vid-1",
		Status:     autopost.JobStatusPending,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
}

func TestJobLifecycleTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	seedPendingJob(t, s, "job-1")

	if err := s.MarkJobProcessing(ctx, "job-1", time.Now()); err != nil {
		t.Fatalf("MarkJobProcessing() error = %v", err)
	}
	if err := s.MarkJobCompleted(ctx, "job-1", time.Now()); err != nil {
		t.Fatalf("MarkJobCompleted() error = %v", err)
	}

	job, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != autopost.JobStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("expected start and completion stamps, got %+v", job)
	}
}

func TestTerminalJobDoesNotRegress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	seedPendingJob(t, s, "job-1")

	if err := s.MarkJobProcessing(ctx, "job-1", time.Now()); err != nil {
		t.Fatalf("MarkJobProcessing() error = %v", err)
	}
	if err := s.MarkJobCompleted(ctx, "job-1", time.Now()); err != nil {
		t.Fatalf("MarkJobCompleted() error = %v", err)
	}

	// A duplicate queue delivery of a finished job's ID must bounce off.
	var notFound *autopost.NotFoundError
	if err := s.MarkJobProcessing(ctx, "job-1", time.Now()); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError re-marking completed job, got %v", err)
	}
	if err := s.MarkJobFailed(ctx, "job-1", time.Now(), "late failure", ""); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError failing completed job, got %v", err)
	}

	job, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != autopost.JobStatusCompleted {
		t.Fatalf("terminal status regressed to %s", job.Status)
	}
	if job.AttemptCount != 0 || job.FailedAt != nil {
		t.Fatalf("rejected transition mutated job: %+v", job)
	}
}

func TestMarkJobFailedFromPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	seedPendingJob(t, s, "job-1")

	// Missing account or video fails a job before it ever starts processing.
	if err := s.MarkJobFailed(ctx, "job-1", time.Now(), "video vid-1 not found", ""); err != nil {
		t.Fatalf("MarkJobFailed() error = %v", err)
	}

	job, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != autopost.JobStatusFailed || job.AttemptCount != 1 {
		t.Fatalf("expected FAILED with one attempt, got %+v", job)
	}

	var notFound *autopost.NotFoundError
	if err := s.MarkJobCompleted(ctx, "job-1", time.Now()); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError completing failed job, got %v", err)
	}
}

func TestMarkJobCompletedRequiresProcessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	seedPendingJob(t, s, "job-1")

	var notFound *autopost.NotFoundError
	if err := s.MarkJobCompleted(ctx, "job-1", time.Now()); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError completing pending job, got %v", err)
	}
}
