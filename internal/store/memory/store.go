// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

// Store keeps all records in maps guarded by one mutex. Status transitions
// follow the same one-way rules the Postgres backend enforces: a terminal
// job never changes again.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]autopost.Account
	videos   map[string]autopost.Video
	jobs     map[string]autopost.Job
	history  []autopost.PostHistory
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]autopost.Account),
		videos:   make(map[string]autopost.Video),
		jobs:     make(map[string]autopost.Job),
	}
}

// PutAccount seeds or replaces an account record.
func (s *Store) PutAccount(account autopost.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

// PutVideo seeds or replaces a video record.
func (s *Store) PutVideo(video autopost.Video) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[video.ID] = video
}

// GetAccount returns the account with its proxy, if any.
func (s *Store) GetAccount(_ context.Context, accountID string) (autopost.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return autopost.Account{}, &autopost.NotFoundError{Kind: "account", ID: accountID}
	}
	return account, nil
}

// GetVideo returns the referenced video.
func (s *Store) GetVideo(_ context.Context, videoID string) (autopost.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.videos[videoID]
	if !ok {
		return autopost.Video{}, &autopost.NotFoundError{Kind: "video", ID: videoID}
	}
	return video, nil
}

// CreateJob stores a new job in PENDING status.
func (s *Store) CreateJob(_ context.Context, job autopost.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return &alreadyExistsError{id: job.ID}
	}
	if job.Status == "" {
		job.Status = autopost.JobStatusPending
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (autopost.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return autopost.Job{}, &autopost.NotFoundError{Kind: "job", ID: jobID}
	}
	return job, nil
}

// MarkJobProcessing transitions PENDING -> PROCESSING and stamps the start.
func (s *Store) MarkJobProcessing(_ context.Context, jobID string, at time.Time) error {
	from := func(status autopost.JobStatus) bool { return status == autopost.JobStatusPending }
	return s.mutateJob(jobID, from, func(job *autopost.Job) {
		job.Status = autopost.JobStatusProcessing
		job.StartedAt = pointerTime(at)
	})
}

// MarkJobCompleted transitions PROCESSING -> COMPLETED and stamps completion.
func (s *Store) MarkJobCompleted(_ context.Context, jobID string, at time.Time) error {
	from := func(status autopost.JobStatus) bool { return status == autopost.JobStatusProcessing }
	return s.mutateJob(jobID, from, func(job *autopost.Job) {
		job.Status = autopost.JobStatusCompleted
		job.CompletedAt = pointerTime(at)
	})
}

// MarkJobFailed transitions any non-terminal job to FAILED, records the
// error text and trace, and increments the attempt count.
func (s *Store) MarkJobFailed(_ context.Context, jobID string, at time.Time, errText, trace string) error {
	from := func(status autopost.JobStatus) bool { return !status.Terminal() }
	return s.mutateJob(jobID, from, func(job *autopost.Job) {
		job.Status = autopost.JobStatusFailed
		job.FailedAt = pointerTime(at)
		job.ErrorText = errText
		job.ErrorTrace = trace
		job.AttemptCount++
	})
}

// SaveAccountCookies overwrites the stored cookie set and login stamp.
func (s *Store) SaveAccountCookies(_ context.Context, accountID string, cookies []byte, loginAt time.Time) error {
	return s.mutateAccount(accountID, func(account *autopost.Account) {
		account.Cookies = append([]byte(nil), cookies...)
		account.LastLoginAt = pointerTime(loginAt)
	})
}

// RecordPostSuccess bumps postsToday, stamps lastPostAt, and resets the
// failure streak.
func (s *Store) RecordPostSuccess(_ context.Context, accountID string, at time.Time) error {
	return s.mutateAccount(accountID, func(account *autopost.Account) {
		account.PostsToday++
		account.LastPostAt = pointerTime(at)
		account.FailedAttempts = 0
	})
}

// RecordPostFailure bumps failedAttempts and stamps lastFailedAt.
func (s *Store) RecordPostFailure(_ context.Context, accountID string, at time.Time) error {
	return s.mutateAccount(accountID, func(account *autopost.Account) {
		account.FailedAttempts++
		account.LastFailedAt = pointerTime(at)
	})
}

// AppendPostHistory appends one publish attempt record.
func (s *Store) AppendPostHistory(_ context.Context, record autopost.PostHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, record)
	return nil
}

// History returns a copy of all post history records, for assertions.
func (s *Store) History() []autopost.PostHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]autopost.PostHistory, len(s.history))
	copy(out, s.history)
	return out
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() {}

// mutateJob applies fn when the job exists and its current status passes the
// from guard. A guard miss reports NotFoundError, matching the Postgres
// backend where a guarded UPDATE touches zero rows.
func (s *Store) mutateJob(jobID string, from func(autopost.JobStatus) bool, fn func(*autopost.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || !from(job.Status) {
		return &autopost.NotFoundError{Kind: "job", ID: jobID}
	}
	fn(&job)
	s.jobs[jobID] = job
	return nil
}

func (s *Store) mutateAccount(accountID string, fn func(*autopost.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return &autopost.NotFoundError{Kind: "account", ID: accountID}
	}
	fn(&account)
	s.accounts[accountID] = account
	return nil
}

type alreadyExistsError struct {
	id string
}

func (e *alreadyExistsError) Error() string {
	return "job " + e.id + " already exists"
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
