package autopost

import (
	"context"
	"time"
)

// Store persists accounts, videos, jobs and post history. Counter updates
// (attempt counts, failed attempts, daily posts) must be atomic increments
// so a violated per-account exclusion can never lose updates.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetVideo(ctx context.Context, videoID string) (Video, error)

	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	MarkJobProcessing(ctx context.Context, jobID string, at time.Time) error
	MarkJobCompleted(ctx context.Context, jobID string, at time.Time) error
	MarkJobFailed(ctx context.Context, jobID string, at time.Time, errText, trace string) error

	SaveAccountCookies(ctx context.Context, accountID string, cookies []byte, loginAt time.Time) error
	RecordPostSuccess(ctx context.Context, accountID string, at time.Time) error
	RecordPostFailure(ctx context.Context, accountID string, at time.Time) error

	AppendPostHistory(ctx context.Context, record PostHistory) error

	Close()
}

// Queue provides enqueue/dequeue semantics for posting jobs.
type Queue interface {
	Enqueue(ctx context.Context, payload JobPayload) error
	Dequeue(ctx context.Context) (JobPayload, error)
}

// OpenOptions parameterize one isolated driver session.
type OpenOptions struct {
	AccountID   string
	Headless    bool
	Proxy       *Proxy
	Fingerprint Fingerprint
	Evasion     EvasionProfile
}

// Driver opens isolated automation sessions. Implementations own the
// underlying browser process; everything above this interface is
// platform-agnostic.
type Driver interface {
	Open(ctx context.Context, opts OpenOptions) (DriverSession, error)
}

// DriverSession is one live browsing session bound to one account.
// Close must be safe to call more than once.
type DriverSession interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, keys string) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	Location(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// SnapshotStore writes diagnostic artifacts and returns a URI.
type SnapshotStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes result messages to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
