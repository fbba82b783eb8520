// Package autopost defines core types shared across subsystems.
package autopost

import "time"

// JobStatus represents the lifecycle state of a posting job.
type JobStatus string

// Job status values persisted in the store and visible to external consumers.
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Proxy carries the upstream proxy an account is pinned to. Proxies are
// shared by reference across accounts and never mutated by this service.
type Proxy struct {
	ID       string `json:"id"`
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
}

// Cookie is one browser cookie captured from or restored into a session.
type Cookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Expires  *time.Time `json:"expires,omitempty"`
	HTTPOnly bool       `json:"http_only"`
	Secure   bool       `json:"secure"`
}

// Account is one managed platform account. Cookies hold the serialized
// last-known-good cookie set; they are overwritten only after a verified
// successful login.
type Account struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Password       string     `json:"-"`
	Proxy          *Proxy     `json:"proxy,omitempty"`
	Cookies        []byte     `json:"-"`
	PostsToday     int        `json:"posts_today"`
	FailedAttempts int        `json:"failed_attempts"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	LastPostAt     *time.Time `json:"last_post_at,omitempty"`
	LastFailedAt   *time.Time `json:"last_failed_at,omitempty"`
}

// Video references locally staged media. Immutable once a job references it.
type Video struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Filename  string `json:"filename"`
	LocalPath string `json:"local_path"`
}

// Job is the persisted record of one posting request.
type Job struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	VideoID      string     `json:"video_id"`
	Status       JobStatus  `json:"status"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	ErrorText    string     `json:"error_text,omitempty"`
	ErrorTrace   string     `json:"-"`
}

// PostHistory is an append-only record of one publish attempt outcome.
type PostHistory struct {
	AccountID  string    `json:"account_id"`
	VideoTitle string    `json:"video_title"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobPayload is the queue message that triggers one posting job.
type JobPayload struct {
	AccountID string `json:"account_id"`
	VideoID   string `json:"video_id"`
	JobID     string `json:"job_id"`
}

// Fingerprint is the per-session browser identity selected by the session
// manager. The pool contents are a detection-diversity concern, not a
// correctness one.
type Fingerprint struct {
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	Locale         string
	Timezone       string
}

// EvasionProfile declares session characteristics the driver must present.
// It is a capability list, not a scripting mechanism.
type EvasionProfile struct {
	HideAutomationMarker bool
	Plugins              []string
	Languages            []string
}
