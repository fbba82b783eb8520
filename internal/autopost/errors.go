package autopost

import "fmt"

// NotFoundError marks a missing Account or Video. Fatal for the job; no
// session is ever acquired for it.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// SessionAcquisitionError wraps a driver or proxy failure that prevented a
// session from starting.
type SessionAcquisitionError struct {
	AccountID string
	Err       error
}

func (e *SessionAcquisitionError) Error() string {
	return fmt.Sprintf("acquire session for account %s: %v", e.AccountID, e.Err)
}

func (e *SessionAcquisitionError) Unwrap() error { return e.Err }

// AuthenticationError means credentials were rejected or the login page
// persisted after submit. Cookies are never updated on this path.
type AuthenticationError struct {
	Username string
	Reason   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.Username, e.Reason)
}

// UploadSurfaceNotFoundError means no file input was discoverable on the
// publish surface within the element timeout.
type UploadSurfaceNotFoundError struct {
	Selector string
	Err      error
}

func (e *UploadSurfaceNotFoundError) Error() string {
	return fmt.Sprintf("upload surface %q not found: %v", e.Selector, e.Err)
}

func (e *UploadSurfaceNotFoundError) Unwrap() error { return e.Err }

// PublishError means the publish action itself was rejected by the platform.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish action failed: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ForcedShutdownError marks a job torn down by pool shutdown after the
// grace period elapsed.
type ForcedShutdownError struct {
	JobID string
}

func (e *ForcedShutdownError) Error() string {
	return fmt.Sprintf("job %s forcibly terminated by pool shutdown", e.JobID)
}
