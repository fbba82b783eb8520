package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
	systemclock "github.com/missatjuhvdk1/snapbot/internal/clock/system"
	"github.com/missatjuhvdk1/snapbot/internal/pipeline"
	"github.com/missatjuhvdk1/snapbot/internal/session"
	memorystore "github.com/missatjuhvdk1/snapbot/internal/store/memory"
)

const (
	loginURL  = "https://accounts.example.com/accounts/login"
	uploadURL = "https://web.example.com"
)

// stubBrowser plays a fixed session: login page first, home page after.
type stubBrowser struct {
	locations []string
	locIndex  int
	failLogin bool
	waitErr   map[string]error
}

func newStubBrowser(failLogin bool) *stubBrowser {
	locations := []string{loginURL, "https://web.example.com/home"}
	if failLogin {
		locations = []string{loginURL}
	}
	return &stubBrowser{locations: locations, failLogin: failLogin, waitErr: map[string]error{}}
}

func (b *stubBrowser) Navigate(context.Context, string) error { return nil }
func (b *stubBrowser) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	return b.waitErr[selector]
}
func (b *stubBrowser) Click(context.Context, string) error              { return nil }
func (b *stubBrowser) SendKeys(context.Context, string, string) error   { return nil }
func (b *stubBrowser) SetFiles(context.Context, string, []string) error { return nil }
func (b *stubBrowser) Location(context.Context) (string, error) {
	loc := b.locations[b.locIndex]
	if b.locIndex < len(b.locations)-1 {
		b.locIndex++
	}
	return loc, nil
}
func (b *stubBrowser) Cookies(context.Context) ([]autopost.Cookie, error) {
	return []autopost.Cookie{{Name: "sc-session", Value: "tok", Domain: ".example.com", Path: "/"}}, nil
}
func (b *stubBrowser) SetCookies(context.Context, []autopost.Cookie) error { return nil }
func (b *stubBrowser) Screenshot(context.Context) ([]byte, error)          { return []byte("png"), nil }
func (b *stubBrowser) Close() error                                        { return nil }

type stubDriver struct {
	browser *stubBrowser
}

func (d *stubDriver) Open(context.Context, autopost.OpenOptions) (autopost.DriverSession, error) {
	return d.browser, nil
}

func newTestExecutor(t *testing.T, browser *stubBrowser) (*Executor, *memorystore.Store) {
	t.Helper()
	store := memorystore.NewStore()
	clock := systemclock.New()
	sessions := session.NewManager(session.Config{}, &stubDriver{browser: browser}, nil, nil)
	pipe := pipeline.New(pipeline.Config{
		LoginURL:        loginURL,
		UploadURL:       uploadURL,
		LoginPathMarker: "login",
		NavTimeout:      100 * time.Millisecond,
		ElementTimeout:  50 * time.Millisecond,
		Pacing: pipeline.Pacing{
			KeystrokeMin: time.Microsecond, KeystrokeMax: 2 * time.Microsecond,
			FieldMin: time.Microsecond, FieldMax: 2 * time.Microsecond,
			SettleMin: time.Microsecond, SettleMax: 2 * time.Microsecond,
		},
	}, nil, clock, nil)
	return New(store, sessions, pipe, clock, nil), store
}

func seedJob(t *testing.T, store *memorystore.Store) autopost.JobPayload {
	t.Helper()
	store.PutAccount(autopost.Account{ID: "acct-1", Username: "creator01", Password: "pw"})
	store.PutVideo(autopost.Video{ID: "vid-1", Title: "drop", LocalPath: "/videos/drop.mp4"})
	job := autopost.Job{
		ID:         "job-1",
		AccountID:  "acct-1",
		VideoID:    "vid-1",
		Status:     autopost.JobStatusPending,
		EnqueuedAt: time.Now().UTC().Add(-5 * time.Second),
	}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return autopost.JobPayload{AccountID: "acct-1", VideoID: "vid-1", JobID: "job-1"}
}

func TestExecuteSuccessBookkeeping(t *testing.T) {
	t.Parallel()

	exec, store := newTestExecutor(t, newStubBrowser(false))
	payload := seedJob(t, store)

	if err := exec.Execute(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job, err := store.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != autopost.JobStatusCompleted || job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("unexpected job state: %+v", job)
	}

	account, err := store.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	if account.PostsToday != 1 || account.FailedAttempts != 0 {
		t.Fatalf("unexpected counters: %+v", account)
	}
	if len(account.Cookies) == 0 || account.LastLoginAt == nil || account.LastPostAt == nil {
		t.Fatalf("cookies or stamps missing: %+v", account)
	}

	history := store.History()
	if len(history) != 1 || !history[0].Success || history[0].VideoTitle != "drop" {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].DurationMs <= 0 {
		t.Fatalf("duration must be measured from enqueue: %+v", history[0])
	}
}

func TestExecuteLoginFailureBookkeeping(t *testing.T) {
	t.Parallel()

	exec, store := newTestExecutor(t, newStubBrowser(true))
	payload := seedJob(t, store)

	err := exec.Execute(context.Background(), payload)
	var authErr *autopost.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}

	job, _ := store.GetJob(context.Background(), "job-1")
	if job.Status != autopost.JobStatusFailed || job.FailedAt == nil || job.ErrorText == "" {
		t.Fatalf("unexpected job state: %+v", job)
	}
	if job.AttemptCount != 1 {
		t.Fatalf("expected one attempt, got %d", job.AttemptCount)
	}

	account, _ := store.GetAccount(context.Background(), "acct-1")
	if account.FailedAttempts != 1 || account.LastFailedAt == nil {
		t.Fatalf("unexpected counters: %+v", account)
	}
	if len(account.Cookies) != 0 {
		t.Fatal("cookies must not persist on failed login")
	}

	history := store.History()
	if len(history) != 1 || history[0].Success {
		t.Fatalf("expected one failure history row: %+v", history)
	}
}

func TestExecuteMissingVideoFailsWithoutSession(t *testing.T) {
	t.Parallel()

	browser := newStubBrowser(false)
	exec, store := newTestExecutor(t, browser)
	store.PutAccount(autopost.Account{ID: "acct-1", Username: "creator01"})
	job := autopost.Job{
		ID: "job-1", AccountID: "acct-1", VideoID: "vid-missing",
		Status: autopost.JobStatusPending, EnqueuedAt: time.Now().UTC(),
	}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	err := exec.Execute(context.Background(), autopost.JobPayload{
		AccountID: "acct-1", VideoID: "vid-missing", JobID: "job-1",
	})
	var notFound *autopost.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	got, _ := store.GetJob(context.Background(), "job-1")
	if got.Status != autopost.JobStatusFailed {
		t.Fatalf("job should be failed, got %s", got.Status)
	}
	if got.StartedAt != nil {
		t.Fatal("job must never enter processing")
	}
	if b := browser.locIndex; b != 0 {
		t.Fatal("no browser session may be spent on a doomed job")
	}
}

func TestExecuteForcedShutdown(t *testing.T) {
	t.Parallel()

	exec, store := newTestExecutor(t, newStubBrowser(true))
	payload := seedJob(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := exec.Execute(ctx, payload)
	var forced *autopost.ForcedShutdownError
	if !errors.As(err, &forced) {
		t.Fatalf("expected ForcedShutdownError, got %v", err)
	}

	job, _ := store.GetJob(context.Background(), "job-1")
	if job.Status != autopost.JobStatusFailed {
		t.Fatalf("job should be failed, got %s", job.Status)
	}
}
