package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
	systemclock "github.com/missatjuhvdk1/snapbot/internal/clock/system"
	memorysnapshots "github.com/missatjuhvdk1/snapbot/internal/snapshots/memory"
)

const (
	testLoginURL  = "https://accounts.example.com/accounts/login"
	testUploadURL = "https://web.example.com"
)

// scriptedBrowser is a DriverSession whose location answers come from a
// script and whose element waits can be failed per selector.
type scriptedBrowser struct {
	locations   []string
	locIndex    int
	waitErrors  map[string]error
	cookies     []autopost.Cookie
	screenshot  []byte
	shotErr     error
	navigations []string
	clicks      []string
	keys        map[string]string
	files       map[string][]string
}

func newScriptedBrowser(locations ...string) *scriptedBrowser {
	return &scriptedBrowser{
		locations:  locations,
		waitErrors: map[string]error{},
		cookies:    []autopost.Cookie{{Name: "sc-session", Value: "tok", Domain: ".example.com", Path: "/"}},
		screenshot: []byte("png-bytes"),
		keys:       map[string]string{},
		files:      map[string][]string{},
	}
}

func (b *scriptedBrowser) Navigate(_ context.Context, url string) error {
	b.navigations = append(b.navigations, url)
	return nil
}

func (b *scriptedBrowser) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	return b.waitErrors[selector]
}

func (b *scriptedBrowser) Click(_ context.Context, selector string) error {
	b.clicks = append(b.clicks, selector)
	return nil
}

func (b *scriptedBrowser) SendKeys(_ context.Context, selector, keys string) error {
	b.keys[selector] += keys
	return nil
}

func (b *scriptedBrowser) SetFiles(_ context.Context, selector string, paths []string) error {
	b.files[selector] = paths
	return nil
}

func (b *scriptedBrowser) Location(context.Context) (string, error) {
	loc := b.locations[b.locIndex]
	if b.locIndex < len(b.locations)-1 {
		b.locIndex++
	}
	return loc, nil
}

func (b *scriptedBrowser) Cookies(context.Context) ([]autopost.Cookie, error) {
	return b.cookies, nil
}

func (b *scriptedBrowser) SetCookies(context.Context, []autopost.Cookie) error { return nil }

func (b *scriptedBrowser) Screenshot(context.Context) ([]byte, error) {
	return b.screenshot, b.shotErr
}

func (b *scriptedBrowser) Close() error { return nil }

func fastConfig() Config {
	return Config{
		LoginURL:        testLoginURL,
		UploadURL:       testUploadURL,
		LoginPathMarker: "login",
		NavTimeout:      100 * time.Millisecond,
		ElementTimeout:  50 * time.Millisecond,
		Pacing: Pacing{
			KeystrokeMin: time.Microsecond,
			KeystrokeMax: 2 * time.Microsecond,
			FieldMin:     time.Microsecond,
			FieldMax:     2 * time.Microsecond,
			SettleMin:    time.Microsecond,
			SettleMax:    2 * time.Microsecond,
		},
	}
}

func testAccount() autopost.Account {
	return autopost.Account{ID: "acct-1", Username: "creator01", Password: "hunter2"}
}

func testVideo() autopost.Video {
	return autopost.Video{ID: "vid-1", Title: "spring drop", LocalPath: "/videos/drop.mp4"}
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	// on the login page first, off it after submit
	browser := newScriptedBrowser(testLoginURL, "https://web.example.com/home")
	p := New(fastConfig(), nil, systemclock.New(), nil)

	var savedCookies []byte
	err := p.Run(context.Background(), browser, testAccount(), testVideo(), func(_ context.Context, blob []byte) error {
		savedCookies = blob
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sel := DefaultSelectors()
	if got := browser.keys[sel.UsernameInput]; got != "creator01" {
		t.Fatalf("username typed as %q", got)
	}
	if got := browser.keys[sel.PasswordInput]; got != "hunter2" {
		t.Fatalf("password typed as %q", got)
	}
	if len(browser.navigations) != 2 || browser.navigations[1] != testUploadURL {
		t.Fatalf("unexpected navigations: %v", browser.navigations)
	}
	if got := browser.files[sel.FileInput]; len(got) != 1 || got[0] != "/videos/drop.mp4" {
		t.Fatalf("unexpected upload files: %v", got)
	}
	if got := browser.keys[sel.CaptionInput]; got != "spring drop" {
		t.Fatalf("caption typed as %q", got)
	}
	if browser.clicks[len(browser.clicks)-1] != sel.PublishButton {
		t.Fatalf("publish button not clicked last: %v", browser.clicks)
	}

	var cookies []autopost.Cookie
	if err := json.Unmarshal(savedCookies, &cookies); err != nil {
		t.Fatalf("cookie blob not JSON: %v", err)
	}
	if len(cookies) != 1 || cookies[0].Name != "sc-session" {
		t.Fatalf("unexpected cookies persisted: %+v", cookies)
	}
}

func TestRunSkipsLoginWithLiveSession(t *testing.T) {
	t.Parallel()

	// restored cookies: never on the login page
	browser := newScriptedBrowser("https://web.example.com/home")
	p := New(fastConfig(), nil, systemclock.New(), nil)

	hookCalled := false
	err := p.Run(context.Background(), browser, testAccount(), testVideo(), func(context.Context, []byte) error {
		hookCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := browser.keys[DefaultSelectors().UsernameInput]; got != "" {
		t.Fatalf("credentials typed despite live session: %q", got)
	}
	if !hookCalled {
		t.Fatal("cookies must still be refreshed after a verified session")
	}
}

func TestRunAuthenticationFailure(t *testing.T) {
	t.Parallel()

	// still on the login page after submit
	browser := newScriptedBrowser(testLoginURL)
	snapshots := memorysnapshots.New()
	p := New(fastConfig(), snapshots, systemclock.New(), nil)

	hookCalled := false
	err := p.Run(context.Background(), browser, testAccount(), testVideo(), func(context.Context, []byte) error {
		hookCalled = true
		return nil
	})
	var authErr *autopost.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
	if hookCalled {
		t.Fatal("cookies must never persist on a failed login")
	}
	if len(snapshots.Paths()) != 1 || !strings.HasPrefix(snapshots.Paths()[0], "authenticating-") {
		t.Fatalf("expected one authenticating snapshot, got %v", snapshots.Paths())
	}
}

func TestRunUploadSurfaceNotFound(t *testing.T) {
	t.Parallel()

	browser := newScriptedBrowser(testLoginURL, "https://web.example.com/home")
	browser.waitErrors[DefaultSelectors().FileInput] = errors.New("timeout")
	p := New(fastConfig(), nil, systemclock.New(), nil)

	err := p.Run(context.Background(), browser, testAccount(), testVideo(), nil)
	var surfaceErr *autopost.UploadSurfaceNotFoundError
	if !errors.As(err, &surfaceErr) {
		t.Fatalf("expected UploadSurfaceNotFoundError, got %v", err)
	}
}

func TestRunCaptionInputAbsentIsNotFailure(t *testing.T) {
	t.Parallel()

	browser := newScriptedBrowser(testLoginURL, "https://web.example.com/home")
	browser.waitErrors[DefaultSelectors().CaptionInput] = errors.New("timeout")
	p := New(fastConfig(), nil, systemclock.New(), nil)

	if err := p.Run(context.Background(), browser, testAccount(), testVideo(), nil); err != nil {
		t.Fatalf("caption absence must not fail the run: %v", err)
	}
	if got := browser.keys[DefaultSelectors().CaptionInput]; got != "" {
		t.Fatalf("caption typed into missing input: %q", got)
	}
}

func TestRunSnapshotFailureDoesNotMaskError(t *testing.T) {
	t.Parallel()

	browser := newScriptedBrowser(testLoginURL)
	browser.shotErr = errors.New("screenshot broken")
	snapshots := memorysnapshots.New()
	p := New(fastConfig(), snapshots, systemclock.New(), nil)

	err := p.Run(context.Background(), browser, testAccount(), testVideo(), nil)
	var authErr *autopost.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("snapshot failure masked the original error: %v", err)
	}
	if len(snapshots.Paths()) != 0 {
		t.Fatalf("no snapshot should be stored, got %v", snapshots.Paths())
	}
}

func TestRunCookiePersistFailureFailsRun(t *testing.T) {
	t.Parallel()

	browser := newScriptedBrowser(testLoginURL, "https://web.example.com/home")
	p := New(fastConfig(), nil, systemclock.New(), nil)

	wantErr := errors.New("store down")
	err := p.Run(context.Background(), browser, testAccount(), testVideo(), func(context.Context, []byte) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected persist error to surface, got %v", err)
	}
	if len(browser.files) != 0 {
		t.Fatal("upload must not proceed when cookie persistence fails")
	}
}
