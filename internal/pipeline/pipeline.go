// Package pipeline drives one posting run through the platform's web surface
// as a small state machine.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

// State names the stage a run is in. FAILED absorbs from every stage.
type State string

// Pipeline states in execution order.
const (
	StateInit           State = "INIT"
	StateAuthenticating State = "AUTHENTICATING"
	StateAuthenticated  State = "AUTHENTICATED"
	StateUploading      State = "UPLOADING"
	StateCaptioned      State = "CAPTIONED"
	StatePublishing     State = "PUBLISHING"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// Selectors locate the platform's interactive elements. The defaults match
// the current web surface and are overridable per deployment because they
// change without notice.
type Selectors struct {
	UsernameInput string
	PasswordInput string
	LoginSubmit   string
	FileInput     string
	CaptionInput  string
	PublishButton string
}

// DefaultSelectors returns the selector set for the current web surface.
func DefaultSelectors() Selectors {
	return Selectors{
		UsernameInput: `input[name="username"]`,
		PasswordInput: `input[name="password"]`,
		LoginSubmit:   `button[type="submit"]`,
		FileInput:     `input[type="file"]`,
		CaptionInput:  `textarea[aria-label="Caption"]`,
		PublishButton: `button[data-testid="publish-button"]`,
	}
}

// Pacing bounds the uniform random delays between simulated inputs. Pacing
// is cosmetic; real synchronization is element and navigation readiness.
type Pacing struct {
	KeystrokeMin time.Duration
	KeystrokeMax time.Duration
	FieldMin     time.Duration
	FieldMax     time.Duration
	SettleMin    time.Duration
	SettleMax    time.Duration
}

// DefaultPacing matches what a moderately quick human produces.
func DefaultPacing() Pacing {
	return Pacing{
		KeystrokeMin: 50 * time.Millisecond,
		KeystrokeMax: 300 * time.Millisecond,
		FieldMin:     300 * time.Millisecond,
		FieldMax:     900 * time.Millisecond,
		SettleMin:    1500 * time.Millisecond,
		SettleMax:    3 * time.Second,
	}
}

// Config parameterizes a Pipeline.
type Config struct {
	LoginURL        string
	UploadURL       string
	LoginPathMarker string
	Selectors       Selectors
	NavTimeout      time.Duration
	ElementTimeout  time.Duration
	Pacing          Pacing
}

// AuthenticatedFunc runs exactly once per run, right after login is verified,
// with the session's live cookie set serialized as JSON. It is the only
// moment cookies may be persisted.
type AuthenticatedFunc func(ctx context.Context, cookies []byte) error

// Pipeline executes posting runs. Safe for concurrent use; each run carries
// its own state.
type Pipeline struct {
	cfg       Config
	snapshots autopost.SnapshotStore
	clock     autopost.Clock
	logger    *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a Pipeline. snapshots may be nil to disable failure screenshots.
func New(cfg Config, snapshots autopost.SnapshotStore, clock autopost.Clock, logger *zap.Logger) *Pipeline {
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.Pacing == (Pacing{}) {
		cfg.Pacing = DefaultPacing()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		snapshots: snapshots,
		clock:     clock,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run posts the video from the given session. On any failure it captures a
// best-effort screenshot, then returns the original error.
func (p *Pipeline) Run(
	ctx context.Context,
	browser autopost.DriverSession,
	account autopost.Account,
	video autopost.Video,
	onAuthenticated AuthenticatedFunc,
) error {
	r := &run{
		pipeline: p,
		browser:  browser,
		account:  account,
		video:    video,
		onAuth:   onAuthenticated,
		state:    StateInit,
	}
	if err := r.execute(ctx); err != nil {
		failedIn := r.state
		r.state = StateFailed
		r.captureFailureSnapshot(ctx, failedIn, err)
		return err
	}
	return nil
}

type run struct {
	pipeline *Pipeline
	browser  autopost.DriverSession
	account  autopost.Account
	video    autopost.Video
	onAuth   AuthenticatedFunc
	state    State
}

func (r *run) execute(ctx context.Context) error {
	if err := r.authenticate(ctx); err != nil {
		return err
	}
	if err := r.persistCookies(ctx); err != nil {
		return err
	}
	if err := r.upload(ctx); err != nil {
		return err
	}
	r.caption(ctx)
	if err := r.publish(ctx); err != nil {
		return err
	}
	r.state = StateDone
	return nil
}

// authenticate logs the account in. When the restored cookie set already
// carries a live session the login form never appears and the step is a
// no-op beyond the navigation.
func (r *run) authenticate(ctx context.Context) error {
	p := r.pipeline
	r.state = StateAuthenticating

	navCtx, cancel := context.WithTimeout(ctx, p.cfg.NavTimeout)
	defer cancel()
	if err := r.browser.Navigate(navCtx, p.cfg.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	onLogin, err := r.onLoginPage(ctx)
	if err != nil {
		return err
	}
	if onLogin {
		if err := r.submitCredentials(ctx); err != nil {
			return err
		}
		if err := r.verifyLeftLoginPage(ctx); err != nil {
			return err
		}
	}
	r.state = StateAuthenticated
	return nil
}

func (r *run) submitCredentials(ctx context.Context) error {
	p := r.pipeline
	sel := p.cfg.Selectors
	if err := r.browser.WaitVisible(ctx, sel.UsernameInput, p.cfg.ElementTimeout); err != nil {
		return fmt.Errorf("login form did not appear: %w", err)
	}
	if err := r.typeHumanized(ctx, sel.UsernameInput, r.account.Username); err != nil {
		return fmt.Errorf("enter username: %w", err)
	}
	r.pause(ctx, p.cfg.Pacing.FieldMin, p.cfg.Pacing.FieldMax)
	if err := r.typeHumanized(ctx, sel.PasswordInput, r.account.Password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}
	r.pause(ctx, p.cfg.Pacing.FieldMin, p.cfg.Pacing.FieldMax)
	if err := r.browser.Click(ctx, sel.LoginSubmit); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	return nil
}

// verifyLeftLoginPage polls the location until the login path marker is gone
// or the navigation timeout elapses. Still being on the login page means the
// credentials were rejected.
func (r *run) verifyLeftLoginPage(ctx context.Context) error {
	p := r.pipeline
	deadline := time.NewTimer(p.cfg.NavTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		onLogin, err := r.onLoginPage(ctx)
		if err != nil {
			return err
		}
		if !onLogin {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &autopost.AuthenticationError{
				Username: r.account.Username,
				Reason:   "still on login page after submit",
			}
		case <-tick.C:
		}
	}
}

func (r *run) onLoginPage(ctx context.Context) (bool, error) {
	location, err := r.browser.Location(ctx)
	if err != nil {
		return false, fmt.Errorf("read location: %w", err)
	}
	return strings.Contains(location, r.pipeline.cfg.LoginPathMarker), nil
}

// persistCookies serializes the live cookie set and hands it to the
// authenticated hook. Runs only after login is verified.
func (r *run) persistCookies(ctx context.Context) error {
	if r.onAuth == nil {
		return nil
	}
	cookies, err := r.browser.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("read session cookies: %w", err)
	}
	blob, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("serialize session cookies: %w", err)
	}
	if err := r.onAuth(ctx, blob); err != nil {
		return fmt.Errorf("persist session cookies: %w", err)
	}
	return nil
}

func (r *run) upload(ctx context.Context) error {
	p := r.pipeline
	r.state = StateUploading

	navCtx, cancel := context.WithTimeout(ctx, p.cfg.NavTimeout)
	defer cancel()
	if err := r.browser.Navigate(navCtx, p.cfg.UploadURL); err != nil {
		return fmt.Errorf("open upload page: %w", err)
	}

	sel := p.cfg.Selectors.FileInput
	if err := r.browser.WaitVisible(ctx, sel, p.cfg.ElementTimeout); err != nil {
		return &autopost.UploadSurfaceNotFoundError{Selector: sel, Err: err}
	}
	if err := r.browser.SetFiles(ctx, sel, []string{r.video.LocalPath}); err != nil {
		return fmt.Errorf("attach video file: %w", err)
	}
	return nil
}

// caption types the video title into the caption input when both exist.
// A missing caption input is not a failure; the surface simply has none for
// this media type.
func (r *run) caption(ctx context.Context) {
	p := r.pipeline
	defer func() { r.state = StateCaptioned }()
	if r.video.Title == "" {
		return
	}
	sel := p.cfg.Selectors.CaptionInput
	if err := r.browser.WaitVisible(ctx, sel, p.cfg.ElementTimeout); err != nil {
		p.logger.Debug("caption input absent, continuing without caption",
			zap.String("selector", sel),
			zap.String("account_id", r.account.ID))
		return
	}
	if err := r.browser.Click(ctx, sel); err != nil {
		p.logger.Debug("caption input rejected focus, continuing without caption", zap.Error(err))
		return
	}
	if err := r.typeHumanized(ctx, sel, r.video.Title); err != nil {
		p.logger.Debug("caption typing failed, continuing without caption", zap.Error(err))
	}
}

// publish clicks through and waits a bounded settle. The platform offers no
// reliable positive confirmation signal; success is the absence of an error.
func (r *run) publish(ctx context.Context) error {
	p := r.pipeline
	r.state = StatePublishing

	sel := p.cfg.Selectors.PublishButton
	if err := r.browser.WaitVisible(ctx, sel, p.cfg.ElementTimeout); err != nil {
		return &autopost.PublishError{Err: fmt.Errorf("publish control not found: %w", err)}
	}
	if err := r.browser.Click(ctx, sel); err != nil {
		return &autopost.PublishError{Err: err}
	}
	r.pause(ctx, p.cfg.Pacing.SettleMin, p.cfg.Pacing.SettleMax)
	return nil
}

// typeHumanized sends the text one rune at a time with random keystroke
// pacing.
func (r *run) typeHumanized(ctx context.Context, selector, text string) error {
	p := r.pipeline
	for _, ch := range text {
		if err := r.browser.SendKeys(ctx, selector, string(ch)); err != nil {
			return err
		}
		r.pause(ctx, p.cfg.Pacing.KeystrokeMin, p.cfg.Pacing.KeystrokeMax)
	}
	return nil
}

// pause sleeps a uniform random duration in [min, max], returning early on
// context cancellation.
func (r *run) pause(ctx context.Context, min, max time.Duration) {
	d := min
	if max > min {
		d += r.pipeline.randomDuration(max - min)
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (p *Pipeline) randomDuration(span time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int63n(int64(span) + 1))
}

// captureFailureSnapshot takes a best-effort screenshot on entry to FAILED.
// Snapshot errors are logged, never returned, so they cannot mask the
// original failure.
func (r *run) captureFailureSnapshot(ctx context.Context, failedIn State, cause error) {
	p := r.pipeline
	if p.snapshots == nil {
		return
	}
	shot, err := r.browser.Screenshot(ctx)
	if err != nil {
		p.logger.Warn("failure screenshot capture failed",
			zap.String("account_id", r.account.ID),
			zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s-%d.png", strings.ToLower(string(failedIn)), p.clock.Now().UnixMilli())
	uri, err := p.snapshots.Put(ctx, name, "image/png", shot)
	if err != nil {
		p.logger.Warn("failure screenshot store failed",
			zap.String("account_id", r.account.ID),
			zap.Error(err))
		return
	}
	p.logger.Info("failure screenshot captured",
		zap.String("account_id", r.account.ID),
		zap.String("uri", uri),
		zap.String("failed_in", string(failedIn)),
		zap.String("cause", cause.Error()))
}
