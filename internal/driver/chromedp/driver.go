// Package chromedp implements the browser automation driver on top of
// headless Chrome via the chromedp library.
package chromedp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

// Driver opens isolated Chrome sessions, one browser process per session so
// proxy and fingerprint bindings never leak between accounts.
type Driver struct{}

// New creates a chromedp-backed driver.
func New() *Driver {
	return &Driver{}
}

// Open launches a fresh browser bound to the options' proxy and fingerprint.
func (d *Driver) Open(ctx context.Context, opts autopost.OpenOptions) (autopost.DriverSession, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.Fingerprint.ViewportWidth > 0 && opts.Fingerprint.ViewportHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.Fingerprint.ViewportWidth, opts.Fingerprint.ViewportHeight))
	}
	if opts.Fingerprint.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.Fingerprint.UserAgent))
	}
	if opts.Proxy != nil {
		allocOpts = append(allocOpts, chromedp.ProxyServer(proxyAddress(*opts.Proxy)))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	s := &session{
		ctx:         taskCtx,
		taskCancel:  taskCancel,
		allocCancel: allocCancel,
	}

	if opts.Proxy != nil && opts.Proxy.Username != "" {
		s.installProxyAuth(*opts.Proxy)
	}

	if err := chromedp.Run(taskCtx, sessionSetupAction(opts)); err != nil {
		s.Close()
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	return s, nil
}

// sessionSetupAction applies fingerprint overrides and evasion scripts before
// any page load happens in the session.
func sessionSetupAction(opts autopost.OpenOptions) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		fp := opts.Fingerprint
		if fp.UserAgent != "" || fp.Locale != "" {
			override := emulation.SetUserAgentOverride(fp.UserAgent)
			if fp.Locale != "" {
				override = override.WithAcceptLanguage(fp.Locale)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if fp.Timezone != "" {
			if err := emulation.SetTimezoneOverride(fp.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		if fp.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(fp.Locale).Do(ctx); err != nil {
				return fmt.Errorf("set locale: %w", err)
			}
		}
		script := evasionScript(opts.Evasion)
		if script != "" {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("install evasion script: %w", err)
			}
		}
		return nil
	})
}

// evasionScript builds the init script injected into every new document. It
// masks the automation marker and pins plugin and language declarations.
func evasionScript(profile autopost.EvasionProfile) string {
	var b strings.Builder
	if profile.HideAutomationMarker {
		b.WriteString("Object.defineProperty(navigator, 'webdriver', { get: () => false });\n")
	}
	if len(profile.Plugins) > 0 {
		plugins, err := json.Marshal(profile.Plugins)
		if err == nil {
			fmt.Fprintf(&b, "Object.defineProperty(navigator, 'plugins', { get: () => %s });\n", plugins)
		}
	}
	if len(profile.Languages) > 0 {
		languages, err := json.Marshal(profile.Languages)
		if err == nil {
			fmt.Fprintf(&b, "Object.defineProperty(navigator, 'languages', { get: () => %s });\n", languages)
		}
	}
	return b.String()
}

// proxyAddress renders a proxy as the scheme://host:port form Chrome accepts.
// Credentials are deliberately excluded; Chrome handles them via the fetch
// auth challenge instead.
func proxyAddress(p autopost.Proxy) string {
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, p.Host, p.Port)
}

// session is a live Chrome tab plus the contexts that own its process.
type session struct {
	ctx         context.Context
	taskCancel  context.CancelFunc
	allocCancel context.CancelFunc
	closeOnce   sync.Once
}

// installProxyAuth answers the proxy's 407 challenge with the stored
// credentials. It must run before the first navigation.
func (s *session) installProxyAuth(p autopost.Proxy) {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				auth := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: p.Username,
					Password: p.Password,
				}
				action := fetch.ContinueWithAuth(ev.RequestID, auth)
				_ = chromedp.Run(s.ctx, action)
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(s.ctx, fetch.ContinueRequest(ev.RequestID))
			}()
		}
	})
	_ = chromedp.Run(s.ctx, fetch.Enable().WithHandleAuthRequests(true))
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %s: %w", selector, err)
	}
	return nil
}

func (s *session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *session) SendKeys(ctx context.Context, selector, keys string) error {
	if err := s.run(ctx, chromedp.SendKeys(selector, keys, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("send keys to %s: %w", selector, err)
	}
	return nil
}

func (s *session) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := s.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("set upload files on %s: %w", selector, err)
	}
	return nil
}

func (s *session) Location(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return location, nil
}

func (s *session) Cookies(ctx context.Context) ([]autopost.Cookie, error) {
	var cookies []autopost.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = fromNetworkCookies(raw)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return cookies, nil
}

func (s *session) SetCookies(ctx context.Context, cookies []autopost.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(toCookieParams(cookies)).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("restore cookies: %w", err)
	}
	return nil
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close tears down the tab and the browser process. Safe to call repeatedly.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.taskCancel()
		s.allocCancel()
	})
	return nil
}

// run executes actions on the session's browser context while honoring the
// caller's deadline and cancellation.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(s.ctx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fromNetworkCookies converts CDP cookies into the wire-neutral form stored
// alongside accounts.
func fromNetworkCookies(raw []*network.Cookie) []autopost.Cookie {
	cookies := make([]autopost.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		cookie := autopost.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			expires := time.Unix(int64(c.Expires), 0).UTC()
			cookie.Expires = &expires
		}
		cookies = append(cookies, cookie)
	}
	return cookies
}

// toCookieParams converts stored cookies back into CDP set-cookie params.
func toCookieParams(cookies []autopost.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires != nil {
			expires := cdp.TimeSinceEpoch(*c.Expires)
			param.Expires = &expires
		}
		params = append(params, param)
	}
	return params
}
