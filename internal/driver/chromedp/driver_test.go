package chromedp

import (
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

func TestProxyAddressDefaultsProtocol(t *testing.T) {
	t.Parallel()

	addr := proxyAddress(autopost.Proxy{Host: "10.0.0.5", Port: 8080})
	if addr != "http://10.0.0.5:8080" {
		t.Fatalf("unexpected proxy address: %s", addr)
	}
	addr = proxyAddress(autopost.Proxy{Protocol: "socks5", Host: "proxy.local", Port: 1080, Username: "u", Password: "p"})
	if addr != "socks5://proxy.local:1080" {
		t.Fatalf("credentials must not appear in the address, got %s", addr)
	}
}

func TestEvasionScript(t *testing.T) {
	t.Parallel()

	script := evasionScript(autopost.EvasionProfile{
		HideAutomationMarker: true,
		Plugins:              []string{"1", "2", "3"},
		Languages:            []string{"en-US", "en"},
	})
	for _, want := range []string{"navigator, 'webdriver'", `["1","2","3"]`, `["en-US","en"]`} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
	if evasionScript(autopost.EvasionProfile{}) != "" {
		t.Fatal("empty profile should produce no script")
	}
}

func TestCookieConversionRoundTrip(t *testing.T) {
	t.Parallel()

	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := []*network.Cookie{
		nil,
		{
			Name:     "sc-session",
			Value:    "abc123",
			Domain:   ".snapchat.com",
			Path:     "/",
			Expires:  float64(expires.Unix()),
			HTTPOnly: true,
			Secure:   true,
		},
		{Name: "pref", Value: "1", Domain: ".snapchat.com", Path: "/"},
	}
	cookies := fromNetworkCookies(raw)
	if len(cookies) != 2 {
		t.Fatalf("expected nil entries skipped, got %d cookies", len(cookies))
	}
	if cookies[0].Name != "sc-session" || !cookies[0].HTTPOnly || !cookies[0].Secure {
		t.Fatalf("unexpected first cookie: %+v", cookies[0])
	}
	if cookies[0].Expires == nil || !cookies[0].Expires.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, cookies[0].Expires)
	}
	if cookies[1].Expires != nil {
		t.Fatal("session cookie should have no expiry")
	}

	params := toCookieParams(cookies)
	if len(params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(params))
	}
	if params[0].Expires == nil {
		t.Fatal("expected expiry carried through to cookie param")
	}
	if params[0].Domain != ".snapchat.com" || params[0].Name != "sc-session" {
		t.Fatalf("unexpected param: %+v", params[0])
	}
}
