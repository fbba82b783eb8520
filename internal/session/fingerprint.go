// Package session binds accounts to isolated browser sessions with stable
// proxy, cookie and fingerprint state.
package session

import (
	"math/rand"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

type viewport struct {
	width  int
	height int
}

var viewportPool = []viewport{
	{1920, 1080},
	{1366, 768},
	{1440, 900},
	{1536, 864},
}

var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

const (
	fingerprintLocale   = "en-US"
	fingerprintTimezone = "America/New_York"
)

// RandomFingerprint draws a viewport and user agent from the pools. Locale
// and timezone stay fixed so the declared environment matches the proxy
// region story.
func RandomFingerprint(rng *rand.Rand) autopost.Fingerprint {
	intn := rand.Intn
	if rng != nil {
		intn = rng.Intn
	}
	vp := viewportPool[intn(len(viewportPool))]
	return autopost.Fingerprint{
		ViewportWidth:  vp.width,
		ViewportHeight: vp.height,
		UserAgent:      userAgentPool[intn(len(userAgentPool))],
		Locale:         fingerprintLocale,
		Timezone:       fingerprintTimezone,
	}
}

// DefaultEvasionProfile hides the automation marker and declares the plugin
// and language lists a stock consumer browser would expose.
func DefaultEvasionProfile() autopost.EvasionProfile {
	return autopost.EvasionProfile{
		HideAutomationMarker: true,
		Plugins:              []string{"1", "2", "3", "4", "5"},
		Languages:            []string{"en-US", "en"},
	}
}
