package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
	"github.com/missatjuhvdk1/snapbot/internal/metrics"
)

// ProxyChecker verifies proxy reachability before a browser is spent on it.
type ProxyChecker interface {
	Check(ctx context.Context, proxy autopost.Proxy) error
}

// Config controls session acquisition.
type Config struct {
	Headless bool
	// Preflight enables the proxy reachability probe for accounts that
	// carry a proxy.
	Preflight bool
}

// Manager hands out one live browser session per account. The worker pool's
// in-flight set already serializes accounts; the manager re-checks so a
// mis-wired caller fails loudly instead of sharing a browser.
type Manager struct {
	cfg     Config
	driver  autopost.Driver
	checker ProxyChecker
	logger  *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu   sync.Mutex
	open map[string]struct{}
}

// NewManager wires a Manager. checker may be nil to disable preflight.
func NewManager(cfg Config, driver autopost.Driver, checker ProxyChecker, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		driver:  driver,
		checker: checker,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		open:    make(map[string]struct{}),
	}
}

// Session is one live browsing session bound to an account.
type Session struct {
	AccountID   string
	Fingerprint autopost.Fingerprint
	Browser     autopost.DriverSession

	manager     *Manager
	releaseOnce sync.Once
}

// Acquire opens a browser session for the account: proxy preflight, random
// fingerprint, evasion profile, then cookie restore before any navigation.
func (m *Manager) Acquire(ctx context.Context, account autopost.Account) (*Session, error) {
	if err := m.reserve(account.ID); err != nil {
		return nil, err
	}

	if m.cfg.Preflight && m.checker != nil && account.Proxy != nil {
		if err := m.checker.Check(ctx, *account.Proxy); err != nil {
			m.unreserve(account.ID)
			return nil, &autopost.SessionAcquisitionError{AccountID: account.ID, Err: err}
		}
	}

	m.rngMu.Lock()
	fp := RandomFingerprint(m.rng)
	m.rngMu.Unlock()
	browser, err := m.driver.Open(ctx, autopost.OpenOptions{
		AccountID:   account.ID,
		Headless:    m.cfg.Headless,
		Proxy:       account.Proxy,
		Fingerprint: fp,
		Evasion:     DefaultEvasionProfile(),
	})
	if err != nil {
		m.unreserve(account.ID)
		metrics.ObserveSession("failed")
		return nil, &autopost.SessionAcquisitionError{AccountID: account.ID, Err: err}
	}
	metrics.ObserveSession("opened")

	m.restoreCookies(ctx, account, browser)

	return &Session{
		AccountID:   account.ID,
		Fingerprint: fp,
		Browser:     browser,
		manager:     m,
	}, nil
}

// Release closes the browser and frees the account slot. Idempotent.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	s.releaseOnce.Do(func() {
		if err := s.Browser.Close(); err != nil {
			m.logger.Warn("browser session close failed",
				zap.String("account_id", s.AccountID),
				zap.Error(err))
		}
		m.unreserve(s.AccountID)
	})
}

// restoreCookies loads the account's stored cookie set into the fresh
// session. Corrupt or rejected cookies only cost a fresh login, so both
// failure modes log and continue.
func (m *Manager) restoreCookies(ctx context.Context, account autopost.Account, browser autopost.DriverSession) {
	if len(account.Cookies) == 0 {
		return
	}
	var cookies []autopost.Cookie
	if err := json.Unmarshal(account.Cookies, &cookies); err != nil {
		m.logger.Warn("stored cookies unreadable, proceeding without them",
			zap.String("account_id", account.ID),
			zap.Error(err))
		return
	}
	if err := browser.SetCookies(ctx, cookies); err != nil {
		m.logger.Warn("cookie restore failed, proceeding without them",
			zap.String("account_id", account.ID),
			zap.Error(err))
	}
}

func (m *Manager) reserve(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.open[accountID]; exists {
		return &autopost.SessionAcquisitionError{
			AccountID: accountID,
			Err:       fmt.Errorf("account already has an open session"),
		}
	}
	m.open[accountID] = struct{}{}
	return nil
}

func (m *Manager) unreserve(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, accountID)
}
