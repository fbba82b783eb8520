// Package proxycheck verifies that an account's proxy is reachable before a
// browser session is spent on it.
package proxycheck

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

// Config controls the preflight collector.
type Config struct {
	// CheckURL is the probe target. It should be a cheap, highly available
	// endpoint; a 204 generator works well.
	CheckURL string
	Timeout  time.Duration
}

// Checker probes proxies with a throwaway Colly collector per check so proxy
// bindings never leak between accounts.
type Checker struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Checker.
func New(cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &Checker{cfg: cfg, baseCollector: c}
}

// Check fetches the probe URL through the proxy. A nil error means the proxy
// answered with any HTTP status; transport failures and timeouts fail.
func (c *Checker) Check(ctx context.Context, proxy autopost.Proxy) error {
	collector := c.baseCollector.Clone()
	collector.SetRequestTimeout(c.cfg.Timeout)
	if err := collector.SetProxy(ProxyURL(proxy)); err != nil {
		return fmt.Errorf("configure proxy %s: %w", proxy.Host, err)
	}

	var checkErr error
	collector.OnError(func(resp *colly.Response, err error) {
		// Any HTTP status means the proxy relayed the request.
		if resp != nil && resp.StatusCode > 0 {
			return
		}
		checkErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(c.cfg.CheckURL); err != nil && checkErr == nil {
			checkErr = err
		}
		collector.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("proxy check canceled: %w", ctx.Err())
	}
	if checkErr != nil {
		return fmt.Errorf("proxy %s unreachable: %w", proxy.Host, checkErr)
	}
	return nil
}

// ProxyURL renders the full proxy URL including credentials when present.
func ProxyURL(p autopost.Proxy) string {
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	u := url.URL{
		Scheme: protocol,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}
