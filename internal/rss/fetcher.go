// Package rss provides feed fetching and parsing.
package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Fetch defaults.
const (
	DefaultMaxRetries = 5
	DefaultTimeout    = 15 * time.Second

	initialBackoff = 1 * time.Second
	maxBackoff     = 20 * time.Second
	jitterMin      = 2 * time.Second
	jitterMax      = 10 * time.Second

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 20 << 20
)

// Per-host politeness settings
const (
	// MaxConcurrencyPerDomain limits parallel requests to any single host
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum spacing between requests to the same host
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

// userAgents is the pool used when a request carries no user agent.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.67",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// ErrEmptyBody is returned by FetchOnce when the server answered with no content.
var ErrEmptyBody = errors.New("empty response body")

// StatusError is returned by FetchOnce for HTTP status codes >= 400.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Request describes one fetch.
type Request struct {
	URL        string
	Timeout    time.Duration // DefaultTimeout when zero
	MaxRetries int           // DefaultMaxRetries when zero
	UserAgent  string        // picked from the pool when empty
	Proxy      string        // optional proxy URL
}

// AttemptObserver is notified after every single fetch attempt.
type AttemptObserver func(host string, err error)

// domainLimiter caps concurrent requests per host and spaces them out.
type domainLimiter struct {
	mu         sync.Mutex
	semaphores map[string]chan struct{}
	limiters   map[string]*rate.Limiter
	interval   time.Duration
}

func newDomainLimiter(interval time.Duration) *domainLimiter {
	return &domainLimiter{
		semaphores: make(map[string]chan struct{}),
		limiters:   make(map[string]*rate.Limiter),
		interval:   interval,
	}
}

// acquire gets a slot for the host, blocking if necessary.
func (dl *domainLimiter) acquire(ctx context.Context, host string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[host]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[host] = sem
	}
	lim, ok := dl.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(dl.interval), 1)
		dl.limiters[host] = lim
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := lim.Wait(ctx); err != nil {
		<-sem
		return err
	}
	return nil
}

// release returns a slot for the host.
func (dl *domainLimiter) release(host string) {
	dl.mu.Lock()
	sem := dl.semaphores[host]
	dl.mu.Unlock()
	if sem != nil {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// Fetcher performs HTTP GETs with retries, user-agent rotation and
// per-host politeness.
type Fetcher struct {
	client  *http.Client
	limiter *domainLimiter
	logger  *slog.Logger
	observe AttemptObserver

	newBackOff func() backoff.BackOff

	proxyMu sync.Mutex
	proxies map[string]*http.Client
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// WithAttemptObserver registers a callback run after each attempt.
func WithAttemptObserver(o AttemptObserver) FetcherOption {
	return func(f *Fetcher) { f.observe = o }
}

// WithHostInterval sets the minimum spacing between requests to one host.
func WithHostInterval(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.limiter = newDomainLimiter(d) }
}

// withBackOff replaces the retry policy. Used by tests.
func withBackOff(fn func() backoff.BackOff) FetcherOption {
	return func(f *Fetcher) { f.newBackOff = fn }
}

// NewFetcher creates a fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{},
		limiter: newDomainLimiter(DelayBetweenDomainRequests),
		logger:  slog.Default(),
		proxies: make(map[string]*http.Client),
	}
	f.newBackOff = func() backoff.BackOff { return newRetryPolicy(randomJitter) }
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func randomJitter() time.Duration {
	return jitterMin + rand.N(jitterMax-jitterMin)
}

// retryPolicy doubles the delay from initialBackoff. A delay that would
// exceed maxBackoff is replaced with a random one so concurrent retries
// spread out, and doubling resumes from there.
type retryPolicy struct {
	next   time.Duration
	jitter func() time.Duration
}

func newRetryPolicy(jitter func() time.Duration) *retryPolicy {
	return &retryPolicy{next: initialBackoff, jitter: jitter}
}

func (p *retryPolicy) Reset() {
	p.next = initialBackoff
}

func (p *retryPolicy) NextBackOff() time.Duration {
	d := p.next
	p.next *= 2
	if p.next > maxBackoff {
		p.next = p.jitter()
	}
	return d
}

// RandomUserAgent returns a browser user agent from the pool.
func RandomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// Fetch retrieves the body of req.URL, retrying failures with backoff.
// It never returns an error: an empty string means no content could be
// obtained, either because all attempts failed or ctx was cancelled.
func (f *Fetcher) Fetch(ctx context.Context, req Request) string {
	attempts := req.MaxRetries
	if attempts < 1 {
		attempts = DefaultMaxRetries
	}
	attempt := 0
	body, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		body, err := f.FetchOnce(ctx, req)
		if err != nil && ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return body, err
	},
		backoff.WithBackOff(f.newBackOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Debug("fetch attempt failed", "url", req.URL, "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("fetch gave up", "url", req.URL, "attempts", attempt, "error", err)
		}
		return ""
	}
	return body
}

// FetchOnce performs a single attempt and reports its error.
func (f *Fetcher) FetchOnce(ctx context.Context, req Request) (string, error) {
	host := extractDomain(req.URL)
	if err := f.limiter.acquire(ctx, host); err != nil {
		return "", fmt.Errorf("rate limit cancelled for %s: %w", req.URL, err)
	}
	defer f.limiter.release(host)

	body, err := f.do(ctx, req)
	if f.observe != nil {
		f.observe(host, err)
	}
	return body, err
}

func (f *Fetcher) do(ctx context.Context, req Request) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	ua := req.UserAgent
	if ua == "" {
		ua = RandomUserAgent()
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Referer", httpReq.URL.Scheme+"://"+httpReq.URL.Host+"/")

	client, err := f.clientFor(req.Proxy)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", &StatusError{Code: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", ErrEmptyBody
	}
	return string(b), nil
}

// clientFor returns a client routing through proxy, cached per proxy URL.
func (f *Fetcher) clientFor(proxy string) (*http.Client, error) {
	if proxy == "" {
		return f.client, nil
	}
	f.proxyMu.Lock()
	defer f.proxyMu.Unlock()
	if c, ok := f.proxies[proxy]; ok {
		return c, nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
	}
	c := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}
	f.proxies[proxy] = c
	return c, nil
}
