package ports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
)

var (
	ErrNotFound     = errors.New("artifact not found")
	ErrUpstreamDown = errors.New("upstream unavailable")
)

// Fetcher downloads port artifacts over HTTP with bounded exponential
// retries and a circuit breaker per host.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries uint64
	baseDelay  time.Duration

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
	stop     chan struct{}
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) FetchOption {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxRetries sets the maximum retry attempts after the first try.
func WithMaxRetries(n uint64) FetchOption {
	return func(f *Fetcher) { f.maxRetries = n }
}

// WithBaseDelay sets the initial backoff interval.
func WithBaseDelay(d time.Duration) FetchOption {
	return func(f *Fetcher) { f.baseDelay = d }
}

// NewFetcher creates a Fetcher whose default client dials through a
// refreshed DNS cache. Call Close to stop the refresher.
func NewFetcher(opts ...FetchOption) *Fetcher {
	resolver := &dnscache.Resolver{}
	f := &Fetcher{
		userAgent:  "ghjk/1.0",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		breakers:   make(map[string]*circuit.Breaker),
		stop:       make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-f.stop:
				return
			}
		}
	}()

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	f.client = &http.Client{
		Timeout: 10 * time.Minute, // toolchains can be large
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
				}
				return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
			},
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close stops the DNS cache refresher.
func (f *Fetcher) Close() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
}

func (f *Fetcher) breaker(host string) *circuit.Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.breakers[host]; ok {
		return b
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 30 * time.Second
	exp.MaxInterval = 5 * time.Minute
	exp.Reset()
	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    exp,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	f.breakers[host] = b
	return b
}

// FetchToFile downloads rawURL into dest, retrying transient failures.
func (f *Fetcher) FetchToFile(ctx context.Context, rawURL, dest string) error {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	br := f.breaker(host)
	if !br.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.baseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, f.maxRetries), ctx)

	return br.Call(func() error {
		return backoff.Retry(func() error {
			err := f.fetchOnce(ctx, rawURL, dest)
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}, policy)
	}, 0)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", rawURL, ErrNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: status %d: %w", rawURL, resp.StatusCode, ErrUpstreamDown)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s: unexpected status %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
