package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yourusername/course-extract-go/internal/domain"
)

// RetryPolicy controls retries of platform and CDN requests
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxRateLimitWaits int
	Cooldown          time.Duration
}

// RetryPolicyFromConfig builds a retry policy from download configuration
func RetryPolicyFromConfig(cfg domain.DownloadConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		BaseDelay:         cfg.RetryBaseDelay,
		MaxDelay:          cfg.RetryMaxDelay,
		MaxRateLimitWaits: cfg.MaxRateLimitWaits,
		Cooldown:          cfg.RateLimitCooldown,
	}
}

// Backoff returns the delay before the next attempt, base*2^(attempt-1)
// capped at MaxDelay
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// StatusError is a non-success HTTP response
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// errShortBody marks a body shorter or longer than its Content-Length
var errShortBody = errors.New("body length does not match content-length")

// newHTTPClient creates the client shared by resolvers and fetchers.
// Timeouts are applied per request through contexts.
func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	return &http.Client{Transport: transport}
}

// applyHeaders sets browser-like headers and the session cookie
func applyHeaders(req *http.Request, userAgent, referer string, creds domain.Credentials) {
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	if creds.Cookie != "" {
		req.Header.Set("Cookie", creds.Cookie)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
		if u, err := url.Parse(referer); err == nil && u.Host != "" {
			req.Header.Set("Origin", u.Scheme+"://"+u.Host)
		}
	}
}

// refererFor returns the origin of rawURL as a referer value
func refererFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

// readBody reads a response body and checks it against Content-Length
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return nil, errShortBody
	}
	return body, nil
}

// retryAfter parses a Retry-After header given in seconds or as a date
func retryAfter(header http.Header, fallback time.Duration) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
			return 0
		}
	}
	return fallback
}

// isTransient reports whether a failed attempt may succeed when retried
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, errShortBody) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// kindForStatus maps a terminal HTTP status to an error kind
func kindForStatus(code int) domain.ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.KindAuthRequired
	case code == http.StatusNotFound || code == http.StatusGone:
		return domain.KindNotFound
	case code == http.StatusTooManyRequests:
		return domain.KindRateLimited
	default:
		return domain.KindPlatformUnreachable
	}
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
