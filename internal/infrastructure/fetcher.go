package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/yourusername/course-extract-go/internal/domain"
	"go.uber.org/zap"
)

// SegmentFetcher downloads segments, keys and manifests with per-host
// throttling and retries
type SegmentFetcher struct {
	client    *http.Client
	limiter   *HostLimiter
	policy    RetryPolicy
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
	requests  atomic.Int64
}

// NewSegmentFetcher creates a fetcher. The limiter is shared by every
// request of one job.
func NewSegmentFetcher(client *http.Client, limiter *HostLimiter, cfg domain.DownloadConfig, logger *zap.Logger) *SegmentFetcher {
	if client == nil {
		client = newHTTPClient()
	}
	return &SegmentFetcher{
		client:    client,
		limiter:   limiter,
		policy:    RetryPolicyFromConfig(cfg),
		timeout:   cfg.RequestTimeout,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Requests returns the number of HTTP requests sent so far
func (f *SegmentFetcher) Requests() int64 {
	return f.requests.Load()
}

// Fetch downloads the raw bytes of one segment. Any failure is reported as
// SegmentFetchFailed.
func (f *SegmentFetcher) Fetch(ctx context.Context, d domain.SegmentDescriptor, creds domain.Credentials) ([]byte, error) {
	data, err := f.Get(ctx, d.URI, d.ByteRange, creds)
	if err != nil {
		if errors.Is(err, context.Canceled) || domain.KindOf(err) == domain.KindCancelled {
			return nil, err
		}
		return nil, domain.WrapError(domain.KindSegmentFetchFailed, fmt.Sprintf("fetch segment %d", d.Sequence), err)
	}
	return data, nil
}

// Get downloads rawURL, optionally restricted to a byte range
func (f *SegmentFetcher) Get(ctx context.Context, rawURL string, br *domain.ByteRange, creds domain.Credentials) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, domain.NewError(domain.KindInvalidURL, "get", "invalid url")
	}

	var lastErr error
	rateWaits := 0
	for attempt := 1; attempt <= f.policy.attempts(); {
		if err := ctx.Err(); err != nil {
			return nil, domain.WrapError(domain.KindCancelled, "get", err)
		}
		if f.limiter != nil {
			if err := f.limiter.Acquire(ctx, u.Host); err != nil {
				return nil, domain.WrapError(domain.KindCancelled, "get", err)
			}
		}

		data, resp, err := f.do(ctx, rawURL, br, creds)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			rateWaits++
			if rateWaits > f.policy.MaxRateLimitWaits {
				return nil, domain.WrapError(domain.KindRateLimited, "get", err)
			}
			wait := retryAfter(resp.Header, f.policy.Cooldown)
			f.logger.Debug("Host is rate limiting, pausing",
				zap.String("host", u.Host),
				zap.Duration("wait", wait),
				zap.Int("rate_limit_waits", rateWaits))
			if f.limiter != nil {
				f.limiter.Pause(u.Host, wait)
			} else if err := sleepCtx(ctx, wait); err != nil {
				return nil, domain.WrapError(domain.KindCancelled, "get", err)
			}
			continue
		}

		if ctx.Err() != nil {
			return nil, domain.WrapError(domain.KindCancelled, "get", ctx.Err())
		}
		if !isTransient(err) {
			var se *StatusError
			if errors.As(err, &se) {
				return nil, domain.WrapError(kindForStatus(se.StatusCode), "get", err)
			}
			return nil, domain.WrapError(domain.KindPlatformUnreachable, "get", err)
		}

		if attempt < f.policy.attempts() {
			delay := f.policy.Backoff(attempt)
			f.logger.Debug("Request failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, domain.WrapError(domain.KindCancelled, "get", err)
			}
		}
		attempt++
	}

	return nil, domain.WrapError(domain.KindPlatformUnreachable, "get",
		fmt.Errorf("giving up after %d attempts: %w", f.policy.attempts(), lastErr))
}

func (f *SegmentFetcher) do(ctx context.Context, rawURL string, br *domain.ByteRange, creds domain.Credentials) ([]byte, *http.Response, error) {
	reqCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	applyHeaders(req, f.userAgent, refererFor(rawURL), creds)
	if br != nil {
		req.Header.Set("Range", br.Header())
	}

	f.requests.Add(1)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, resp, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, resp, err
	}

	// Servers that ignore Range send the whole resource
	if br != nil && resp.StatusCode == http.StatusOK {
		end := br.Offset + br.Length
		if end > int64(len(body)) {
			return nil, resp, errShortBody
		}
		body = body[br.Offset:end]
	}
	return body, resp, nil
}
