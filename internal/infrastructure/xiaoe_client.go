package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/yourusername/course-extract-go/internal/domain"
	"go.uber.org/zap"
)

// platformResponse is a completed platform HTTP exchange
type platformResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   *url.URL
}

// platformClient sends platform API and page requests with the fetch
// backoff policy. Non-2xx statuses other than 429 and 5xx are returned
// to the caller for interpretation.
type platformClient struct {
	client    *http.Client
	policy    RetryPolicy
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
}

func newPlatformClient(cfg domain.DownloadConfig, logger *zap.Logger) *platformClient {
	return &platformClient{
		client:    newHTTPClient(),
		policy:    RetryPolicyFromConfig(cfg),
		timeout:   cfg.ResolveTimeout,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

func (c *platformClient) postJSON(ctx context.Context, op, endpoint, referer string, payload interface{}, creds domain.Credentials) (*platformResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, op, err)
	}
	return c.send(ctx, op, http.MethodPost, endpoint, referer, body, creds)
}

func (c *platformClient) get(ctx context.Context, op, endpoint string, creds domain.Credentials) (*platformResponse, error) {
	return c.send(ctx, op, http.MethodGet, endpoint, endpoint, nil, creds)
}

func (c *platformClient) send(ctx context.Context, op, method, endpoint, referer string, body []byte, creds domain.Credentials) (*platformResponse, error) {
	var lastErr error
	rateWaits := 0
	for attempt := 1; attempt <= c.policy.attempts(); {
		resp, err := c.once(ctx, method, endpoint, referer, body, creds)
		if ctx.Err() != nil {
			return nil, domain.WrapError(domain.KindCancelled, op, ctx.Err())
		}

		switch {
		case err == nil && resp.StatusCode == http.StatusTooManyRequests:
			rateWaits++
			if rateWaits > c.policy.MaxRateLimitWaits {
				return nil, domain.NewError(domain.KindRateLimited, op, "platform is throttling requests")
			}
			wait := retryAfter(resp.Header, c.policy.Cooldown)
			c.logger.Debug("Platform is rate limiting, waiting",
				zap.String("op", op),
				zap.Duration("wait", wait))
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, domain.WrapError(domain.KindCancelled, op, err)
			}
			continue
		case err == nil && resp.StatusCode >= 500:
			lastErr = &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
		case err == nil:
			return resp, nil
		case !isTransient(err):
			return nil, domain.WrapError(domain.KindPlatformUnreachable, op, err)
		default:
			lastErr = err
		}

		if attempt < c.policy.attempts() {
			if err := sleepCtx(ctx, c.policy.Backoff(attempt)); err != nil {
				return nil, domain.WrapError(domain.KindCancelled, op, err)
			}
		}
		attempt++
	}
	return nil, domain.WrapError(domain.KindPlatformUnreachable, op, lastErr)
}

func (c *platformClient) once(ctx context.Context, method, endpoint, referer string, body []byte, creds domain.Credentials) (*platformResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, c.userAgent, referer, creds)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/plain, */*")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	return &platformResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: data, FinalURL: resp.Request.URL}, nil
}

// apiEnvelope is the common platform API response
type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

var jsonpPattern = regexp.MustCompile(`(?s)^[\w$.]+\s*\((.*)\)\s*;?\s*$`)

// decodeEnvelope decodes a JSON or JSONP response body
func decodeEnvelope(body []byte) (*apiEnvelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		m := jsonpPattern.FindSubmatch(trimmed)
		if m == nil {
			return nil, errors.New("response is neither json nor jsonp")
		}
		trimmed = m[1]
	}
	var env apiEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &env, nil
}

// isLoginCode reports whether an API code or message asks for a login
func isLoginCode(code int, msg string) bool {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "login") || strings.Contains(msg, "登录")
}

// isLoginPage reports whether a request was redirected to a login page
func isLoginPage(u *url.URL) bool {
	if u == nil {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.Contains(p, "login") || strings.Contains(strings.ToLower(u.Host), "login")
}
