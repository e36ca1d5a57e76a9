package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/course-extract-go/internal/domain"
	"go.uber.org/zap"
)

func testDownloadConfig() domain.DownloadConfig {
	cfg := domain.DefaultConfig().Download
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.RateLimitCooldown = 5 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	cfg.RatePerHost = 0
	cfg.MaxAttempts = 3
	cfg.MaxRateLimitWaits = 3
	return cfg
}

func newTestFetcher() *SegmentFetcher {
	cfg := testDownloadConfig()
	return NewSegmentFetcher(nil, NewHostLimiter(cfg.RatePerHost, cfg.RateBurst), cfg, zap.NewNop())
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(5))
	assert.Equal(t, time.Second, p.Backoff(50))
}

func TestSegmentFetcher_SendsCookieAndRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ko_token=abcdef123", r.Header.Get("Cookie"))
		assert.Equal(t, "bytes=10-19", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	f := newTestFetcher()
	data, err := f.Get(context.Background(), server.URL+"/a.ts", &domain.ByteRange{Offset: 10, Length: 10},
		domain.Credentials{Cookie: "ko_token=abcdef123"})
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), data)
}

func TestSegmentFetcher_SlicesWhenRangeIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("aaaaabbbbbccccc"))
	}))
	defer server.Close()

	data, err := newTestFetcher().Get(context.Background(), server.URL, &domain.ByteRange{Offset: 5, Length: 5}, domain.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, []byte("bbbbb"), data)
}

func TestSegmentFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newTestFetcher()
	data, err := f.Get(context.Background(), server.URL, nil, domain.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(3), f.Requests())
}

func TestSegmentFetcher_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestFetcher().Fetch(context.Background(), domain.SegmentDescriptor{URI: server.URL}, domain.Credentials{})
	require.Error(t, err)
	assert.Equal(t, domain.KindSegmentFetchFailed, domain.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSegmentFetcher_ClientErrorsAreTerminal(t *testing.T) {
	tests := []struct {
		status int
		kind   domain.ErrorKind
	}{
		{http.StatusNotFound, domain.KindNotFound},
		{http.StatusForbidden, domain.KindAuthRequired},
		{http.StatusBadRequest, domain.KindPlatformUnreachable},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestFetcher().Get(context.Background(), server.URL, nil, domain.Credentials{})
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestSegmentFetcher_RateLimitDoesNotConsumeAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if n <= 5 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("done"))
	}))
	defer server.Close()

	// 3 rate limit waits + 2 failed attempts + 1 success
	data, err := newTestFetcher().Get(context.Background(), server.URL, nil, domain.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), data)
	assert.Equal(t, int32(6), calls.Load())
}

func TestSegmentFetcher_RateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestFetcher().Get(context.Background(), server.URL, nil, domain.Credentials{})
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
}

func TestSegmentFetcher_PausesLimiterOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("x"))
	}))
	defer server.Close()

	cfg := testDownloadConfig()
	cfg.RateLimitCooldown = 80 * time.Millisecond
	f := NewSegmentFetcher(nil, NewHostLimiter(0, 1), cfg, zap.NewNop())

	start := time.Now()
	_, err := f.Get(context.Background(), server.URL, nil, domain.Credentials{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestSegmentFetcher_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestFetcher().Fetch(ctx, domain.SegmentDescriptor{URI: server.URL}, domain.Credentials{})
	require.Error(t, err)
	assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
}

func TestSegmentFetcher_InvalidURL(t *testing.T) {
	_, err := newTestFetcher().Get(context.Background(), "::nope", nil, domain.Credentials{})
	assert.Equal(t, domain.KindInvalidURL, domain.KindOf(err))
}

func TestReadBody_ContentLengthMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("short"))
	}))
	defer server.Close()

	var calls int
	f := newTestFetcher()
	_, err := f.Get(context.Background(), server.URL, nil, domain.Credentials{})
	calls = int(f.Requests())
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
