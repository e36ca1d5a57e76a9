package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/course-extract-go/internal/domain"
	"go.uber.org/zap"
)

func newTestAuthChecker(t *testing.T, handler http.HandlerFunc) (*XiaoeAuthChecker, domain.Credentials) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	checker := NewXiaoeAuthChecker(domain.DefaultConfig().Xiaoe, testDownloadConfig(), zap.NewNop())
	checker.scheme = "http"
	return checker, domain.Credentials{Cookie: "ko_token=abcdef123456", AppID: "appabc", Host: u.Host}
}

func TestXiaoeAuthChecker_Authenticated(t *testing.T) {
	checker, creds := newTestAuthChecker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/xe.user.center.user_info.get/1.0.0", r.URL.Path)
		assert.Equal(t, "ko_token=abcdef123456", r.Header.Get("Cookie"))
		w.Write([]byte(`{"code":0,"msg":"ok","data":{"wx_nickname":"Learner","phone":"138****0000"}}`))
	})

	res := checker.CheckAuth(context.Background(), creds)
	assert.True(t, res.Authenticated)
	require.NotNil(t, res.Profile)
	assert.Equal(t, "Learner", res.Profile.Nickname)
	assert.Equal(t, "138****0000", res.Profile.Phone)
	assert.Nil(t, res.Error)
}

func TestXiaoeAuthChecker_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    domain.ErrorKind
	}{
		{"http 401", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }, domain.KindAuthRequired},
		{"api code", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"code":2001,"msg":"please login"}`)) }, domain.KindAuthRequired},
		{"api forbidden code", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"code":403,"msg":"denied"}`)) }, domain.KindAuthRequired},
		{"api error code", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"code":500,"msg":"system busy"}`)) }, domain.KindPlatformUnreachable},
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, domain.KindPlatformUnreachable},
		{"garbage", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`<html>`)) }, domain.KindPlatformUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker, creds := newTestAuthChecker(t, tt.handler)
			res := checker.CheckAuth(context.Background(), creds)
			assert.False(t, res.Authenticated)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.kind, res.Error.Kind)
		})
	}
}

func TestXiaoeAuthChecker_UndecodableProfileStillAuthenticates(t *testing.T) {
	checker, creds := newTestAuthChecker(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":"not an object"}`))
	})

	res := checker.CheckAuth(context.Background(), creds)
	assert.True(t, res.Authenticated)
	require.NotNil(t, res.Profile)
	assert.Empty(t, res.Profile.Nickname)
}

func TestXiaoeAuthChecker_InvalidCredentials(t *testing.T) {
	var calls atomic.Int32
	checker, _ := newTestAuthChecker(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	res := checker.CheckAuth(context.Background(), domain.Credentials{Cookie: "short"})
	assert.False(t, res.Authenticated)
	assert.Equal(t, domain.KindConfigError, res.Error.Kind)
	assert.Equal(t, int32(0), calls.Load())
}

func TestXiaoeAuthChecker_Unreachable(t *testing.T) {
	checker := NewXiaoeAuthChecker(domain.DefaultConfig().Xiaoe, testDownloadConfig(), zap.NewNop())
	checker.scheme = "http"

	res := checker.CheckAuth(context.Background(), domain.Credentials{Cookie: "ko_token=abcdef123456", Host: "127.0.0.1:1"})
	assert.False(t, res.Authenticated)
	assert.Equal(t, domain.KindPlatformUnreachable, res.Error.Kind)
	assert.NotContains(t, res.Error.Message, "127.0.0.1")
}

func TestXiaoeAuthChecker_CoalescesIdenticalCredentials(t *testing.T) {
	var calls atomic.Int32
	checker, creds := newTestAuthChecker(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"code":0,"data":{"nickname":"n"}}`))
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := checker.CheckAuth(context.Background(), creds)
			assert.True(t, res.Authenticated)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
