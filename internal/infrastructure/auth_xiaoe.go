package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yourusername/course-extract-go/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const authOp = "check auth"

// XiaoeAuthChecker verifies a session against the platform identity
// endpoint. Concurrent checks of the same credentials share one request.
type XiaoeAuthChecker struct {
	http   *platformClient
	cfg    domain.XiaoeConfig
	scheme string
	group  singleflight.Group
	logger *zap.Logger
}

// NewXiaoeAuthChecker creates an auth checker
func NewXiaoeAuthChecker(cfg domain.XiaoeConfig, download domain.DownloadConfig, logger *zap.Logger) *XiaoeAuthChecker {
	return &XiaoeAuthChecker{
		http:   newPlatformClient(download, logger),
		cfg:    cfg,
		scheme: "https",
		logger: logger,
	}
}

type userInfo struct {
	Nickname   string `json:"nickname"`
	WxNickname string `json:"wx_nickname"`
	Phone      string `json:"phone"`
}

// CheckAuth reports whether creds hold a live session. Failures are
// returned inside the result, never as a Go error.
func (a *XiaoeAuthChecker) CheckAuth(ctx context.Context, creds domain.Credentials) domain.AuthResult {
	if err := creds.Validate(); err != nil {
		return authFailure(err)
	}

	// The shared request must outlive any single caller's cancellation
	shared := context.WithoutCancel(ctx)
	ch := a.group.DoChan(creds.Fingerprint(), func() (interface{}, error) {
		return a.check(shared, creds), nil
	})

	select {
	case <-ctx.Done():
		return authFailure(domain.WrapError(domain.KindCancelled, authOp, ctx.Err()))
	case res := <-ch:
		return res.Val.(domain.AuthResult)
	}
}

func (a *XiaoeAuthChecker) check(ctx context.Context, creds domain.Credentials) domain.AuthResult {
	host := creds.Host
	if host == "" {
		host = a.cfg.DefaultAPIHost
	}
	endpoint := a.scheme + "://" + host + a.cfg.UserInfoPath

	resp, err := a.http.postJSON(ctx, authOp, endpoint, "", map[string]string{"app_id": creds.AppID}, creds)
	if err != nil {
		a.logger.Warn("Auth check request failed", zap.String("host", host), zap.Error(err))
		if domain.KindOf(err) == domain.KindRateLimited {
			return authFailure(err)
		}
		return authFailure(domain.WrapError(domain.KindPlatformUnreachable, authOp, err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return authFailure(domain.NewError(domain.KindAuthRequired, authOp, "bad credentials"))
	case resp.StatusCode != http.StatusOK:
		return authFailure(domain.NewError(domain.KindPlatformUnreachable, authOp, "platform unreachable"))
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return authFailure(domain.WrapError(domain.KindPlatformUnreachable, authOp, err))
	}
	if env.Code != 0 {
		if isLoginCode(env.Code, env.Msg) {
			return authFailure(domain.NewError(domain.KindAuthRequired, authOp, "bad credentials"))
		}
		a.logger.Warn("Auth check returned an API error",
			zap.String("host", host),
			zap.Int("code", env.Code),
			zap.String("msg", env.Msg))
		return authFailure(domain.NewError(domain.KindPlatformUnreachable, authOp, fmt.Sprintf("platform returned error code %d", env.Code)))
	}

	var info userInfo
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &info); err != nil {
			a.logger.Warn("Failed to decode user profile", zap.String("host", host), zap.Error(err))
		}
	}
	nickname := info.Nickname
	if nickname == "" {
		nickname = info.WxNickname
	}
	return domain.AuthResult{
		Authenticated: true,
		Profile:       &domain.Profile{Nickname: nickname, Phone: info.Phone},
	}
}

func authFailure(err error) domain.AuthResult {
	de := domain.AsError(err)
	return domain.AuthResult{
		Authenticated: false,
		Error:         &domain.AuthError{Kind: de.Kind, Message: de.PublicMessage()},
	}
}
