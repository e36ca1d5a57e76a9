package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/pkg/logger"
	"go.uber.org/zap"
)

// Supported actions
const (
	ActionParseVideoURL = "parse_video_url"
	ActionDownloadVideo = "download_video_from_url"
	ActionTestXiaoeAuth = "test_xiaoe_auth"
)

// Actions lists the supported action names
var Actions = []string{ActionParseVideoURL, ActionDownloadVideo, ActionTestXiaoeAuth}

// AuthChecker verifies platform credentials
type AuthChecker interface {
	CheckAuth(ctx context.Context, creds domain.Credentials) domain.AuthResult
}

// ActionRequest is one call of the external interface
type ActionRequest struct {
	Action      string             `json:"action"`
	URL         string             `json:"url"`
	Credentials domain.Credentials `json:"credentials"`
	Async       bool               `json:"async"`
}

// ActionResponse carries the output of exactly one action
type ActionResponse struct {
	Action string             `json:"action"`
	Source *domain.SourceInfo `json:"source,omitempty"`
	Result *domain.JobResult  `json:"result,omitempty"`
	Job    *domain.Job        `json:"job,omitempty"`
	Auth   *domain.AuthResult `json:"auth,omitempty"`
}

// ActionDispatcher routes actions to the job controller, the queue and the
// auth checker
type ActionDispatcher struct {
	jobMgr   *JobManager
	queueMgr *QueueManager
	auth     AuthChecker
	defaults domain.Credentials
	logger   *zap.Logger
}

// NewActionDispatcher creates a dispatcher. defaults fill credential fields
// the caller leaves empty.
func NewActionDispatcher(jobMgr *JobManager, queueMgr *QueueManager, auth AuthChecker, defaults domain.Credentials, logger *zap.Logger) *ActionDispatcher {
	return &ActionDispatcher{
		jobMgr:   jobMgr,
		queueMgr: queueMgr,
		auth:     auth,
		defaults: defaults,
		logger:   logger,
	}
}

// Dispatch runs one action. Failures are returned as *domain.Error; a
// download that ran but did not succeed is reported in the result instead.
func (d *ActionDispatcher) Dispatch(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	creds := req.Credentials.Merge(d.defaults)
	rawURL := strings.TrimSpace(req.URL)

	d.logger.Debug("Dispatching action",
		zap.String("action", req.Action),
		zap.String("url", rawURL),
		zap.String("cookie", logger.Redact(creds.Cookie)),
		zap.Bool("async", req.Async))

	switch req.Action {
	case ActionParseVideoURL:
		if rawURL == "" {
			return nil, domain.NewError(domain.KindInvalidURL, req.Action, "url is required")
		}
		info, err := d.jobMgr.Controller().Inspect(ctx, rawURL, creds)
		if err != nil {
			return nil, err
		}
		return &ActionResponse{Action: req.Action, Source: info}, nil

	case ActionDownloadVideo:
		return d.download(ctx, req, rawURL, creds)

	case ActionTestXiaoeAuth:
		result := d.auth.CheckAuth(ctx, creds)
		return &ActionResponse{Action: req.Action, Auth: &result}, nil

	default:
		return nil, domain.NewError(domain.KindConfigError, "dispatch",
			fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (d *ActionDispatcher) download(ctx context.Context, req ActionRequest, rawURL string, creds domain.Credentials) (*ActionResponse, error) {
	if rawURL == "" {
		return nil, domain.NewError(domain.KindInvalidURL, req.Action, "url is required")
	}

	// Reject bad links before a job row exists
	class, err := d.jobMgr.Controller().Classify(rawURL)
	if err != nil {
		return nil, err
	}
	if class.Kind == domain.LinkNeedsResolution {
		if err := creds.Validate(); err != nil {
			return nil, err
		}
	}

	if req.Async {
		if d.queueMgr == nil {
			return nil, domain.NewError(domain.KindConfigError, req.Action, "queue is not available")
		}
		job, err := d.queueMgr.AddJob(class.URL, creds)
		if err != nil {
			return nil, domain.WrapError(domain.KindInternal, req.Action, err)
		}
		return &ActionResponse{Action: req.Action, Job: job}, nil
	}

	job, result, err := d.jobMgr.RunSync(ctx, class.URL, creds)
	if err != nil && result == nil {
		return nil, domain.WrapError(domain.KindInternal, req.Action, err)
	}
	if err != nil {
		d.logger.Warn("Job finished but could not be saved", zap.Error(err))
	}
	return &ActionResponse{Action: req.Action, Result: result, Job: job}, nil
}
