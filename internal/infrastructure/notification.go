package infrastructure

import (
	"fmt"
	"os/exec"

	"github.com/yourusername/course-extract-go/internal/domain"
	"go.uber.org/zap"
)

// NotificationService sends desktop notifications about job outcomes
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	var err error
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf("display notification %s with title %s", appleScriptString(message), appleScriptString(title))
		err = n.runCommand("osascript", "-e", script)
	case "notify-send":
		err = n.runCommand("notify-send", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}
	return nil
}

func (n *NotificationService) runCommand(name string, args ...string) error {
	n.logger.Debug("Running notification command", zap.String("command", FormatCommand(name, args...)))
	return n.run(name, args...)
}

// NotifyJobQueued sends notification when a job is queued
func (n *NotificationService) NotifyJobQueued(job *domain.Job) {
	n.Send("Job Queued", fmt.Sprintf("Added to queue: %s", truncateString(job.URL, 40)))
}

// NotifyJobFinished sends notification for a terminal job
func (n *NotificationService) NotifyJobFinished(job *domain.Job) {
	name := job.Title
	if name == "" {
		name = truncateString(job.URL, 40)
	}

	switch job.Phase {
	case domain.PhaseSucceeded:
		n.Send("Download Completed", fmt.Sprintf("Success: %s", name))
	case domain.PhasePartial:
		n.Send("Download Partial", fmt.Sprintf("%s: %.0f%% of segments", name, job.CompletionRatio*100))
	default:
		n.Send("Download Failed", fmt.Sprintf("Failed: %s (%s)", name, job.ErrorKind))
	}
}

// NotifyQueueEmpty sends notification when the queue drains
func (n *NotificationService) NotifyQueueEmpty() {
	n.Send("Queue Empty", "All jobs completed")
}

// truncateString shortens s to maxLen runes
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
