package domain

import (
	"path/filepath"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Download     DownloadConfig     `mapstructure:"download"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Xiaoe        XiaoeConfig        `mapstructure:"xiaoe"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Per-action throttle for POST /api/v1/actions
	ActionRate  float64 `mapstructure:"action_rate"`
	ActionBurst int     `mapstructure:"action_burst"`
}

// DownloadConfig contains segment download and assembly configuration
type DownloadConfig struct {
	BaseDir               string        `mapstructure:"base_dir"`
	MaxConcurrentSegments int           `mapstructure:"max_concurrent_segments"`
	MaxAttempts           int           `mapstructure:"max_attempts"`
	MaxRateLimitWaits     int           `mapstructure:"max_rate_limit_waits"`
	RetryBaseDelay        time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay         time.Duration `mapstructure:"retry_max_delay"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ResolveTimeout        time.Duration `mapstructure:"resolve_timeout"`
	RatePerHost           float64       `mapstructure:"rate_per_host"`
	RateBurst             int           `mapstructure:"rate_burst"`
	RateLimitCooldown     time.Duration `mapstructure:"rate_limit_cooldown"`
	SuccessThreshold      float64       `mapstructure:"success_threshold"`
	PartialThreshold      float64       `mapstructure:"partial_threshold"`
	UserAgent             string        `mapstructure:"user_agent"`
}

// OutputDir returns the directory assembled artifacts are written to
func (c DownloadConfig) OutputDir() string {
	return filepath.Join(c.BaseDir, "output")
}

// LogsDir returns the directory category logs are written to
func (c DownloadConfig) LogsDir() string {
	return filepath.Join(c.BaseDir, "logs")
}

// ConfigDir returns the directory holding the job database
func (c DownloadConfig) ConfigDir() string {
	return filepath.Join(c.BaseDir, "config")
}

// Thresholds returns the acceptance thresholds for completion ratios
func (c DownloadConfig) Thresholds() Thresholds {
	return Thresholds{Success: c.SuccessThreshold, Partial: c.PartialThreshold}
}

// QueueConfig contains queue-related configuration
type QueueConfig struct {
	DatabasePath    string        `mapstructure:"database_path"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	MaxParallelJobs int           `mapstructure:"max_parallel_jobs"`
	AutoStart       bool          `mapstructure:"auto_start"`
}

// XiaoeConfig contains Xiaoe-Tech platform configuration. The credential
// fields are only defaults for callers that do not supply their own.
type XiaoeConfig struct {
	Cookie           string `mapstructure:"cookie"`
	AppID            string `mapstructure:"app_id"`
	Host             string `mapstructure:"host"`
	DefaultAPIHost   string `mapstructure:"default_api_host"`
	UserInfoPath     string `mapstructure:"user_info_path"`
	CourseDetailPath string `mapstructure:"course_detail_path"`
	ResourceType     int    `mapstructure:"resource_type"`
}

// Credentials returns the configured default credentials
func (c XiaoeConfig) Credentials() Credentials {
	return Credentials{Cookie: c.Cookie, AppID: c.AppID, Host: c.Host}
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "localhost",
			Port:        8080,
			ActionRate:  2,
			ActionBurst: 5,
		},
		Download: DownloadConfig{
			BaseDir:               "$HOME/Downloads/course-extract",
			MaxConcurrentSegments: 8,
			MaxAttempts:           4,
			MaxRateLimitWaits:     5,
			RetryBaseDelay:        500 * time.Millisecond,
			RetryMaxDelay:         10 * time.Second,
			RequestTimeout:        60 * time.Second,
			ResolveTimeout:        15 * time.Second,
			RatePerHost:           10,
			RateBurst:             5,
			RateLimitCooldown:     5 * time.Second,
			SuccessThreshold:      0.80,
			PartialThreshold:      0.50,
			UserAgent:             "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Queue: QueueConfig{
			DatabasePath:    "$HOME/Downloads/course-extract/config/jobs.db",
			CheckInterval:   2 * time.Second,
			MaxParallelJobs: 2,
			AutoStart:       true,
		},
		Xiaoe: XiaoeConfig{
			DefaultAPIHost:   "h5.xiaoeknow.com",
			UserInfoPath:     "/xe.user.center.user_info.get/1.0.0",
			CourseDetailPath: "/xe.course.business.course_detail.get/1.0.0",
			ResourceType:     6,
		},
		Notification: NotificationConfig{
			Enabled: false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
