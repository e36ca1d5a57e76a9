package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/yourusername/course-extract-go/internal/domain"
)

// EnvPrefix is the prefix of environment overrides, e.g. COURSEEXTRACT_XIAOE_COOKIE
const EnvPrefix = "COURSEEXTRACT"

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search the standard locations
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.course-extract")
		v.AddConfigPath("/etc/course-extract")
	}

	// Environment overrides win over the file
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file means defaults plus environment
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnvKeys registers keys that have no config file entry so that
// AutomaticEnv picks them up during Unmarshal
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"xiaoe.cookie", "xiaoe.app_id", "xiaoe.host",
		"server.host", "server.port",
		"download.base_dir", "download.max_concurrent_segments",
		"download.success_threshold", "download.partial_threshold",
		"queue.database_path", "queue.max_parallel_jobs",
		"logging.level",
	} {
		_ = v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.BaseDir = expandPath(config.Download.BaseDir)
	config.Queue.DatabasePath = expandPath(config.Queue.DatabasePath)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Download
	d := config.Download
	if d.BaseDir == "" {
		return fmt.Errorf("download base directory not configured")
	}
	if d.MaxConcurrentSegments < 1 {
		return fmt.Errorf("max concurrent segments must be at least 1")
	}
	if d.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if d.MaxRateLimitWaits < 0 {
		return fmt.Errorf("max rate limit waits cannot be negative")
	}
	if d.PartialThreshold <= 0 || d.PartialThreshold > d.SuccessThreshold || d.SuccessThreshold > 1 {
		return fmt.Errorf("thresholds must satisfy 0 < partial (%.2f) <= success (%.2f) <= 1",
			d.PartialThreshold, d.SuccessThreshold)
	}

	// Queue
	if config.Queue.DatabasePath == "" {
		return fmt.Errorf("queue database path not configured")
	}
	if config.Queue.MaxParallelJobs < 1 {
		return fmt.Errorf("max parallel jobs must be at least 1")
	}
	if config.Queue.CheckInterval <= 0 {
		return fmt.Errorf("queue check interval must be positive")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file. Session cookies are not written.
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	xiaoe := config.Xiaoe
	xiaoe.Cookie = ""

	v.Set("server", config.Server)
	v.Set("download", config.Download)
	v.Set("queue", config.Queue)
	v.Set("xiaoe", xiaoe)
	v.Set("notification", config.Notification)
	v.Set("logging", config.Logging)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
