package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCategory represents different log categories
type LogCategory string

const (
	CategoryJob    LogCategory = "job"    // Job phase transitions and outcomes (JSON)
	CategoryQueue  LogCategory = "queue"  // Queue lifecycle events (JSON)
	CategoryError  LogCategory = "error"  // Application errors (JSON)
	CategoryAccess LogCategory = "access" // HTTP access log (JSON)
)

// Categories lists every file-backed category
var Categories = []LogCategory{CategoryJob, CategoryQueue, CategoryError, CategoryAccess}

// ValidCategory reports whether c names a file-backed category
func ValidCategory(c LogCategory) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// MultiLogger provides categorized logging with one JSON file per category
// and day, plus a general console logger
type MultiLogger struct {
	loggers map[LogCategory]*zap.Logger
	files   []*os.File
	general *zap.Logger
	config  MultiLoggerConfig
	mu      sync.RWMutex
}

// MultiLoggerConfig contains configuration for multi-output logging
type MultiLoggerConfig struct {
	Level   string // debug, info, warn, error
	LogsDir string // Directory for log files
}

// NewMultiLogger creates a new multi-output logger. general receives
// console output and may be nil.
func NewMultiLogger(config MultiLoggerConfig, general *zap.Logger) (*MultiLogger, error) {
	if config.LogsDir == "" {
		return nil, fmt.Errorf("logs_dir must be specified")
	}

	if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	if general == nil {
		general = zap.NewNop()
	}

	ml := &MultiLogger{
		loggers: make(map[LogCategory]*zap.Logger),
		general: general,
		config:  config,
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	for _, category := range Categories {
		categoryLevel := level
		if category == CategoryError {
			categoryLevel = zapcore.ErrorLevel
		}
		l, err := ml.createStructuredLogger(category, categoryLevel)
		if err != nil {
			ml.Close()
			return nil, fmt.Errorf("failed to create %s logger: %w", category, err)
		}
		ml.loggers[category] = l
	}

	return ml, nil
}

// createStructuredLogger creates a JSON-formatted logger for a category
func (ml *MultiLogger) createStructuredLogger(category LogCategory, level zapcore.Level) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"
	encoderConfig.LevelKey = "level"
	encoderConfig.CallerKey = ""

	encoder := zapcore.NewJSONEncoder(encoderConfig)

	file, err := os.OpenFile(categoryLogPath(ml.config.LogsDir, category, time.Now()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	ml.files = append(ml.files, file)

	core := zapcore.NewCore(encoder, zapcore.AddSync(file), level)
	return zap.New(core).With(zap.String("category", string(category))), nil
}

// categoryLogPath generates a log file path for a category and day
func categoryLogPath(dir string, category LogCategory, date time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", category, date.Format("20060102")))
}

// GetLogsDir returns the logs directory path
func (ml *MultiLogger) GetLogsDir() string {
	return ml.config.LogsDir
}

// GetLogger returns the structured logger for a specific category
func (ml *MultiLogger) GetLogger(category LogCategory) *zap.Logger {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	if logger, ok := ml.loggers[category]; ok {
		return logger
	}
	return ml.loggers[CategoryError]
}

// Job returns the job logger
func (ml *MultiLogger) Job() *zap.Logger { return ml.GetLogger(CategoryJob) }

// Queue returns the queue logger
func (ml *MultiLogger) Queue() *zap.Logger { return ml.GetLogger(CategoryQueue) }

// Error returns the error logger
func (ml *MultiLogger) Error() *zap.Logger { return ml.GetLogger(CategoryError) }

// Access returns the HTTP access logger
func (ml *MultiLogger) Access() *zap.Logger { return ml.GetLogger(CategoryAccess) }

// General returns the console logger
func (ml *MultiLogger) General() *zap.Logger { return ml.general }

// LogAppError logs an application-level error (Go errors, panics)
func (ml *MultiLogger) LogAppError(msg string, fields ...zap.Field) {
	ml.Error().Error(msg, fields...)
	ml.general.Error(msg, fields...)
}

// LogError logs to a category and mirrors the entry into the error log
func (ml *MultiLogger) LogError(category LogCategory, msg string, fields ...zap.Field) {
	ml.GetLogger(category).Error(msg, fields...)
	if category != CategoryError {
		ml.Error().Error(msg, append(fields, zap.String("source", string(category)))...)
	}
}

// LogQueueEvent logs a queue lifecycle event with structured data
func (ml *MultiLogger) LogQueueEvent(event string, fields ...zap.Field) {
	ml.Queue().Info(event, fields...)
}

// LogJobEvent logs a job lifecycle event with structured data
func (ml *MultiLogger) LogJobEvent(event string, fields ...zap.Field) {
	ml.Job().Info(event, fields...)
}

// Sync flushes all loggers
func (ml *MultiLogger) Sync() error {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	var lastErr error
	for _, logger := range ml.loggers {
		if err := logger.Sync(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close flushes all loggers and closes their files
func (ml *MultiLogger) Close() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var lastErr error
	for _, logger := range ml.loggers {
		if err := logger.Sync(); err != nil {
			lastErr = err
		}
	}
	for _, f := range ml.files {
		if err := f.Close(); err != nil {
			lastErr = err
		}
	}
	ml.files = nil
	return lastErr
}
