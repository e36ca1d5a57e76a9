package logger

import (
	"go.uber.org/zap"
)

// LoggerAdapter lets components log by category whether or not file
// logging is configured
type LoggerAdapter struct {
	multiLogger  *MultiLogger
	singleLogger *zap.Logger
}

// NewLoggerAdapter creates an adapter backed by category files
func NewLoggerAdapter(multiLogger *MultiLogger) *LoggerAdapter {
	return &LoggerAdapter{multiLogger: multiLogger}
}

// NewSingleLoggerAdapter creates an adapter that sends every category to one logger
func NewSingleLoggerAdapter(logger *zap.Logger) *LoggerAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggerAdapter{singleLogger: logger}
}

func (la *LoggerAdapter) pick(category LogCategory) *zap.Logger {
	if la.multiLogger != nil {
		return la.multiLogger.GetLogger(category)
	}
	return la.singleLogger
}

// Job returns the job logger
func (la *LoggerAdapter) Job() *zap.Logger { return la.pick(CategoryJob) }

// Queue returns the queue logger
func (la *LoggerAdapter) Queue() *zap.Logger { return la.pick(CategoryQueue) }

// Error returns the error logger
func (la *LoggerAdapter) Error() *zap.Logger { return la.pick(CategoryError) }

// Access returns the access logger
func (la *LoggerAdapter) Access() *zap.Logger { return la.pick(CategoryAccess) }

// General returns the console logger
func (la *LoggerAdapter) General() *zap.Logger {
	if la.multiLogger != nil {
		return la.multiLogger.General()
	}
	return la.singleLogger
}

// LogJobEvent logs a job lifecycle event
func (la *LoggerAdapter) LogJobEvent(event string, fields ...zap.Field) {
	la.Job().Info(event, fields...)
}

// LogQueueEvent logs a queue lifecycle event
func (la *LoggerAdapter) LogQueueEvent(event string, fields ...zap.Field) {
	la.Queue().Info(event, fields...)
}

// LogError logs an error to both category and error logs
func (la *LoggerAdapter) LogError(category LogCategory, msg string, fields ...zap.Field) {
	if la.multiLogger != nil {
		la.multiLogger.LogError(category, msg, fields...)
		return
	}
	la.singleLogger.Error(msg, fields...)
}

// Sync flushes all loggers
func (la *LoggerAdapter) Sync() error {
	if la.multiLogger != nil {
		return la.multiLogger.Sync()
	}
	return la.singleLogger.Sync()
}

// GetMultiLogger returns the underlying multi-logger, or nil
func (la *LoggerAdapter) GetMultiLogger() *MultiLogger {
	return la.multiLogger
}
