package errors

import (
	stderrors "errors"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with structured error logging
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a new structured logger
func NewLogger() *Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{Logger: logger}
}

// FromLogrus wraps an existing logrus logger.
func FromLogrus(l *logrus.Logger) *Logger {
	return &Logger{Logger: l}
}

// LogError logs an error with structured context
func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	l.entryFor(err, fields...).Error(message)
}

// LogWarn logs a warning with structured context
func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	l.entryFor(err, fields...).Warn(message)
}

// LogRetryableError logs a retryable error at warn level, non-retryable at error level
func (l *Logger) LogRetryableError(err error, message string, fields ...logrus.Fields) {
	if IsRetryable(err) {
		l.LogWarn(err, message, fields...)
	} else {
		l.LogError(err, message, fields...)
	}
}

// WithError adds an error and its AppError context to subsequent log entries
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entryFor(err)
}

func (l *Logger) entryFor(err error, fields ...logrus.Fields) *logrus.Entry {
	entry := l.Logger.WithError(err)

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})
		for k, v := range appErr.Context {
			entry = entry.WithField(k, v)
		}
	}

	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	return entry
}
