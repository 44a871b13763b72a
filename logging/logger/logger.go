// Package logger provides the structured logger used across the export
// engine. It wraps logrus with context-aware helpers and optional hooks.
package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	Level      int    // logrus level, 0 panic .. 6 trace
	Format     string // "json" or "text"
	Output     string // "stdout", "stderr" or "file"
	OutputFile string // used when Output is "file"
	SentryDSN  string // enables the Sentry hook when non-empty
}

// Logger wraps logrus with context-aware key/value logging.
type Logger struct {
	*logrus.Logger
	logFile *os.File
	logPath string
}

var (
	standardLogger *Logger
	once           sync.Once
)

// StdLogger returns the process-wide logger instance.
func StdLogger() *Logger {
	once.Do(func() {
		standardLogger = &Logger{Logger: logrus.New()}
		standardLogger.SetFormatter(&logrus.JSONFormatter{})
	})
	return standardLogger
}

// New configures the standard logger and returns a cleanup function.
func New(c *Config) (func(), error) {
	l := StdLogger()
	if c == nil {
		return func() {}, nil
	}

	if c.Level > 0 {
		l.SetLevel(logrus.Level(c.Level))
	}

	switch c.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	switch c.Output {
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		l.logPath = c.OutputFile
		if l.logPath != "" {
			if err := l.setupLogFile(); err != nil {
				return nil, err
			}
		}
	default:
		l.SetOutput(os.Stdout)
	}

	if c.SentryDSN != "" {
		hook, err := newSentryHook(c.SentryDSN)
		if err != nil {
			return nil, fmt.Errorf("error initializing sentry hook: %w", err)
		}
		l.AddHook(hook)
	}

	return func() {
		if l.logFile != nil {
			_ = l.logFile.Close()
		}
	}, nil
}

func (l *Logger) setupLogFile() error {
	if err := os.MkdirAll(filepath.Dir(l.logPath), 0777); err != nil {
		return err
	}

	logFilePath := fmt.Sprintf("%s.%s.log", strings.TrimSuffix(l.logPath, ".log"), time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0666)
	if err != nil {
		return err
	}

	l.logFile = f
	l.SetOutput(l.logFile)
	return nil
}

// entryFromContext creates a log entry carrying context fields.
func (l *Logger) entryFromContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}
	if jobID := JobIDFromContext(ctx); jobID != "" {
		fields["job_id"] = jobID
	}
	return l.WithFields(fields)
}

// fieldsFromPairs converts alternating key/value args to logrus fields.
func fieldsFromPairs(kv []any) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields[key] = kv[i+1]
	}
	return fields
}

// Debug logs a debug message with key/value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, kv ...any) {
	l.entryFromContext(ctx).WithFields(fieldsFromPairs(kv)).Debug(msg)
}

// Info logs an info message with key/value pairs.
func (l *Logger) Info(ctx context.Context, msg string, kv ...any) {
	l.entryFromContext(ctx).WithFields(fieldsFromPairs(kv)).Info(msg)
}

// Warn logs a warning message with key/value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, kv ...any) {
	l.entryFromContext(ctx).WithFields(fieldsFromPairs(kv)).Warn(msg)
}

// Error logs an error message with key/value pairs.
func (l *Logger) Error(ctx context.Context, msg string, kv ...any) {
	l.entryFromContext(ctx).WithFields(fieldsFromPairs(kv)).Error(msg)
}
