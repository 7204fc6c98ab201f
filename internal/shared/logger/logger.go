package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"firestore-sync/internal/shared/contextkeys"

	"github.com/sirupsen/logrus"
)

const (
	logFormatJSON = "json"

	envProduction = "production"
	envProd       = "prod"

	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
	textTimestamp   = "2006-01-02 15:04:05"

	serviceName = "firestore-sync"
)

// Logger defines the interface for structured logging operations
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger
}

// LogrusLogger implements the Logger interface using logrus
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger configured from LOG_LEVEL, LOG_FORMAT and ENVIRONMENT
func NewLogger() Logger {
	format := os.Getenv("LOG_FORMAT")
	if env := os.Getenv("ENVIRONMENT"); env == envProduction || env == envProd {
		format = logFormatJSON
	}
	return newLogger(os.Getenv("LOG_LEVEL"), format, os.Stdout)
}

// NewLoggerWithConfig creates a logger with an explicit level and format
func NewLoggerWithConfig(level string, format string) Logger {
	return newLogger(level, format, os.Stdout)
}

// NewLoggerWithOutput creates a logger writing to out. Mostly useful in tests.
func NewLoggerWithOutput(level string, format string, out io.Writer) Logger {
	return newLogger(level, format, out)
}

func newLogger(level, format string, out io.Writer) Logger {
	base := logrus.New()
	base.SetLevel(parseLevel(level))
	base.SetOutput(out)

	if strings.EqualFold(format, logFormatJSON) {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: textTimestamp,
		})
	}

	return &LogrusLogger{
		entry: base.WithField("service", serviceName),
	}
}

// parseLevel maps the accepted LOG_LEVEL spellings onto logrus levels
func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *LogrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *LogrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *LogrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *LogrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *LogrusLogger) Fatal(args ...interface{}) { l.entry.Fatal(args...) }

func (l *LogrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *LogrusLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// WithFields adds structured fields to the logger
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError attaches err under the standard "error" key
func (l *LogrusLogger) WithError(err error) Logger {
	return &LogrusLogger{entry: l.entry.WithError(err)}
}

// WithContext copies the sync identifiers carried by ctx into log fields
func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	fields := logrus.Fields{}

	addContextField(ctx, contextkeys.InstanceIDKey, "instance_id", fields)
	addContextField(ctx, contextkeys.ConfigIDKey, "config_id", fields)
	addContextField(ctx, contextkeys.DocumentPathKey, "document_path", fields)
	addContextField(ctx, contextkeys.RunIDKey, "run_id", fields)
	addContextField(ctx, contextkeys.ComponentKey, "component", fields)

	return &LogrusLogger{entry: l.entry.WithFields(fields)}
}

// WithComponent adds component name to the logger
func (l *LogrusLogger) WithComponent(component string) Logger {
	return &LogrusLogger{entry: l.entry.WithField("component", component)}
}

func addContextField(ctx context.Context, key interface{}, fieldName string, fields logrus.Fields) {
	if val := ctx.Value(key); val != nil {
		if strVal, ok := val.(string); ok && strVal != "" {
			fields[fieldName] = strVal
		}
	}
}

// nopLogger discards everything
type nopLogger struct{}

// NewNopLogger returns a Logger that drops all output
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(args ...interface{})                          {}
func (nopLogger) Info(args ...interface{})                           {}
func (nopLogger) Warn(args ...interface{})                           {}
func (nopLogger) Error(args ...interface{})                          {}
func (nopLogger) Fatal(args ...interface{})                          {}
func (nopLogger) Debugf(format string, args ...interface{})          {}
func (nopLogger) Infof(format string, args ...interface{})           {}
func (nopLogger) Warnf(format string, args ...interface{})           {}
func (nopLogger) Errorf(format string, args ...interface{})          {}
func (nopLogger) Fatalf(format string, args ...interface{})          {}
func (n nopLogger) WithFields(fields map[string]interface{}) Logger  { return n }
func (n nopLogger) WithError(err error) Logger                       { return n }
func (n nopLogger) WithContext(ctx context.Context) Logger           { return n }
func (n nopLogger) WithComponent(component string) Logger            { return n }
