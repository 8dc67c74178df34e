// Package logutil adapts containerd/log to the key/value Logger interface
// of package inplace and configures the process wide log output.
package logutil

import (
	"context"
	"fmt"

	"github.com/containerd/log"
	"github.com/moffa90/go-qpatch/inplace"
	"github.com/sirupsen/logrus"
)

var _ inplace.Logger = (*Logger)(nil)

// Logger forwards key/value log calls to a containerd/log entry.
type Logger struct {
	entry *log.Entry
}

// New returns a Logger for the entry carried by ctx.
func New(ctx context.Context) *Logger {
	return &Logger{entry: log.G(ctx)}
}

// FromEntry returns a Logger writing to entry.
func FromEntry(entry *log.Entry) *Logger {
	return &Logger{entry: entry}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l *Logger) with(keysAndValues []interface{}) *log.Entry {
	if len(keysAndValues) == 0 {
		return l.entry
	}
	return l.entry.WithFields(Fields(keysAndValues...))
}

// Fields turns alternating keys and values into log fields. A trailing key
// without a value is logged under "extra".
func Fields(keysAndValues ...interface{}) log.Fields {
	fields := make(log.Fields, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 == len(keysAndValues) {
			fields["extra"] = keysAndValues[i]
			break
		}
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}

// Configure sets the global log level and output format ("text" or "json").
// An empty value keeps the current setting.
func Configure(level, format string) error {
	if level != "" {
		if err := log.SetLevel(level); err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
	}
	switch log.OutputFormat(format) {
	case "":
	case log.TextFormat:
		log.L.Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: log.RFC3339NanoFixed,
		})
	case log.JSONFormat:
		return log.SetFormat(log.JSONFormat)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
