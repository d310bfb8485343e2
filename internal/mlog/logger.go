// Package mlog provides a context-carried leveled logger backed by logrus,
// in the same shape as distribution/context's logger but attached to the
// standard library's context.Context rather than a custom copy of it.
package mlog

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Logger is a leveled logging interface, matching the subset of logrus's
// *Entry methods that callers in this repository use.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
}

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithFields returns a copy of ctx whose logger has the given fields
// attached. If ctx carries no *logrus.Entry logger, the standard logrus
// logger is used as the base.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return WithLogger(ctx, entryFrom(ctx).WithFields(fields))
}

// Get returns the logger carried by ctx, or the standard logrus logger if
// none was attached.
func Get(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return entryFrom(ctx)
}

func entryFrom(ctx context.Context) *logrus.Entry {
	if logger, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
