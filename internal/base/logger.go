package base

import "go.uber.org/zap"

// Logger is the seam every package in this module logs through. It is
// intentionally narrow (Infof/Errorf) rather than exposing a full
// structured-logging API to callers who only ever construct a Session,
// not a *zap.Logger.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// nopLogger discards everything. It is the default so that using this
// module as a library never forces log output on a caller who didn't
// ask for it.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// NopLogger returns a Logger that discards all messages.
func NopLogger() Logger { return nopLogger{} }

// ZapLogger adapts a *zap.SugaredLogger to Logger.
type ZapLogger struct {
	S *zap.SugaredLogger
}

func (z ZapLogger) Infof(format string, args ...interface{}) {
	z.S.Infof(format, args...)
}

func (z ZapLogger) Errorf(format string, args ...interface{}) {
	z.S.Errorf(format, args...)
}

// DefaultLogger returns a Logger backed by a production zap logger. It is
// used by cmd/tiledb-bench; library callers of Session get NopLogger
// unless they pass their own via sortedread.WithLogger.
func DefaultLogger() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return NopLogger()
	}
	return ZapLogger{S: l.Sugar()}
}
