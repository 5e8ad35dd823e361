// Package telemetrylog provides the five-level logging facade every
// component in this module is configured with, mirroring the teacher's
// injected LogFunc fields (store.logCritical, store.logError,
// store.logWarning, store.logInfo, store.logDebug in valuestore_GEN_.go)
// but backed by a real structured logger instead of the bare
// `func(format string, v ...interface{})` the teacher used.
package telemetrylog

import "go.uber.org/zap"

// LogFunc matches the teacher's package.go LogFunc signature exactly, so
// call sites written against the teacher's idiom ("store.logError(...)")
// port over unchanged.
type LogFunc func(format string, v ...interface{})

// Logger bundles the five severities components are configured with,
// exactly the fields DefaultValueStore carries (logCritical, logError,
// logWarning, logInfo, logDebug).
type Logger struct {
	Critical LogFunc
	Error    LogFunc
	Warning  LogFunc
	Info     LogFunc
	Debug    LogFunc
}

// NewZap builds a Logger backed by the given zap.SugaredLogger.
func NewZap(z *zap.SugaredLogger) *Logger {
	return &Logger{
		Critical: func(format string, v ...interface{}) { z.Errorf("CRITICAL: "+format, v...) },
		Error:    z.Errorf,
		Warning:  z.Warnf,
		Info:     z.Infof,
		Debug:    z.Debugf,
	}
}

// NewNop builds a Logger that discards everything, for tests and for
// components that do not care to be told.
func NewNop() *Logger {
	noop := func(string, ...interface{}) {}
	return &Logger{Critical: noop, Error: noop, Warning: noop, Info: noop, Debug: noop}
}

// NewProduction builds a Logger backed by zap's production configuration,
// suitable for cmd/compactord.
func NewProduction() (*Logger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZap(base.Sugar()), nil
}
