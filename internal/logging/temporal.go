package logging

import (
	tlog "go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// temporalAdapter lets the Temporal SDK log through zap.
type temporalAdapter struct {
	s *zap.SugaredLogger
}

// Temporal returns the logger in the shape the Temporal SDK expects.
func (l *Logger) Temporal() tlog.Logger {
	return &temporalAdapter{s: l.zap.Named("temporal").Sugar()}
}

func (a *temporalAdapter) Debug(msg string, keyvals ...interface{}) { a.s.Debugw(msg, keyvals...) }
func (a *temporalAdapter) Info(msg string, keyvals ...interface{})  { a.s.Infow(msg, keyvals...) }
func (a *temporalAdapter) Warn(msg string, keyvals ...interface{})  { a.s.Warnw(msg, keyvals...) }
func (a *temporalAdapter) Error(msg string, keyvals ...interface{}) { a.s.Errorw(msg, keyvals...) }

func (a *temporalAdapter) With(keyvals ...interface{}) tlog.Logger {
	return &temporalAdapter{s: a.s.With(keyvals...)}
}
