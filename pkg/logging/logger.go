package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// ApplicationLogger is the printf-style logger every component depends on.
type ApplicationLogger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// ZapAdapter wraps zap.Logger to implement ApplicationLogger
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter creates a new application logger backed by zap
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{
		logger: logger,
	}
}

// Named returns an adapter whose entries carry the given component name
func (za *ZapAdapter) Named(name string) *ZapAdapter {
	return &ZapAdapter{logger: za.logger.Named(name)}
}

func (za *ZapAdapter) Debug(msg string, args ...interface{}) {
	if !za.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	za.logger.Debug(format(msg, args))
}

func (za *ZapAdapter) Info(msg string, args ...interface{}) {
	za.logger.Info(format(msg, args))
}

func (za *ZapAdapter) Warn(msg string, args ...interface{}) {
	za.logger.Warn(format(msg, args))
}

func (za *ZapAdapter) Error(msg string, args ...interface{}) {
	za.logger.Error(format(msg, args))
}

func format(msg string, args []interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

type noOpLogger struct{}

// NewNoOpLogger returns a logger that discards everything
func NewNoOpLogger() ApplicationLogger {
	return noOpLogger{}
}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}
