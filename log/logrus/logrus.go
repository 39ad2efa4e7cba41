// Package logrus adapts a *logrus.Entry to cachelab.Logger.
package logrus

import (
	"github.com/VitorFirmino/cachelab"
	"github.com/sirupsen/logrus"
)

var _ cachelab.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps l.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: logrus.NewEntry(l)}
}

func (l LogrusLogger) Debug(msg string, f cachelab.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f cachelab.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f cachelab.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f cachelab.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}

func (l LogrusLogger) With(f cachelab.Fields) cachelab.Logger {
	return LogrusLogger{E: l.E.WithFields(logrus.Fields(f))}
}
