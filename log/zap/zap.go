// Package zap adapts a *zap.Logger to cachelab.Logger.
package zap

import (
	"github.com/VitorFirmino/cachelab"
	"go.uber.org/zap"
)

var _ cachelab.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New wraps l. A nil l yields zap.NewNop.
func New(l *zap.Logger) ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return ZapLogger{L: l}
}

func (z ZapLogger) Debug(msg string, f cachelab.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f cachelab.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f cachelab.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f cachelab.Fields) { z.L.Error(msg, zf(f)...) }

func (z ZapLogger) With(f cachelab.Fields) cachelab.Logger {
	return ZapLogger{L: z.L.With(zf(f)...)}
}

func zf(f cachelab.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
