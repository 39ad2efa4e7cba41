package cachelab

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Merge returns a new map holding f overlaid with o. Neither input is mutated.
func (f Fields) Merge(o Fields) Fields {
	out := make(Fields, len(f)+len(o))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Logger is a tiny leveled logger. Adapters live under log/.
// A nil Logger anywhere in Options means logging is disabled.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
	// With returns a logger that adds f to every record.
	With(f Fields) Logger
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}
func (n NopLogger) With(Fields) Logger { return n }

// LoggerOr returns l, or NopLogger when l is nil.
func LoggerOr(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
