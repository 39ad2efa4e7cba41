package main

import (
	"fmt"
	stdslog "log/slog"
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/internal/config"
	logruslog "github.com/VitorFirmino/cachelab/log/logrus"
	slogger "github.com/VitorFirmino/cachelab/log/slog"
	zaplog "github.com/VitorFirmino/cachelab/log/zap"
)

// newLogger builds the configured backend. The returned flush must run before
// the process exits.
func newLogger(c config.Logging) (cachelab.Logger, func(), error) {
	switch c.Backend {
	case "zap":
		lvl, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("logging.level: %w", err)
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(lvl)
		if c.Format == "text" {
			zc.Encoding = "console"
			zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		l, err := zc.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("build zap logger: %w", err)
		}
		return zaplog.New(l), func() { _ = l.Sync() }, nil

	case "logrus":
		lvl, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("logging.level: %w", err)
		}
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(lvl)
		if c.Format == "json" {
			l.SetFormatter(&logrus.JSONFormatter{})
		} else {
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
		return logruslog.New(l), func() {}, nil

	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, nil, fmt.Errorf("logging.level: %w", err)
		}
		hopts := &stdslog.HandlerOptions{Level: lvl}
		var h stdslog.Handler = stdslog.NewJSONHandler(os.Stderr, hopts)
		if c.Format == "text" {
			h = stdslog.NewTextHandler(os.Stderr, hopts)
		}
		return slogger.Logger{L: stdslog.New(h)}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("logging.backend: unknown %q", c.Backend)
}
