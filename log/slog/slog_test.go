package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"testing"

	"github.com/VitorFirmino/cachelab"
)

func TestSlogLoggerEmitsAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug})
	l := Logger{L: stdslog.New(h)}.With(cachelab.Fields{"component": "mirror"})

	l.Debug("mirror.clear", cachelab.Fields{"version": 3})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "mirror.clear" || rec["component"] != "mirror" || rec["version"] != float64(3) {
		t.Fatalf("unexpected record: %v", rec)
	}
}
