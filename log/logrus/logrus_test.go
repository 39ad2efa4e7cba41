package logrus

import (
	"testing"

	"github.com/VitorFirmino/cachelab"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestLogrusLoggerWithAddsFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	l := New(base).With(cachelab.Fields{"component": "checkout"})
	l.Info("checkout.ok", cachelab.Fields{"attempts": 1})

	e := hook.LastEntry()
	if e == nil {
		t.Fatal("no entry recorded")
	}
	if e.Data["component"] != "checkout" || e.Data["attempts"] != 1 {
		t.Fatalf("unexpected data: %v", e.Data)
	}
	if e.Level != logrus.InfoLevel {
		t.Fatalf("level=%v", e.Level)
	}
}
