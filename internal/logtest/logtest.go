// Package logtest provides a recording cachelab.Logger for tests.
package logtest

import (
	"sync"

	"github.com/VitorFirmino/cachelab"
)

type Entry struct {
	Level  string
	Msg    string
	Fields cachelab.Fields
}

// Recorder keeps every record in memory. Safe for concurrent use.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	base    cachelab.Fields
}

var _ cachelab.Logger = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) add(level, msg string, f cachelab.Fields) {
	r.mu.Lock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Fields: r.base.Merge(f)})
	r.mu.Unlock()
}

func (r *Recorder) Debug(msg string, f cachelab.Fields) { r.add("debug", msg, f) }
func (r *Recorder) Info(msg string, f cachelab.Fields)  { r.add("info", msg, f) }
func (r *Recorder) Warn(msg string, f cachelab.Fields)  { r.add("warn", msg, f) }
func (r *Recorder) Error(msg string, f cachelab.Fields) { r.add("error", msg, f) }

func (r *Recorder) With(f cachelab.Fields) cachelab.Logger {
	return &Recorder{mu: r.mu, entries: r.entries, base: r.base.Merge(f)}
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), *r.entries...)
}

// Has reports whether a record with msg was logged at level.
func (r *Recorder) Has(level, msg string) bool {
	for _, e := range r.Entries() {
		if e.Level == level && e.Msg == msg {
			return true
		}
	}
	return false
}
