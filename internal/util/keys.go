package util

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// BustParam is the query parameter carrying a one-off cache bypass token.
const BustParam = "_r"

// OperationKey returns "<op>?<k=v&...>" with params sorted by name.
// Empty values are dropped, so {a:"", b:"1"} and {b:"1"} yield the same key.
// With no params the key is "<op>?".
func OperationKey(op string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.Grow(len(op) + 1 + 16*len(names))
	b.WriteString(op)
	b.WriteByte('?')
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// WithBust appends the bust token to an operation key. Empty token is a no-op.
func WithBust(key, token string) string {
	if token == "" {
		return key
	}
	sep := "&"
	if strings.HasSuffix(key, "?") {
		sep = ""
	}
	return key + sep + BustParam + "=" + url.QueryEscape(token)
}

// StorageKey returns "<prefix>:<32 hex chars>", a bounded-length provider key
// derived from an operation key.
func StorageKey(prefix, key string) string {
	h := xxh3.HashString128(key)
	return fmt.Sprintf("%s:%016x%016x", prefix, h.Hi, h.Lo)
}

// SortedUnique returns the distinct non-empty members of in, sorted.
// The input is not mutated.
func SortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Coalesce returns def when v is the zero value of T - otherwise v.
func Coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
