// Package codec turns directive results into bytes and back.
package codec

import (
	"fmt"
	"strings"
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Names accepted by ByName.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
	NameCBOR    = "cbor"
)

// ByName returns the payload codec registered under name (case-insensitive).
// maxDecode > 0 wraps the result in a Limit.
func ByName[V any](name string, maxDecode int) (Codec[V], error) {
	var c Codec[V]
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameJSON:
		c = JSON[V]{}
	case NameMsgpack:
		c = Msgpack[V]{}
	case NameCBOR:
		cb, err := NewCBOR[V](false)
		if err != nil {
			return nil, err
		}
		c = cb
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	if maxDecode > 0 {
		c = Limit[V]{Inner: c, MaxDecode: maxDecode}
	}
	return c, nil
}
