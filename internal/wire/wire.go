package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1
)

var (
	ErrCorrupt = errors.New("cachelab: corrupt entry")
	magic4     = [...]byte{'C', 'L', 'A', 'B'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// TagVersion is the version of one invalidation tag observed before compute.
type TagVersion struct {
	Tag     string
	Version uint64
}

// Entry is a directive result as stored in a provider.
type Entry struct {
	ComputedAt time.Time
	Tags       []TagVersion
	Payload    []byte
}

// Entry:
//
//	magic(4) | ver(1) | kind(1=entry) | computedAt(i64 be, unix nanos) | n(u16 be)
//	tagLen(u16 be) | tag(tagLen) | version(u64 be)  * n
//	vlen(u32 be) | payload(vlen)
func EncodeEntry(e Entry) ([]byte, error) {
	if len(e.Tags) > 0xFFFF {
		return nil, fmt.Errorf("cachelab: too many tags: %d", len(e.Tags))
	}
	total := 4 + 1 + 1 + 8 + 2 + 4 + len(e.Payload)
	for _, tv := range e.Tags {
		if l := len(tv.Tag); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("cachelab: invalid tag length %d", l)
		}
		total += 2 + len(tv.Tag) + 8
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.ComputedAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(e.Tags)))
	buf.Write(u2[:])

	for _, tv := range e.Tags {
		binary.BigEndian.PutUint16(u2[:], uint16(len(tv.Tag)))
		buf.Write(u2[:])
		buf.WriteString(tv.Tag)
		binary.BigEndian.PutUint64(u8[:], tv.Version)
		buf.Write(u8[:])
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])
	buf.Write(e.Payload)
	return buf.Bytes(), nil
}

// DecodeEntry parses a frame produced by EncodeEntry. The payload aliases b.
// Any malformed, truncated or oversized frame yields ErrCorrupt.
func DecodeEntry(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}
	off := 6

	computed := time.Unix(0, int64(binary.BigEndian.Uint64(b[off:off+8])))
	off += 8

	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2

	tags := make([]TagVersion, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return Entry{}, ErrCorrupt
		}
		tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if tlen <= 0 || tlen > len(b)-off {
			return Entry{}, ErrCorrupt
		}
		tag := string(b[off : off+tlen])
		off += tlen

		if off+8 > len(b) {
			return Entry{}, ErrCorrupt
		}
		v := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		tags = append(tags, TagVersion{Tag: tag, Version: v})
	}

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact: trailing bytes are corruption
		return Entry{}, ErrCorrupt
	}

	return Entry{ComputedAt: computed, Tags: tags, Payload: b[off : off+vlen]}, nil
}
