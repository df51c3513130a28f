// Package event models NIP-01 events, the atomic unit exchanged with relays.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Event kinds used by nci.
const (
	KindDeletion        = 5
	KindApplicationData = 30078 // parameterized replaceable
)

// Tag is a single tag: a key followed by one or more values.
type Tag []string

// Key returns the tag key or "" for an empty tag.
func (t Tag) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first value or "" if the tag has none.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is an ordered list of tags.
type Tags []Tag

// Find returns the first value for key.
func (tags Tags) Find(key string) (string, bool) {
	for _, t := range tags {
		if t.Key() == key && len(t) >= 2 {
			return t[1], true
		}
	}
	return "", false
}

// FindAll returns every value for key, in order.
func (tags Tags) FindAll(key string) []string {
	var out []string
	for _, t := range tags {
		if t.Key() == key && len(t) >= 2 {
			out = append(out, t[1])
		}
	}
	return out
}

// Has reports whether a tag with key and value exists.
func (tags Tags) Has(key, value string) bool {
	for _, t := range tags {
		if t.Key() == key && len(t) >= 2 && t[1] == value {
			return true
		}
	}
	return false
}

// Event is a NIP-01 event. Templates built by the codec have empty ID,
// PubKey and Sig until signed.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// IsReplaceable reports whether relays keep only the latest event per
// (pubkey, kind, d tag).
func (e Event) IsReplaceable() bool {
	return e.Kind >= 30000 && e.Kind < 40000
}

// Slot returns the d tag value.
func (e Event) Slot() string {
	d, _ := e.Tags.Find("d")
	return d
}

// Serialize returns the canonical NIP-01 serialization used for the id:
// [0, pubkey, created_at, kind, tags, content] with no whitespace.
func (e Event) Serialize() []byte {
	var b strings.Builder
	b.WriteString(`[0,`)
	writeString(&b, e.PubKey)
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(e.CreatedAt, 10))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(e.Kind))
	b.WriteString(`,[`)
	for i, t := range e.Tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		for j, v := range t {
			if j > 0 {
				b.WriteByte(',')
			}
			writeString(&b, v)
		}
		b.WriteByte(']')
	}
	b.WriteString(`],`)
	writeString(&b, e.Content)
	b.WriteByte(']')
	return []byte(b.String())
}

// Hash returns sha256 of the canonical serialization.
func (e Event) Hash() [32]byte {
	return sha256.Sum256(e.Serialize())
}

// ComputeID returns the hex event id.
func (e Event) ComputeID() string {
	h := e.Hash()
	return hex.EncodeToString(h[:])
}

// MarshalJSON keeps tags as an array even when nil; relays reject null.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Tags == nil {
		e.Tags = Tags{}
	}
	return json.Marshal(plain(e))
}

// writeString writes s as a JSON string using the NIP-01 escaping rules:
// only ", \, and control characters are escaped; everything else is raw UTF-8.
func writeString(b *strings.Builder, s string) {
	const hexDigits = "0123456789abcdef"
	b.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r < 0x20:
			b.WriteString(`\u00`)
			b.WriteByte(hexDigits[r>>4])
			b.WriteByte(hexDigits[r&0xf])
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	b.WriteByte('"')
}
