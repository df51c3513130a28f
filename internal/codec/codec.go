// Package codec turns a content index document into the ordered set of
// unsigned events that publish it: one metadata event followed by content
// events carrying greedily packed chunks of wire items.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/index"
)

const (
	// Namespace prefixes every slot key and topic tag.
	Namespace = "nci"

	// MetaTopic marks metadata events.
	MetaTopic = "nci-meta"

	// MetaSuffix is the final slot key segment of metadata events.
	MetaSuffix = "meta"

	// Kind is the event kind for both metadata and content events.
	Kind = event.KindApplicationData

	// DefaultSizeLimit bounds the serialized {"items":[...]} body of a
	// content event, in bytes.
	DefaultSizeLimit = 90000
)

// body framing: {"items":[ ... ]}
const (
	bodyOpen  = `{"items":[`
	bodyClose = `]}`
)

// Encoder builds event templates for a document.
type Encoder struct {
	limit int
	now   func() time.Time
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithSizeLimit overrides the per-chunk body size limit. Non-positive
// values keep the default.
func WithSizeLimit(n int) Option {
	return func(e *Encoder) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithClock overrides the created_at source.
func WithClock(now func() time.Time) Option {
	return func(e *Encoder) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEncoder creates an encoder with defaults applied before opts.
func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{limit: DefaultSizeLimit, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode is a convenience for NewEncoder(opts...).Encode(doc).
func Encode(doc index.Document, opts ...Option) ([]event.Event, index.Document, error) {
	return NewEncoder(opts...).Encode(doc)
}

// Encode returns the metadata template followed by one content template per
// chunk, in chunk order, plus a copy of doc with ChunkCount set. doc itself
// is not modified. Templates are unsigned.
func (e *Encoder) Encode(doc index.Document) ([]event.Event, index.Document, error) {
	if doc.PrimaryKey == "" || strings.Contains(doc.PrimaryKey, ":") {
		return nil, index.Document{}, errors.NewInvalidRequest("primary key must be non-empty and must not contain ':'")
	}

	out := doc.Clone()
	wire := make([]index.WireItem, len(out.Items))
	for i, it := range out.Items {
		wire[i] = index.EncodeItem(it)
	}

	chunks, err := chunk(wire, e.limit)
	if err != nil {
		return nil, index.Document{}, err
	}
	out.ItemCount = len(out.Items)
	out.ChunkCount = len(chunks)

	createdAt := e.now().Unix()
	events := make([]event.Event, 0, len(chunks)+1)
	events = append(events, metadataEvent(out, createdAt))
	for i, c := range chunks {
		ev, err := contentEvent(out.PrimaryKey, i, c, createdAt)
		if err != nil {
			return nil, index.Document{}, err
		}
		events = append(events, ev)
	}
	return events, out, nil
}

func metadataEvent(doc index.Document, createdAt int64) event.Event {
	tags := event.Tags{
		{"t", Namespace},
		{"t", MetaTopic},
		{"t", TopicTag(doc.PrimaryKey)},
		{"d", MetaSlotKey(doc.PrimaryKey)},
		{"items", strconv.Itoa(doc.ItemCount)},
		{"chunks", strconv.Itoa(doc.ChunkCount)},
	}
	if doc.Title != "" {
		tags = append(tags, event.Tag{"title", doc.Title})
	}
	if doc.Summary != "" {
		tags = append(tags, event.Tag{"summary", doc.Summary})
	}
	if doc.URL != "" {
		tags = append(tags, event.Tag{"url", doc.URL})
	}
	return event.Event{
		CreatedAt: createdAt,
		Kind:      Kind,
		Tags:      tags,
		Content:   "",
	}
}

func contentEvent(primaryKey string, idx int, items []index.WireItem, createdAt int64) (event.Event, error) {
	body, err := marshalBody(items)
	if err != nil {
		return event.Event{}, err
	}
	return event.Event{
		CreatedAt: createdAt,
		Kind:      Kind,
		Tags: event.Tags{
			{"t", Namespace},
			{"t", TopicTag(primaryKey)},
			{"d", SlotKey(primaryKey, idx)},
		},
		Content: body,
	}, nil
}

// Body is the JSON content of a content event.
type Body struct {
	Items []index.WireItem `json:"items"`
}

func marshalBody(items []index.WireItem) (string, error) {
	if items == nil {
		items = []index.WireItem{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Body{Items: items}); err != nil {
		return "", errors.NewInternal(fmt.Errorf("encode chunk: %w", err))
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Chunk packs items greedily, in order, into chunks whose serialized body is
// at most limit bytes. An item too large on its own gets a chunk to itself.
// No items yields no chunks.
func Chunk(items []index.WireItem, limit int) [][]index.WireItem {
	chunks, err := chunk(items, limit)
	if err != nil {
		return nil
	}
	return chunks
}

func chunk(items []index.WireItem, limit int) ([][]index.WireItem, error) {
	if limit <= 0 {
		limit = DefaultSizeLimit
	}

	var (
		chunks  [][]index.WireItem
		current []index.WireItem
		size    int
	)
	frame := len(bodyOpen) + len(bodyClose)

	for _, it := range items {
		n, err := itemSize(it)
		if err != nil {
			return nil, err
		}

		next := frame + size + n
		if len(current) > 0 {
			next++ // comma
		}
		if len(current) > 0 && next > limit {
			chunks = append(chunks, current)
			current, size = nil, 0
		}

		if len(current) > 0 {
			size++
		}
		size += n
		current = append(current, it)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

func itemSize(it index.WireItem) (int, error) {
	data, err := it.MarshalJSON()
	if err != nil {
		return 0, errors.NewInternal(fmt.Errorf("encode item: %w", err))
	}
	return len(data), nil
}

// BodySize returns the serialized size of a chunk body.
func BodySize(items []index.WireItem) int {
	body, err := marshalBody(items)
	if err != nil {
		return 0
	}
	return len(body)
}

// TopicTag returns the per-document topic, nci:<primaryKey>.
func TopicTag(primaryKey string) string {
	return Namespace + ":" + primaryKey
}

// SlotKey returns the d tag of content chunk idx.
func SlotKey(primaryKey string, idx int) string {
	return TopicTag(primaryKey) + ":" + strconv.Itoa(idx)
}

// MetaSlotKey returns the d tag of the metadata event.
func MetaSlotKey(primaryKey string) string {
	return TopicTag(primaryKey) + ":" + MetaSuffix
}

// ParseSlotKey splits a d tag of the form nci:<primaryKey>:<suffix>.
// Primary keys never contain ':', so the suffix is everything after the
// second colon.
func ParseSlotKey(d string) (primaryKey, suffix string, ok bool) {
	rest, found := strings.CutPrefix(d, Namespace+":")
	if !found {
		return "", "", false
	}
	primaryKey, suffix, found = strings.Cut(rest, ":")
	if !found || primaryKey == "" || suffix == "" {
		return "", "", false
	}
	return primaryKey, suffix, true
}

// ChunkIndex returns the chunk index encoded in a content event's d tag for
// primaryKey. ok is false when the tag is missing, belongs to another
// document, or the suffix is not a non-negative integer.
func ChunkIndex(d, primaryKey string) (int, bool) {
	pk, suffix, ok := ParseSlotKey(d)
	if !ok || pk != primaryKey {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
