// Package assembler rebuilds a content index document from the events a
// query returned. Relays answer with whatever they hold, in any order, with
// duplicates and stale or broken chunks mixed in; the assembler picks one
// metadata event, keeps the valid content events, and concatenates their
// items in chunk order.
package assembler

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/hpungsan/nci/internal/codec"
	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/index"
	"github.com/hpungsan/nci/internal/logging"
)

// Skip records a content event that was left out of the document.
type Skip struct {
	EventID    string           `json:"event_id"`
	Reason     errors.ErrorCode `json:"reason"`
	ChunkIndex int              `json:"chunk_index,omitempty"`
	Detail     string           `json:"detail"`
}

// Result is an assembled document plus what was skipped on the way.
type Result struct {
	Document index.Document `json:"document"`

	// MetadataID is the id of the metadata event the document was built from.
	MetadataID string `json:"metadata_id"`

	// Author is the pubkey of the metadata event.
	Author string `json:"author"`

	// DeclaredItems and DeclaredChunks are the counts the metadata event
	// claims. They are informational; Document.ItemCount is authoritative.
	DeclaredItems  int `json:"declared_items"`
	DeclaredChunks int `json:"declared_chunks"`

	Skipped []Skip `json:"skipped,omitempty"`
}

// Option configures Assemble.
type Option func(*assembly)

// WithLogger sets the logger skips are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(a *assembly) {
		a.logger = logging.OrDiscard(l)
	}
}

type assembly struct {
	logger  *slog.Logger
	skipped []Skip
}

func (a *assembly) skip(ev event.Event, reason errors.ErrorCode, chunkIndex int, detail string) {
	a.skipped = append(a.skipped, Skip{
		EventID:    ev.ID,
		Reason:     reason,
		ChunkIndex: chunkIndex,
		Detail:     detail,
	})
	a.logger.Warn("skipping content event",
		"event", ev.ID, "reason", string(reason), "chunk", chunkIndex, "detail", detail)
}

type chunk struct {
	index int
	ev    event.Event
}

// Assemble builds the document identified by primaryKey from events.
// It fails with MISSING_METADATA when no metadata event for primaryKey is
// present. Every other problem is recovered from and recorded in
// Result.Skipped. The input slice is not modified.
func Assemble(primaryKey string, events []event.Event, opts ...Option) (*Result, error) {
	a := &assembly{logger: logging.Discard()}
	for _, opt := range opts {
		opt(a)
	}

	topic := codec.TopicTag(primaryKey)
	events = dedupe(events)

	meta, ok := pickMetadata(topic, events)
	if !ok {
		return nil, errors.NewMissingMetadata(primaryKey)
	}

	res := &Result{
		MetadataID:     meta.ID,
		Author:         meta.PubKey,
		DeclaredItems:  tagInt(meta, "items"),
		DeclaredChunks: tagInt(meta, "chunks"),
	}
	res.Document = index.Document{
		PrimaryKey: primaryKey,
		ChunkCount: res.DeclaredChunks,
	}
	res.Document.Title, _ = meta.Tags.Find("title")
	res.Document.Summary, _ = meta.Tags.Find("summary")
	res.Document.URL, _ = meta.Tags.Find("url")

	var chunks []chunk
	for _, ev := range events {
		if !ev.Tags.Has("t", codec.Namespace) || !ev.Tags.Has("t", topic) || ev.Tags.Has("t", codec.MetaTopic) {
			continue
		}
		if ev.PubKey != meta.PubKey && ev.PubKey != "" && meta.PubKey != "" {
			a.skip(ev, errors.ErrAuthorMismatch, 0, fmt.Sprintf("author %s differs from metadata author %s", ev.PubKey, meta.PubKey))
			continue
		}

		idx, ok := codec.ChunkIndex(ev.Slot(), primaryKey)
		if !ok {
			a.skip(ev, errors.ErrMissingChunkIndex, 0, fmt.Sprintf("d tag %q has no chunk index", ev.Slot()))
			continue
		}
		if res.DeclaredChunks > 0 && idx >= res.DeclaredChunks {
			a.skip(ev, errors.ErrChunkIndexOutOfRange, idx,
				fmt.Sprintf("chunk index %d, expected less than %d", idx, res.DeclaredChunks))
			continue
		}
		chunks = append(chunks, chunk{index: idx, ev: ev})
	}

	// Chunk order first; within one index the newest event wins.
	slices.SortStableFunc(chunks, func(x, y chunk) int {
		if c := cmp.Compare(x.index, y.index); c != 0 {
			return c
		}
		return newerFirst(x.ev, y.ev)
	})

	items := []index.Item{}
	for i, c := range chunks {
		if i > 0 && chunks[i-1].index == c.index {
			a.skip(c.ev, errors.ErrDuplicateChunk, c.index,
				fmt.Sprintf("chunk %d already taken from event %s", c.index, chunks[i-1].ev.ID))
			continue
		}

		var body codec.Body
		if err := json.Unmarshal([]byte(c.ev.Content), &body); err != nil {
			a.skip(c.ev, errors.ErrMalformedChunk, c.index, err.Error())
			continue
		}
		if body.Items == nil {
			a.skip(c.ev, errors.ErrMalformedChunk, c.index, "content has no items array")
			continue
		}
		for _, w := range body.Items {
			items = append(items, index.DecodeItem(w))
		}
	}

	res.Document.Items = items
	res.Document.ItemCount = len(items)
	res.Skipped = a.skipped
	return res, nil
}

// pickMetadata returns the newest metadata event for topic. Ties on
// created_at go to the lexicographically smallest id.
func pickMetadata(topic string, events []event.Event) (event.Event, bool) {
	var (
		best  event.Event
		found bool
	)
	for _, ev := range events {
		if !ev.Tags.Has("t", codec.MetaTopic) || !ev.Tags.Has("t", topic) {
			continue
		}
		if !found || newerFirst(ev, best) < 0 {
			best, found = ev, true
		}
	}
	return best, found
}

// newerFirst orders events by created_at descending, then id ascending.
func newerFirst(x, y event.Event) int {
	if c := cmp.Compare(y.CreatedAt, x.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(x.ID, y.ID)
}

// dedupe drops repeated event ids, keeping the first occurrence. Events
// without an id are kept as-is.
func dedupe(events []event.Event) []event.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID != "" {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
		}
		out = append(out, ev)
	}
	return out
}

func tagInt(ev event.Event, key string) int {
	v, ok := ev.Tags.Find(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
