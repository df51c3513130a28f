package ops

import (
	"context"
	"testing"

	"github.com/hpungsan/nci/internal/codec"
	"github.com/hpungsan/nci/internal/db"
	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/relay"
)

func TestPublish_EncodesAndPublishesInOrder(t *testing.T) {
	env, pool := newTestEnv(t)
	env.Config.EventSizeLimit = 400
	kp := newTestKey(t)

	var reports []relay.Progress
	out, err := Publish(context.Background(), env, PublishInput{
		Document: testDocument("docs", 12),
		Signer:   kp,
		Report:   func(p relay.Progress) { reports = append(reports, p) },
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if out.ChunkCount < 2 {
		t.Fatalf("ChunkCount = %d, want several chunks with a 400 byte limit", out.ChunkCount)
	}
	if len(out.Events) != out.ChunkCount+1 {
		t.Fatalf("len(Events) = %d, want %d", len(out.Events), out.ChunkCount+1)
	}
	if d := out.Events[0].Event.Slot(); d != codec.MetaSlotKey("docs") {
		t.Errorf("first event d = %q, want metadata", d)
	}
	for i, p := range out.Events[1:] {
		if d := p.Event.Slot(); d != codec.SlotKey("docs", i) {
			t.Errorf("event %d d = %q, want %q", i+1, d, codec.SlotKey("docs", i))
		}
	}
	if out.ItemCount != 12 || !out.Complete {
		t.Errorf("ItemCount = %d, Complete = %v; want 12, true", out.ItemCount, out.Complete)
	}
	if out.URI != FormatLocator(kp.PublicKey(), "docs") {
		t.Errorf("URI = %q", out.URI)
	}
	if len(reports) != 3*len(out.Events) {
		t.Errorf("len(reports) = %d, want %d", len(reports), 3*len(out.Events))
	}
	if len(pool.Events()) != len(out.Events) {
		t.Errorf("relay holds %d events, want %d", len(pool.Events()), len(out.Events))
	}

	cached, err := db.CountEvents(context.Background(), env.Cache)
	if err != nil {
		t.Fatalf("CountEvents() error = %v", err)
	}
	if cached != len(out.Events) {
		t.Errorf("cached %d events, want %d", cached, len(out.Events))
	}
}

func TestPublish_PartialFailureIsNotAnError(t *testing.T) {
	env, _ := newTestEnv(t, goodRelay, badRelay)

	out := publishDocument(t, env, newTestKey(t), testDocument("docs", 2))

	if out.Complete {
		t.Errorf("Complete = true, want false with a failing relay")
	}
	for _, p := range out.Events {
		if len(p.Result.Succeeded) != 1 || p.Result.Failed[badRelay] == "" {
			t.Errorf("Result = %+v, want one success and one failure", p.Result)
		}
	}
}

func TestPublish_Validation(t *testing.T) {
	env, _ := newTestEnv(t)

	_, err := Publish(context.Background(), env, PublishInput{Document: testDocument("docs", 1)})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("no signer: error = %v, want INVALID_REQUEST", err)
	}

	_, err = Publish(context.Background(), env, PublishInput{Document: testDocument("a:b", 1), Signer: newTestKey(t)})
	if err == nil {
		t.Errorf("primary key with ':' accepted")
	}

	_, err = Publish(context.Background(), Env{}, PublishInput{Document: testDocument("docs", 1), Signer: newTestKey(t)})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("no transport: error = %v, want INVALID_REQUEST", err)
	}
}

func TestFetch_RoundTrip(t *testing.T) {
	env, pool := newTestEnv(t)
	env.Config.EventSizeLimit = 300
	kp := newTestKey(t)
	doc := testDocument("docs", 9)
	published := publishDocument(t, env, kp, doc)

	out, err := Fetch(context.Background(), env, FetchInput{Locator: published.URI})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if out.Document.Title != doc.Title || out.Document.Summary != doc.Summary || out.Document.URL != doc.URL {
		t.Errorf("metadata = %+v", out.Document)
	}
	if out.ItemCount != 9 || len(out.Document.Items) != 9 {
		t.Fatalf("ItemCount = %d, want 9", out.ItemCount)
	}
	for i, it := range out.Document.Items {
		if it.Title != doc.Items[i].Title || it.Timestamp != doc.Items[i].Timestamp {
			t.Errorf("item %d = %+v, want %+v", i, it, doc.Items[i])
		}
	}
	if out.ChunkCount != published.ChunkCount || out.Author != kp.PublicKey() {
		t.Errorf("ChunkCount = %d, Author = %q", out.ChunkCount, out.Author)
	}
	if len(out.Skipped) != 0 {
		t.Errorf("Skipped = %+v, want none", out.Skipped)
	}

	q := pool.LastQuery()
	if len(q.Kinds) != 1 || q.Kinds[0] != codec.Kind || q.Authors[0] != kp.PublicKey() ||
		q.Tags["t"][0] != "nci:docs" || q.Limit != 1000 {
		t.Errorf("query filter = %+v", q)
	}
}

func TestFetch_Offline(t *testing.T) {
	env, pool := newTestEnv(t)
	kp := newTestKey(t)
	published := publishDocument(t, env, kp, testDocument("docs", 3))

	// Relays forget everything; the cache still has the published events.
	pool.Reset()

	out, err := Fetch(context.Background(), env, FetchInput{Locator: published.URI, Offline: true})
	if err != nil {
		t.Fatalf("Fetch(offline) error = %v", err)
	}
	if out.ItemCount != 3 || !out.Offline {
		t.Errorf("ItemCount = %d, Offline = %v; want 3, true", out.ItemCount, out.Offline)
	}

	env.Cache = nil
	if _, err := Fetch(context.Background(), env, FetchInput{Locator: published.URI, Offline: true}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("offline without cache: error = %v, want INVALID_REQUEST", err)
	}
}

func TestFetch_MissingMetadata(t *testing.T) {
	env, _ := newTestEnv(t)

	_, err := Fetch(context.Background(), env, FetchInput{Locator: FormatLocator(testPubHex, "nothing")})
	if !errors.Is(err, errors.ErrMissingMetadata) {
		t.Errorf("error = %v, want MISSING_METADATA", err)
	}
}

func TestFetch_SkipsForeignChunk(t *testing.T) {
	env, pool := newTestEnv(t)
	kp := newTestKey(t)
	published := publishDocument(t, env, kp, testDocument("docs", 2))

	stray := event.Event{
		Kind:      codec.Kind,
		CreatedAt: 1,
		Tags:      event.Tags{{"t", "nci"}, {"t", "nci:docs"}, {"d", "nci:docs:7"}},
		Content:   `{"items":[]}`,
	}
	if err := kp.Sign(&stray); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	pool.Add(stray)

	out, err := Fetch(context.Background(), env, FetchInput{Locator: published.URI})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(out.Skipped) != 1 || out.Skipped[0].Reason != errors.ErrChunkIndexOutOfRange {
		t.Errorf("Skipped = %+v, want one CHUNK_INDEX_OUT_OF_RANGE", out.Skipped)
	}
	if out.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", out.ItemCount)
	}
}

func TestFetch_InvalidLocator(t *testing.T) {
	env, _ := newTestEnv(t)
	if _, err := Fetch(context.Background(), env, FetchInput{Locator: "docs.yaml"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}
