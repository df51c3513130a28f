package ops

import (
	"context"
	"testing"

	"github.com/hpungsan/nci/internal/codec"
	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/keys"
)

func TestListIndexes_GroupsByAuthorAndKey(t *testing.T) {
	env, pool := newTestEnv(t)
	alice, bob := newTestKey(t), newTestKey(t)

	publishDocument(t, env, alice, testDocument("docs", 5))
	publishDocument(t, env, alice, testDocument("blog", 2))
	publishDocument(t, env, bob, testDocument("docs", 3))

	out, err := ListIndexes(context.Background(), env, ListIndexesInput{})
	if err != nil {
		t.Fatalf("ListIndexes() error = %v", err)
	}
	if out.Pagination.Total != 3 || len(out.Indexes) != 3 {
		t.Fatalf("Total = %d, len = %d; want 3 (same key, different authors)", out.Pagination.Total, len(out.Indexes))
	}

	byURI := map[string]IndexSummary{}
	for _, s := range out.Indexes {
		byURI[s.URI] = s
	}
	aliceDocs, ok := byURI[FormatLocator(alice.PublicKey(), "docs")]
	if !ok {
		t.Fatalf("alice's docs missing from %+v", out.Indexes)
	}
	if aliceDocs.ItemCount != 5 || aliceDocs.Title != "Notes on docs" || aliceDocs.URL != "https://example.com/docs" {
		t.Errorf("alice docs = %+v", aliceDocs)
	}
	if bobDocs := byURI[FormatLocator(bob.PublicKey(), "docs")]; bobDocs.ItemCount != 3 {
		t.Errorf("bob docs ItemCount = %d, want 3", bobDocs.ItemCount)
	}

	q := pool.LastQuery()
	if q.Tags["t"][0] != codec.MetaTopic || q.Limit != 100 || len(q.Authors) != 0 {
		t.Errorf("query filter = %+v", q)
	}
}

func TestListIndexes_AuthorFilterAndLimit(t *testing.T) {
	env, pool := newTestEnv(t)
	alice, bob := newTestKey(t), newTestKey(t)
	publishDocument(t, env, alice, testDocument("one", 1))
	publishDocument(t, env, alice, testDocument("two", 1))
	publishDocument(t, env, alice, testDocument("three", 1))
	publishDocument(t, env, bob, testDocument("other", 1))

	npub, err := keys.EncodeNpub(alice.PublicKey())
	if err != nil {
		t.Fatalf("EncodeNpub() error = %v", err)
	}

	out, err := ListIndexes(context.Background(), env, ListIndexesInput{Author: npub, Limit: 2})
	if err != nil {
		t.Fatalf("ListIndexes() error = %v", err)
	}
	if out.Author != alice.PublicKey() {
		t.Errorf("Author = %q, want hex", out.Author)
	}
	if len(out.Indexes) != 2 || out.Pagination.Total != 3 || !out.Pagination.HasMore {
		t.Errorf("len = %d, Pagination = %+v; want 2 of 3", len(out.Indexes), out.Pagination)
	}
	for _, s := range out.Indexes {
		if s.Author != alice.PublicKey() {
			t.Errorf("index by %s listed under alice's filter", s.Author)
		}
	}
	if q := pool.LastQuery(); len(q.Authors) != 1 || q.Authors[0] != alice.PublicKey() {
		t.Errorf("query authors = %v", q.Authors)
	}
}

func TestListIndexes_NewestMetadataWins(t *testing.T) {
	env, pool := newTestEnv(t)
	kp := newTestKey(t)

	meta := func(createdAt int64, title string) event.Event {
		ev := event.Event{
			Kind:      codec.Kind,
			CreatedAt: createdAt,
			Tags: event.Tags{
				{"t", "nci"}, {"t", "nci-meta"}, {"t", "nci:docs"}, {"d", "nci:docs:meta"},
				{"items", "4"}, {"chunks", "1"}, {"title", title},
			},
		}
		if err := kp.Sign(&ev); err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		return ev
	}
	pool.Add(meta(100, "old"), meta(200, "new"))

	out, err := ListIndexes(context.Background(), env, ListIndexesInput{})
	if err != nil {
		t.Fatalf("ListIndexes() error = %v", err)
	}
	if len(out.Indexes) != 1 {
		t.Fatalf("len = %d, want 1", len(out.Indexes))
	}
	got := out.Indexes[0]
	if got.Title != "new" || got.UpdatedAt != 200 || got.ItemCount != 4 || got.ChunkCount != 1 {
		t.Errorf("index = %+v", got)
	}
}

func TestListIndexes_IgnoresNonMetadataSlots(t *testing.T) {
	groups := groupMetadata([]event.Event{
		{ID: "1", PubKey: "a", Kind: codec.Kind, CreatedAt: 5, Tags: event.Tags{{"d", "nci:docs:meta"}}},
		{ID: "2", PubKey: "a", Kind: codec.Kind, CreatedAt: 6, Tags: event.Tags{{"d", "nci:docs:0"}}},
		{ID: "3", PubKey: "a", Kind: codec.Kind, CreatedAt: 7, Tags: event.Tags{{"d", "other:docs:meta"}}},
		{ID: "4", PubKey: "a", Kind: 1, CreatedAt: 8, Tags: event.Tags{{"d", "nci:x:meta"}}},
		{ID: "5", PubKey: "b", Kind: codec.Kind, CreatedAt: 9, Tags: event.Tags{{"d", "nci:docs:meta"}}},
	})
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if groups[0].author != "b" || groups[1].author != "a" {
		t.Errorf("groups not newest first: %s, %s", groups[0].author, groups[1].author)
	}
}

func TestListIndexes_Empty(t *testing.T) {
	env, _ := newTestEnv(t)
	out, err := ListIndexes(context.Background(), env, ListIndexesInput{})
	if err != nil {
		t.Fatalf("ListIndexes() error = %v", err)
	}
	if len(out.Indexes) != 0 || out.Pagination.Total != 0 {
		t.Errorf("out = %+v, want empty", out)
	}
}

func TestListIndexes_BadAuthor(t *testing.T) {
	env, _ := newTestEnv(t)
	if _, err := ListIndexes(context.Background(), env, ListIndexesInput{Author: "nobody"}); !errors.Is(err, errors.ErrInvalidKey) {
		t.Errorf("error = %v, want INVALID_KEY", err)
	}
}
