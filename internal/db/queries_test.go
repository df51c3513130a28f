package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/hpungsan/nci/internal/event"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEvent(id, pubkey, d string, createdAt int64, topics ...string) event.Event {
	tags := event.Tags{}
	for _, topic := range topics {
		tags = append(tags, event.Tag{"t", topic})
	}
	if d != "" {
		tags = append(tags, event.Tag{"d", d})
	}
	return event.Event{
		ID:        id,
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      event.KindApplicationData,
		Tags:      tags,
		Content:   "content of " + id,
		Sig:       "sig-" + id,
	}
}

func ids(events []event.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func TestSaveAndLoadEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	events := []event.Event{
		testEvent("a1", "alice", "nci:docs:meta", 100, "nci", "nci-meta", "nci:docs"),
		testEvent("a2", "alice", "nci:docs:0", 100, "nci", "nci:docs"),
		testEvent("b1", "bob", "nci:docs:meta", 200, "nci", "nci-meta", "nci:docs"),
	}
	n, err := SaveEvents(ctx, db, events)
	if err != nil {
		t.Fatalf("SaveEvents() error = %v", err)
	}
	if n != 3 {
		t.Errorf("SaveEvents() = %d, want 3", n)
	}

	got, err := LoadEvents(ctx, db, event.Filter{})
	if err != nil {
		t.Fatalf("LoadEvents() error = %v", err)
	}
	if len(got) != 3 || got[0].ID != "b1" {
		t.Fatalf("LoadEvents() = %v, want 3 events newest first", ids(got))
	}

	var a1 event.Event
	for _, ev := range got {
		if ev.ID == "a1" {
			a1 = ev
		}
	}
	if a1.Content != "content of a1" || a1.Sig != "sig-a1" || a1.PubKey != "alice" {
		t.Errorf("round trip lost fields: %+v", a1)
	}
	if !a1.Tags.Has("t", "nci-meta") || a1.Slot() != "nci:docs:meta" {
		t.Errorf("round trip lost tags: %v", a1.Tags)
	}
}

func TestSaveEvents_SameIDIsNoop(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ev := testEvent("a1", "alice", "nci:docs:0", 100, "nci")
	if _, err := SaveEvents(ctx, db, []event.Event{ev}); err != nil {
		t.Fatalf("SaveEvents() error = %v", err)
	}
	n, err := SaveEvents(ctx, db, []event.Event{ev})
	if err != nil {
		t.Fatalf("SaveEvents() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second SaveEvents() = %d, want 0", n)
	}

	count, err := CountEvents(ctx, db)
	if err != nil {
		t.Fatalf("CountEvents() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountEvents() = %d, want 1", count)
	}
}

func TestSaveEvents_ReplaceableNewestWins(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	older := testEvent("old", "alice", "nci:docs:0", 100, "nci", "stale-topic")
	newer := testEvent("new", "alice", "nci:docs:0", 200, "nci")

	if _, err := SaveEvents(ctx, db, []event.Event{older, newer}); err != nil {
		t.Fatalf("SaveEvents() error = %v", err)
	}
	// An older event arriving later does not replace the newer one
	n, err := SaveEvents(ctx, db, []event.Event{older})
	if err != nil {
		t.Fatalf("SaveEvents() error = %v", err)
	}
	if n != 0 {
		t.Errorf("SaveEvents(older) = %d, want 0", n)
	}

	got, err := LoadEvents(ctx, db, event.Filter{})
	if err != nil {
		t.Fatalf("LoadEvents() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("LoadEvents() = %v, want [new]", ids(got))
	}

	stale, err := LoadEvents(ctx, db, event.Filter{Tags: map[string][]string{"t": {"stale-topic"}}})
	if err != nil {
		t.Fatalf("LoadEvents() error = %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("topics of the replaced event survived: %v", ids(stale))
	}
}

func TestSaveEvents_ReplaceableTieBreak(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := SaveEvents(ctx, db, []event.Event{
		testEvent("bbb", "alice", "nci:docs:0", 100),
		testEvent("aaa", "alice", "nci:docs:0", 100),
		testEvent("ccc", "alice", "nci:docs:0", 100),
	}); err != nil {
		t.Fatalf("SaveEvents() error = %v", err)
	}

	got, err := LoadEvents(ctx, db, event.Filter{})
	if err != nil {
		t.Fatalf("LoadEvents() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "aaa" {
		t.Fatalf("LoadEvents() = %v, want [aaa] (smallest id wins a tie)", ids(got))
	}
}

func TestSaveEvents_SlotsAreIndependent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := SaveEvents(ctx, db, []event.Event{
		testEvent("a", "alice", "nci:docs:0", 100),
		testEvent("b", "alice", "nci:docs:1", 100),
		testEvent("c", "bob", "nci:docs:0", 100),
	}); err != nil {
		t.Fatalf("SaveEvents() error = %v", err)
	}

	count, err := CountEvents(ctx, db)
	if err != nil {
		t.Fatalf("CountEvents() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountEvents() = %d, want 3", count)
	}
}

func TestLoadEvents_Filter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	deletion := testEvent("del", "alice", "", 400, "nci")
	deletion.Kind = event.KindDeletion
	deletion.Tags = append(deletion.Tags, event.Tag{"e", "a2"})

	if _, err := SaveEvents(ctx, db, []event.Event{
		testEvent("a1", "alice", "nci:docs:meta", 100, "nci", "nci-meta", "nci:docs"),
		testEvent("a2", "alice", "nci:docs:0", 200, "nci", "nci:docs"),
		testEvent("a3", "alice", "nci:blog:meta", 300, "nci", "nci-meta", "nci:blog"),
		testEvent("b1", "bob", "nci:docs:meta", 150, "nci", "nci-meta", "nci:docs"),
		deletion,
	}); err != nil {
		t.Fatalf("SaveEvents() error = %v", err)
	}

	since, until := int64(150), int64(300)
	tests := []struct {
		name   string
		filter event.Filter
		want   []string
	}{
		{"by author", event.Filter{Authors: []string{"bob"}}, []string{"b1"}},
		{"by kind", event.Filter{Kinds: []int{event.KindDeletion}}, []string{"del"}},
		{"by ids", event.Filter{IDs: []string{"a1", "a3", "zzz"}}, []string{"a3", "a1"}},
		{"by topic", event.Filter{Tags: map[string][]string{"t": {"nci-meta"}}}, []string{"a3", "b1", "a1"}},
		{"topic and author", event.Filter{
			Authors: []string{"alice"},
			Kinds:   []int{event.KindApplicationData},
			Tags:    map[string][]string{"t": {"nci:docs"}},
		}, []string{"a2", "a1"}},
		{"any of several topics", event.Filter{Tags: map[string][]string{"t": {"nci:blog", "nci:docs"}}, Authors: []string{"alice"}}, []string{"a3", "a2", "a1"}},
		{"non-topic tag", event.Filter{Tags: map[string][]string{"e": {"a2"}}}, []string{"del"}},
		{"time bounds", event.Filter{Since: &since, Until: &until}, []string{"a3", "a2", "b1"}},
		{"limit", event.Filter{Limit: 2}, []string{"del", "a3"}},
		{"no match", event.Filter{Authors: []string{"carol"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadEvents(ctx, db, tt.filter)
			if err != nil {
				t.Fatalf("LoadEvents() error = %v", err)
			}
			gotIDs := ids(got)
			if len(gotIDs) != len(tt.want) {
				t.Fatalf("LoadEvents() = %v, want %v", gotIDs, tt.want)
			}
			for i := range gotIDs {
				if gotIDs[i] != tt.want[i] {
					t.Fatalf("LoadEvents() = %v, want %v", gotIDs, tt.want)
				}
			}
		})
	}
}

func TestDeleteEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := SaveEvents(ctx, db, []event.Event{
		testEvent("a1", "alice", "nci:docs:meta", 100, "nci"),
		testEvent("a2", "alice", "nci:docs:0", 100, "nci"),
	}); err != nil {
		t.Fatalf("SaveEvents() error = %v", err)
	}

	n, err := DeleteEvents(ctx, db, []string{"a1", "missing"})
	if err != nil {
		t.Fatalf("DeleteEvents() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteEvents() = %d, want 1", n)
	}

	got, err := LoadEvents(ctx, db, event.Filter{Tags: map[string][]string{"t": {"nci"}}})
	if err != nil {
		t.Fatalf("LoadEvents() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a2" {
		t.Errorf("LoadEvents() = %v, want [a2]", ids(got))
	}

	var topics int
	if err := db.QueryRow("SELECT COUNT(*) FROM event_topics WHERE event_id = 'a1'").Scan(&topics); err != nil {
		t.Fatalf("count topics: %v", err)
	}
	if topics != 0 {
		t.Errorf("topics of deleted event = %d, want 0", topics)
	}

	if n, err := DeleteEvents(ctx, db, nil); err != nil || n != 0 {
		t.Errorf("DeleteEvents(nil) = %d, %v; want 0, nil", n, err)
	}
}
