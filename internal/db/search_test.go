package db

import (
	"context"
	"strings"
	"testing"

	"github.com/hpungsan/nci/internal/index"
)

func searchItems() []index.Item {
	return []index.Item{
		{Title: "Getting started", Summary: "Install the tool and publish a first index", Tags: []string{"intro"}},
		{Title: "Relay selection", Summary: "Choosing which relays to publish to", Tags: []string{"relays", "config"}},
		{Title: "Chunking", Summary: "How large indexes are split across events", Tags: []string{"internals"}},
		{Title: "Publishing workflow", Summary: "Throttling and retries", Tags: []string{"relays"}},
	}
}

func newTestItemIndex(t *testing.T, items []index.Item) *ItemIndex {
	t.Helper()
	ix, err := NewItemIndex(context.Background(), items)
	if err != nil {
		t.Fatalf("NewItemIndex() error = %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func positions(matches []ItemMatch) []int {
	out := make([]int, len(matches))
	for i, m := range matches {
		out[i] = m.Position
	}
	return out
}

func TestItemIndex_EmptyQueryReturnsAllInOrder(t *testing.T) {
	ix := newTestItemIndex(t, searchItems())

	for _, q := range []string{"", "   ", "*** ()"} {
		got, total, err := ix.Search(context.Background(), q, 0)
		if err != nil {
			t.Fatalf("Search(%q) error = %v", q, err)
		}
		if total != 4 || len(got) != 4 {
			t.Fatalf("Search(%q) = %v (total %d), want all 4", q, positions(got), total)
		}
		for i, m := range got {
			if m.Position != i {
				t.Errorf("Search(%q)[%d].Position = %d, want %d", q, i, m.Position, i)
			}
		}
	}

	got, total, err := ix.Search(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 || total != 4 {
		t.Errorf("Search(limit 2) = %d items (total %d), want 2 (total 4)", len(got), total)
	}
}

func TestItemIndex_TitleRanksFirst(t *testing.T) {
	ix := newTestItemIndex(t, searchItems())

	got, total, err := ix.Search(context.Background(), "publish", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3 (positions %v)", total, positions(got))
	}
	if got[0].Position != 3 {
		t.Errorf("first hit = %d, want 3 (title match)", got[0].Position)
	}
}

func TestItemIndex_PrefixAndTags(t *testing.T) {
	ix := newTestItemIndex(t, searchItems())

	got, _, err := ix.Search(context.Background(), "chunk", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Position != 2 {
		t.Errorf("Search(chunk) = %v, want [2]", positions(got))
	}

	got, _, err = ix.Search(context.Background(), "internals", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Position != 2 {
		t.Errorf("Search(internals) = %v, want [2]", positions(got))
	}
}

func TestItemIndex_AnyTermMatches(t *testing.T) {
	ix := newTestItemIndex(t, searchItems())

	got, total, err := ix.Search(context.Background(), "install chunking", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1 (limit)", len(got))
	}
}

func TestItemIndex_SnippetMarkers(t *testing.T) {
	ix := newTestItemIndex(t, searchItems())

	got, _, err := ix.Search(context.Background(), "throttling", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Search() = %v, want one hit", positions(got))
	}
	if !strings.Contains(got[0].Snippet, SnippetOpenMarker+"Throttling"+SnippetCloseMarker) {
		t.Errorf("Snippet = %q, want highlighted term", got[0].Snippet)
	}
}

func TestItemIndex_SyntaxIsNeverAnError(t *testing.T) {
	ix := newTestItemIndex(t, searchItems())

	for _, q := range []string{`"unclosed`, `(paren`, `AND`, `relays OR`, `NOT chunk`, `col:value`} {
		if _, _, err := ix.Search(context.Background(), q, 0); err != nil {
			t.Errorf("Search(%q) error = %v", q, err)
		}
	}
}

func TestItemIndex_NoItems(t *testing.T) {
	ix := newTestItemIndex(t, nil)

	got, total, err := ix.Search(context.Background(), "anything", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 0 || total != 0 {
		t.Errorf("Search() = %v (total %d), want none", positions(got), total)
	}
}

func TestBuildMatchQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Relay", `"relay"*`},
		{"relay relay, Config!", `"relay"* OR "config"*`},
		{`"quoted" AND x`, `"quoted"* OR "and"* OR "x"*`},
		{"Ünïcode 42", `"ünïcode"* OR "42"*`},
	}
	for _, tt := range tests {
		if got := BuildMatchQuery(tt.in); got != tt.want {
			t.Errorf("BuildMatchQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
