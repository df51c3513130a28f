package ops

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/nci/internal/db"
	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/index"
)

// Search limits
const (
	MaxQueryLength  = db.MaxSearchQueryChars
	MaxSnippetChars = 300
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Source  string // required: locator or document file path
	Query   string // optional; empty returns items in order
	Limit   int    // default: 10, max: 1000
	Offline bool   // resolve a locator from the event cache only
}

// SearchResultItem is one matching item.
type SearchResultItem struct {
	index.Item

	// Position is the item's index in the document
	Position int `json:"position"`

	// Snippet is HTML-safe: user-controlled content is escaped; only <b>...</b>
	// highlight tags are present. Empty when the query is empty.
	Snippet string `json:"snippet,omitempty"`
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Title      string             `json:"title,omitempty"`
	PrimaryKey string             `json:"primary_key"`
	Query      string             `json:"query"`
	Items      []SearchResultItem `json:"items"`
	Pagination Pagination         `json:"pagination"`
	Sort       string             `json:"sort"` // "relevance" or "position"
}

// Search loads a document and searches its items. Every query word is a
// prefix term; results are ranked by relevance (BM25) with title matches
// weighted highest.
func Search(ctx context.Context, env Env, input SearchInput) (*SearchOutput, error) {
	if strings.TrimSpace(input.Source) == "" {
		return nil, errors.NewInvalidRequest("source is required")
	}
	query := strings.TrimSpace(input.Query)
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength))
	}
	limit := clampLimit(input.Limit, DefaultSearchLimit, MaxSearchLimit)

	doc, err := loadSource(ctx, env, input.Source, input.Offline)
	if err != nil {
		return nil, err
	}
	return SearchDocument(ctx, *doc, query, limit)
}

// SearchDocument searches the items of an already loaded document.
func SearchDocument(ctx context.Context, doc index.Document, query string, limit int) (*SearchOutput, error) {
	ix, err := db.NewItemIndex(ctx, doc.Items)
	if err != nil {
		return nil, err
	}
	defer ix.Close()

	matches, total, err := ix.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	items := make([]SearchResultItem, len(matches))
	for i, m := range matches {
		// Process snippet:
		// 1. Escape user content to prevent XSS; convert internal markers to <b> tags
		// 2. Truncate to max length (preserves UTF-8 and closes unclosed tags)
		snippet := ""
		if m.Snippet != "" {
			snippet = truncateSnippet(escapeSnippetHTML(m.Snippet), MaxSnippetChars)
		}
		items[i] = SearchResultItem{
			Item:     doc.Items[m.Position],
			Position: m.Position,
			Snippet:  snippet,
		}
	}

	sort := "relevance"
	if db.BuildMatchQuery(query) == "" {
		sort = "position"
	}

	return &SearchOutput{
		Title:      doc.Title,
		PrimaryKey: doc.PrimaryKey,
		Query:      query,
		Items:      items,
		Pagination: Pagination{
			Limit:   limit,
			HasMore: len(items) < total,
			Total:   total,
		},
		Sort: sort,
	}, nil
}

// truncateSnippet truncates a snippet to approximately maxChars while:
// 1. Preserving valid UTF-8 (never splits multi-byte runes)
// 2. Preserving markup integrity (closes any open <b> tags)
// 3. Preferring word boundaries when possible
func truncateSnippet(s string, maxChars int) string {
	if maxChars <= 0 {
		return "..."
	}
	if len(s) <= maxChars {
		return s
	}

	truncateAt := maxChars
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	if truncateAt == 0 {
		return "..."
	}

	truncated := s[:truncateAt]

	// Drop any partial tag or entity at the cut
	if lastLT := strings.LastIndex(truncated, "<"); lastLT != -1 && !strings.Contains(truncated[lastLT:], ">") {
		truncated = truncated[:lastLT]
	}
	if lastAmp := strings.LastIndex(truncated, "&"); lastAmp != -1 && !strings.Contains(truncated[lastAmp:], ";") {
		truncated = truncated[:lastAmp]
	}

	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > truncateAt/2 {
		truncated = truncated[:lastSpace]
	}

	unclosed := strings.Count(truncated, "<b>") - strings.Count(truncated, "</b>")
	for range unclosed {
		truncated += "</b>"
	}

	return truncated + "..."
}

// escapeSnippetHTML escapes item text in a snippet while turning the index's
// highlight markers into <b> tags. Item content comes from relays and is
// untrusted.
func escapeSnippetHTML(s string) string {
	const (
		openPlaceholder  = "\x00NCI_B_OPEN\x00"
		closePlaceholder = "\x00NCI_B_CLOSE\x00"
	)

	s = strings.ReplaceAll(s, db.SnippetOpenMarker, openPlaceholder)
	s = strings.ReplaceAll(s, db.SnippetCloseMarker, closePlaceholder)

	s = html.EscapeString(s)

	s = strings.ReplaceAll(s, openPlaceholder, "<b>")
	s = strings.ReplaceAll(s, closePlaceholder, "</b>")
	return s
}
