package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/index"
)

// Highlight markers written by snippet(). Callers escape the snippet and
// turn these into tags.
const (
	SnippetOpenMarker  = "[[[B]]]"
	SnippetCloseMarker = "[[[/B]]]"
)

// MaxSearchQueryChars bounds the length of a search query.
const MaxSearchQueryChars = 1000

// ItemMatch is one search hit.
type ItemMatch struct {
	// Position is the index of the item in the searched slice
	Position int
	Snippet  string
}

// ItemIndex is an in-memory FTS5 index over the items of one document.
type ItemIndex struct {
	db    *sql.DB
	count int
}

// NewItemIndex builds a throwaway full-text index over items.
func NewItemIndex(ctx context.Context, items []index.Item) (*ItemIndex, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open item index: %w", err)
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE VIRTUAL TABLE items_fts USING fts5(
		  title, summary, tags, position UNINDEXED
		)
	`); err != nil {
		db.Close()
		return nil, errors.NewInternal(err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO items_fts (title, summary, tags, position) VALUES (?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, errors.NewInternal(err)
	}
	defer stmt.Close()

	for i, it := range items {
		if _, err := stmt.ExecContext(ctx, it.Title, it.Summary, strings.Join(it.Tags, " "), i); err != nil {
			db.Close()
			return nil, errors.NewInternal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, errors.NewInternal(err)
	}

	return &ItemIndex{db: db, count: len(items)}, nil
}

// Close releases the index.
func (ix *ItemIndex) Close() error {
	return ix.db.Close()
}

// Search matches query against item titles, summaries and tags. Every word of
// the query is a prefix term and any of them may match; hits are ranked by
// BM25 with title matches weighted highest. A query with no words returns
// every item in order. Returns at most limit matches (0 means no limit) and
// the total number of matches.
func (ix *ItemIndex) Search(ctx context.Context, query string, limit int) ([]ItemMatch, int, error) {
	match := BuildMatchQuery(query)
	if match == "" {
		return ix.all(limit), ix.count, nil
	}

	var total int
	if err := ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items_fts WHERE items_fts MATCH ?`, match,
	).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	q := `
		SELECT position,
		       snippet(items_fts, -1, '` + SnippetOpenMarker + `', '` + SnippetCloseMarker + `', '...', 24)
		FROM items_fts
		WHERE items_fts MATCH ?
		ORDER BY bm25(items_fts, 5.0, 1.0, 2.0), position`
	args := []any{match}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []ItemMatch
	for rows.Next() {
		var m ItemMatch
		if err := rows.Scan(&m.Position, &m.Snippet); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

func (ix *ItemIndex) all(limit int) []ItemMatch {
	n := ix.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ItemMatch, n)
	for i := range out {
		out[i] = ItemMatch{Position: i}
	}
	return out
}

// BuildMatchQuery turns free text into an FTS5 expression of quoted prefix
// terms joined by OR, so user input can never be an FTS5 syntax error.
// Returns "" when the text has no words.
func BuildMatchQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"*`)
	}
	return strings.Join(terms, " OR ")
}
