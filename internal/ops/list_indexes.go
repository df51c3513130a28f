package ops

import (
	"cmp"
	"context"
	"slices"

	"github.com/hpungsan/nci/internal/assembler"
	"github.com/hpungsan/nci/internal/codec"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/keys"
)

// ListIndexesInput contains parameters for the ListIndexes operation.
type ListIndexesInput struct {
	Author  string // optional npub or hex filter
	Limit   int    // default: 20
	Offline bool   // list from the event cache only
}

// IndexSummary describes one published document as its metadata declares it.
type IndexSummary struct {
	URI        string `json:"uri"`
	Author     string `json:"author"`
	PrimaryKey string `json:"primary_key"`
	Title      string `json:"title,omitempty"`
	Summary    string `json:"summary,omitempty"`
	URL        string `json:"url,omitempty"`
	ItemCount  int    `json:"item_count"`
	ChunkCount int    `json:"chunk_count"`
	UpdatedAt  int64  `json:"updated_at"`
}

// ListIndexesOutput contains the result of the ListIndexes operation.
type ListIndexesOutput struct {
	Author     string         `json:"author,omitempty"`
	Indexes    []IndexSummary `json:"indexes"`
	Pagination Pagination     `json:"pagination"`
}

// MetadataFilter is the query for metadata events, optionally of one author.
func MetadataFilter(author string, limit int) event.Filter {
	f := event.Filter{
		Kinds: []int{codec.Kind},
		Tags:  map[string][]string{"t": {codec.MetaTopic}},
		Limit: limit,
	}
	if author != "" {
		f.Authors = []string{author}
	}
	return f
}

type indexGroup struct {
	author     string
	primaryKey string
	newest     int64
	events     []event.Event
}

// ListIndexes lists published documents, newest first. Documents are told
// apart by author and primary key; the newest metadata event of each wins.
func ListIndexes(ctx context.Context, env Env, input ListIndexesInput) (*ListIndexesOutput, error) {
	author := ""
	if input.Author != "" {
		pub, err := keys.ParsePublicKey(input.Author)
		if err != nil {
			return nil, err
		}
		author = pub
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)

	events, err := env.events(ctx, MetadataFilter(author, env.config().ListQueryLimit), input.Offline)
	if err != nil {
		return nil, err
	}

	groups := groupMetadata(events)
	summaries := make([]IndexSummary, 0, len(groups))
	for _, g := range groups {
		res, err := assembler.Assemble(g.primaryKey, g.events, assembler.WithLogger(env.logger()))
		if err != nil {
			env.logger().Warn("skipping index", "author", g.author, "primary_key", g.primaryKey, "error", err)
			continue
		}
		summaries = append(summaries, IndexSummary{
			URI:        FormatLocator(g.author, g.primaryKey),
			Author:     g.author,
			PrimaryKey: g.primaryKey,
			Title:      res.Document.Title,
			Summary:    res.Document.Summary,
			URL:        res.Document.URL,
			ItemCount:  res.DeclaredItems,
			ChunkCount: res.DeclaredChunks,
			UpdatedAt:  g.newest,
		})
	}

	total := len(summaries)
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}

	return &ListIndexesOutput{
		Author:  author,
		Indexes: summaries,
		Pagination: Pagination{
			Limit:   limit,
			HasMore: len(summaries) < total,
			Total:   total,
		},
	}, nil
}

// groupMetadata buckets metadata events by (author, primary key), newest
// group first.
func groupMetadata(events []event.Event) []*indexGroup {
	byKey := make(map[[2]string]*indexGroup)
	var groups []*indexGroup
	for _, ev := range events {
		if ev.Kind != codec.Kind {
			continue
		}
		pk, suffix, ok := codec.ParseSlotKey(ev.Slot())
		if !ok || suffix != codec.MetaSuffix {
			continue
		}
		key := [2]string{ev.PubKey, pk}
		g, ok := byKey[key]
		if !ok {
			g = &indexGroup{author: ev.PubKey, primaryKey: pk}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.events = append(g.events, ev)
		g.newest = max(g.newest, ev.CreatedAt)
	}

	slices.SortFunc(groups, func(a, b *indexGroup) int {
		if c := cmp.Compare(b.newest, a.newest); c != 0 {
			return c
		}
		if c := cmp.Compare(a.author, b.author); c != 0 {
			return c
		}
		return cmp.Compare(a.primaryKey, b.primaryKey)
	})
	return groups
}
