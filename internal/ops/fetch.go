package ops

import (
	"context"

	"github.com/hpungsan/nci/internal/assembler"
	"github.com/hpungsan/nci/internal/codec"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/index"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	Locator string // required: nci:<author>?k=<primaryKey>
	Offline bool   // assemble from the event cache only
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	URI        string           `json:"uri"`
	Author     string           `json:"author"`
	MetadataID string           `json:"metadata_id"`
	Document   index.Document   `json:"document"`
	ItemCount  int              `json:"item_count"`
	ChunkCount int              `json:"chunk_count"`
	Events     int              `json:"events"`
	Offline    bool             `json:"offline,omitempty"`
	Skipped    []assembler.Skip `json:"skipped,omitempty"`
}

// IndexFilter is the query for every event of one author's document.
func IndexFilter(author, primaryKey string, limit int) event.Filter {
	return event.Filter{
		Kinds:   []int{codec.Kind},
		Authors: []string{author},
		Tags:    map[string][]string{"t": {codec.TopicTag(primaryKey)}},
		Limit:   limit,
	}
}

// Fetch queries the events of one document and assembles them.
func Fetch(ctx context.Context, env Env, input FetchInput) (*FetchOutput, error) {
	loc, err := ParseLocator(input.Locator)
	if err != nil {
		return nil, err
	}

	events, err := env.events(ctx, IndexFilter(loc.Author, loc.PrimaryKey, env.config().IndexQueryLimit), input.Offline)
	if err != nil {
		return nil, err
	}
	env.logger().Debug("fetched index events", "uri", loc.String(), "events", len(events), "offline", input.Offline)

	res, err := assembler.Assemble(loc.PrimaryKey, events, assembler.WithLogger(env.logger()))
	if err != nil {
		return nil, err
	}

	return &FetchOutput{
		URI:        loc.String(),
		Author:     res.Author,
		MetadataID: res.MetadataID,
		Document:   res.Document,
		ItemCount:  res.Document.ItemCount,
		ChunkCount: res.DeclaredChunks,
		Events:     len(events),
		Offline:    input.Offline,
		Skipped:    res.Skipped,
	}, nil
}

// loadSource resolves a search or export source: a locator is fetched, any
// other string is read as a document file.
func loadSource(ctx context.Context, env Env, source string, offline bool) (*index.Document, error) {
	if IsLocator(source) {
		out, err := Fetch(ctx, env, FetchInput{Locator: source, Offline: offline})
		if err != nil {
			return nil, err
		}
		return &out.Document, nil
	}
	return index.LoadFile(source)
}
