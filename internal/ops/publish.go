package ops

import (
	"context"

	"github.com/hpungsan/nci/internal/codec"
	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/index"
	"github.com/hpungsan/nci/internal/keys"
	"github.com/hpungsan/nci/internal/relay"
)

// PublishInput contains parameters for the Publish operation.
type PublishInput struct {
	Document index.Document // required; usually from index.LoadFile
	Signer   keys.Signer    // required

	// Report receives every progress change of the sequence. Optional.
	Report func(relay.Progress)
}

// PublishOutput contains the result of the Publish operation.
type PublishOutput struct {
	URI        string            `json:"uri"`
	Author     string            `json:"author"`
	PrimaryKey string            `json:"primary_key"`
	ItemCount  int               `json:"item_count"`
	ChunkCount int               `json:"chunk_count"`
	Endpoints  []string          `json:"endpoints"`
	Events     []relay.Published `json:"events"`

	// Complete is true when every event reached every endpoint
	Complete bool `json:"complete"`
}

// Publish encodes a document and publishes its events in order: metadata
// first, then every content chunk. Endpoint failures are reported per event
// and never stop the sequence. Published events are cached.
func Publish(ctx context.Context, env Env, input PublishInput) (*PublishOutput, error) {
	if input.Signer == nil {
		return nil, errors.NewInvalidRequest("a signing key is required")
	}
	if err := env.requireTransport(); err != nil {
		return nil, err
	}

	templates, doc, err := codec.Encode(input.Document, codec.WithSizeLimit(env.config().EventSizeLimit))
	if err != nil {
		return nil, err
	}
	env.logger().Info("publishing index", "primary_key", doc.PrimaryKey,
		"items", doc.ItemCount, "chunks", doc.ChunkCount, "events", len(templates))

	published, err := env.Transport.PublishSequence(ctx, templates, input.Signer, input.Report)

	signed := make([]event.Event, len(published))
	for i, p := range published {
		signed[i] = p.Event
	}
	env.cache(ctx, signed)

	if err != nil {
		return nil, err
	}

	endpoints := env.Transport.Endpoints()
	complete := true
	for _, p := range published {
		if !p.Result.AllSucceeded(len(endpoints)) {
			complete = false
		}
	}

	author := input.Signer.PublicKey()
	return &PublishOutput{
		URI:        FormatLocator(author, doc.PrimaryKey),
		Author:     author,
		PrimaryKey: doc.PrimaryKey,
		ItemCount:  doc.ItemCount,
		ChunkCount: doc.ChunkCount,
		Endpoints:  endpoints,
		Events:     published,
		Complete:   complete,
	}, nil
}
