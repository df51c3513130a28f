package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/nci/internal/codec"
	"github.com/hpungsan/nci/internal/db"
	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/keys"
	"github.com/hpungsan/nci/internal/relay"
)

// DeleteInput contains parameters for the Delete operation.
type DeleteInput struct {
	Signer  keys.Signer // required; its author's events are deleted
	Confirm bool        // must be true
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Author    string              `json:"author"`
	Found     int                 `json:"found"`
	Tombstone *event.Event        `json:"tombstone,omitempty"`
	Result    relay.PublishResult `json:"result"`
	Purged    int                 `json:"purged"`
	Message   string              `json:"message"`
}

// Delete requests deletion of every nci event the signer's author has
// published, with a single tombstone event. Relays may ignore it, so
// deletion is requested, never verified. The events are also removed from
// the local cache.
func Delete(ctx context.Context, env Env, input DeleteInput) (*DeleteOutput, error) {
	if !input.Confirm {
		return nil, errors.NewInvalidRequest("deleting every published event of a key cannot be undone; confirm is required")
	}
	if input.Signer == nil {
		return nil, errors.NewInvalidRequest("a signing key is required")
	}
	if err := env.requireTransport(); err != nil {
		return nil, err
	}

	author := input.Signer.PublicKey()
	events, err := env.Transport.Query(ctx, event.Filter{
		Authors: []string{author},
		Tags:    map[string][]string{"t": {codec.Namespace}},
	})
	if err != nil {
		return nil, err
	}

	out := &DeleteOutput{Author: author, Found: len(events)}
	if len(events) == 0 {
		out.Message = "No nci events found"
		return out, nil
	}

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}

	tombstone, res, err := env.Transport.Delete(ctx, ids, input.Signer)
	if err != nil {
		return nil, err
	}
	out.Tombstone = &tombstone
	out.Result = res

	if env.Cache != nil {
		n, err := db.DeleteEvents(ctx, env.Cache, ids)
		if err != nil {
			env.logger().Warn("failed to purge deleted events from cache", "error", err)
		}
		out.Purged = n
	}

	out.Message = formatDeleteMessage(out.Found, len(res.Succeeded), len(env.Transport.Endpoints()))
	return out, nil
}

func formatDeleteMessage(found, succeeded, total int) string {
	return fmt.Sprintf("Requested deletion of %d event(s); %d of %d relay(s) accepted the request", found, succeeded, total)
}
