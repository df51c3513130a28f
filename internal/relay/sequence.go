package relay

import (
	"context"
	"time"

	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/keys"
)

// State is the lifecycle of one publish within a sequence.
type State int

const (
	StatePending State = iota
	StateDispatched
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDispatched:
		return "dispatched"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Progress is reported for every state change of every event in a
// sequence. Delay is set on the pending report of a throttled event;
// Result is set once completed.
type Progress struct {
	Index   int
	Total   int
	State   State
	EventID string
	Delay   time.Duration
	Result  *PublishResult
}

// Published pairs a signed event with its publish outcome.
type Published struct {
	Event  event.Event   `json:"event"`
	Result PublishResult `json:"result"`
}

// PublishSequence signs and publishes templates one after another, in
// order. Each template is signed just before it is dispatched so its
// created_at stays as built. Failed endpoints never stop the sequence;
// only a signing error or ctx cancellation does, in which case the events
// published so far are returned with the error. report may be nil.
func (t *Transport) PublishSequence(ctx context.Context, templates []event.Event, signer keys.Signer, report func(Progress)) ([]Published, error) {
	if report == nil {
		report = func(Progress) {}
	}

	out := make([]Published, 0, len(templates))
	for i, tmpl := range templates {
		delay := t.throttle.Reserve(i)
		report(Progress{Index: i, Total: len(templates), State: StatePending, Delay: delay})
		if err := t.sleep(ctx, delay); err != nil {
			return out, err
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		ev := tmpl
		ev.Tags = append(event.Tags(nil), tmpl.Tags...)
		if err := signer.Sign(&ev); err != nil {
			return out, err
		}

		report(Progress{Index: i, Total: len(templates), State: StateDispatched, EventID: ev.ID})
		res := t.Publish(ctx, ev)
		t.logger.Info("published event", "index", i+1, "total", len(templates), "event", ev.ID,
			"ok", len(res.Succeeded), "failed", len(res.Failed))

		report(Progress{Index: i, Total: len(templates), State: StateCompleted, EventID: ev.ID, Result: &res})
		out = append(out, Published{Event: ev, Result: res})
	}
	return out, nil
}
