// Package relay publishes events to and queries events from a set of relay
// endpoints. A Transport owns the endpoint list, the deadlines and the
// publish throttle; the wire work is delegated to a Pool.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/keys"
	"github.com/hpungsan/nci/internal/logging"
)

// DefaultEndpoints are used when neither flags, environment nor config
// name any relays.
var DefaultEndpoints = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band/all",
	"wss://relay.primal.net",
}

const (
	DefaultQueryTimeout   = 15 * time.Second
	DefaultPublishTimeout = 10 * time.Second

	// DeletionContent is the content of deletion tombstones.
	DeletionContent = "Deleting all events"
)

// Pool performs the actual relay I/O.
type Pool interface {
	// Query sends filter to every url and returns the union of what they
	// answered. Implementations should honor ctx.
	Query(ctx context.Context, urls []string, filter event.Filter) ([]event.Event, error)

	// Publish sends ev to url and waits for its acceptance.
	Publish(ctx context.Context, url string, ev event.Event) error

	Close() error
}

// PublishResult splits endpoints by outcome. Failed maps endpoint to the
// error message.
type PublishResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// AllSucceeded reports whether every one of total endpoints accepted.
func (r PublishResult) AllSucceeded(total int) bool {
	return len(r.Failed) == 0 && len(r.Succeeded) == total
}

// Transport is the handle every relay operation goes through.
type Transport struct {
	endpoints      []string
	pool           Pool
	queryTimeout   time.Duration
	publishTimeout time.Duration
	throttle       Throttle
	sleep          func(context.Context, time.Duration) error
	now            func() time.Time
	logger         *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithPool replaces the default websocket pool.
func WithPool(p Pool) Option {
	return func(t *Transport) { t.pool = p }
}

// WithQueryTimeout sets the overall query deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.queryTimeout = d
		}
	}
}

// WithPublishTimeout sets the per-endpoint publish deadline.
func WithPublishTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.publishTimeout = d
		}
	}
}

// WithThrottle sets the publish sequence throttle.
func WithThrottle(th Throttle) Option {
	return func(t *Transport) {
		if th != nil {
			t.throttle = th
		}
	}
}

// WithSleep replaces the function used to wait between throttled publishes.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(t *Transport) {
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// WithClock sets the created_at source for events the transport builds.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = logging.OrDiscard(l) }
}

// New creates a transport for endpoints. Duplicate endpoints are collapsed.
func New(endpoints []string, opts ...Option) (*Transport, error) {
	eps := dedupeStrings(endpoints)
	if len(eps) == 0 {
		return nil, errors.NewInvalidRequest("at least one relay endpoint is required")
	}

	t := &Transport{
		endpoints:      eps,
		queryTimeout:   DefaultQueryTimeout,
		publishTimeout: DefaultPublishTimeout,
		throttle:       DefaultThrottle,
		sleep:          sleepContext,
		now:            time.Now,
		logger:         logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.pool == nil {
		t.pool = NewWSPool(WithPoolLogger(t.logger))
	}
	return t, nil
}

// Endpoints returns a copy of the endpoint list.
func (t *Transport) Endpoints() []string {
	return slices.Clone(t.endpoints)
}

// Close releases the pool. Later operations fail.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.pool.Close()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Query asks every endpoint for events matching filter. It fails with
// QUERY_TIMEOUT when the pool has not answered within the query timeout.
// Results are deduplicated by id.
func (t *Transport) Query(ctx context.Context, filter event.Filter) ([]event.Event, error) {
	if t.isClosed() {
		return nil, errors.NewInvalidRequest("transport is closed")
	}

	qctx, cancel := context.WithTimeout(ctx, t.queryTimeout)
	defer cancel()

	type answer struct {
		events []event.Event
		err    error
	}
	ch := make(chan answer, 1)
	go func() {
		evs, err := t.pool.Query(qctx, t.endpoints, filter)
		ch <- answer{evs, err}
	}()

	t.logger.Debug("query dispatched", "endpoints", len(t.endpoints), "kinds", filter.Kinds, "tags", filter.Tags)

	select {
	case a := <-ch:
		if a.err != nil {
			if qctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return nil, errors.NewQueryTimeout(int(t.queryTimeout / time.Second))
			}
			return nil, fmt.Errorf("query: %w", a.err)
		}
		out := dedupeEvents(a.events)
		t.logger.Debug("query completed", "events", len(out))
		return out, nil
	case <-qctx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("query: %w", ctx.Err())
		}
		return nil, errors.NewQueryTimeout(int(t.queryTimeout / time.Second))
	}
}

// Publish sends a signed event to every endpoint concurrently and waits for
// all of them. Endpoints that do not answer within the publish timeout are
// reported as failed. Publish never fails as a whole.
func (t *Transport) Publish(ctx context.Context, ev event.Event) PublishResult {
	res := PublishResult{Succeeded: []string{}, Failed: map[string]string{}}
	if t.isClosed() {
		for _, ep := range t.endpoints {
			res.Failed[ep] = "transport is closed"
		}
		return res
	}

	outcomes := make([]error, len(t.endpoints))
	var wg sync.WaitGroup
	for i, ep := range t.endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = t.publishOne(ctx, ep, ev)
		}()
	}
	wg.Wait()

	for i, ep := range t.endpoints {
		if err := outcomes[i]; err != nil {
			res.Failed[ep] = err.Error()
			t.logger.Debug("publish failed", "endpoint", ep, "event", ev.ID,
				"code", string(errors.ErrEndpointFailure), "error", err)
			continue
		}
		res.Succeeded = append(res.Succeeded, ep)
	}
	return res
}

func (t *Transport) publishOne(ctx context.Context, endpoint string, ev event.Event) error {
	pctx, cancel := context.WithTimeout(ctx, t.publishTimeout)
	defer cancel()

	ch := make(chan error, 1)
	go func() { ch <- t.pool.Publish(pctx, endpoint, ev) }()

	select {
	case err := <-ch:
		if err != nil && pctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("timeout after %s", t.publishTimeout)
		}
		return err
	case <-pctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("timeout after %s", t.publishTimeout)
	}
}

// Delete publishes one deletion tombstone referencing ids. Relays may or
// may not honor it.
func (t *Transport) Delete(ctx context.Context, ids []string, signer keys.Signer) (event.Event, PublishResult, error) {
	if len(ids) == 0 {
		return event.Event{}, PublishResult{}, errors.NewInvalidRequest("no event ids to delete")
	}

	tags := make(event.Tags, 0, len(ids))
	for _, id := range ids {
		tags = append(tags, event.Tag{"e", id})
	}
	ev := event.Event{
		CreatedAt: t.now().Unix(),
		Kind:      event.KindDeletion,
		Tags:      tags,
		Content:   DeletionContent,
	}
	if err := signer.Sign(&ev); err != nil {
		return event.Event{}, PublishResult{}, err
	}
	return ev, t.Publish(ctx, ev), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func dedupeEvents(in []event.Event) []event.Event {
	seen := make(map[string]bool, len(in))
	out := make([]event.Event, 0, len(in))
	for _, ev := range in {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		out = append(out, ev)
	}
	return out
}
