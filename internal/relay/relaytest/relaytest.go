// Package relaytest provides an in-memory relay.Pool for tests.
package relaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hpungsan/nci/internal/event"
)

// Relay URLs understood by Pool. Every publish to BadRelay fails.
const (
	GoodRelay = "wss://good.example"
	BadRelay  = "wss://bad.example"
)

// Pool is a relay.Pool that keeps published events in memory and answers
// queries with filter.Matches. Its zero value is ready to use.
type Pool struct {
	mu      sync.Mutex
	events  []event.Event
	queries []event.Filter

	// QueryErr, when set, is returned by every Query.
	QueryErr error
}

func (p *Pool) Query(_ context.Context, _ []string, filter event.Filter) ([]event.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, filter)
	if p.QueryErr != nil {
		return nil, p.QueryErr
	}
	var out []event.Event
	for _, ev := range p.events {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (p *Pool) Publish(_ context.Context, url string, ev event.Event) error {
	if url == BadRelay {
		return fmt.Errorf("blocked: test relay")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, have := range p.events {
		if have.ID == ev.ID {
			return nil
		}
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *Pool) Close() error { return nil }

// Add stores events as if they had been published.
func (p *Pool) Add(events ...event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

// Events returns a copy of the stored events.
func (p *Pool) Events() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Event(nil), p.events...)
}

// Reset drops every stored event.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// Queries returns every filter the pool was asked, oldest first.
func (p *Pool) Queries() []event.Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Filter(nil), p.queries...)
}

// LastQuery returns the most recent filter. It panics when no query was made.
func (p *Pool) LastQuery() event.Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries[len(p.queries)-1]
}
