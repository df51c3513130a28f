package ops

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/hpungsan/nci/internal/config"
	"github.com/hpungsan/nci/internal/db"
	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/logging"
	"github.com/hpungsan/nci/internal/relay"
)

// Result limits
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 1000
	DefaultListLimit   = 20
	MaxListLimit       = 1000
)

// Pagination describes how much of a result was returned.
type Pagination struct {
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Env carries the collaborators of relay-backed operations.
type Env struct {
	// Transport talks to the relays. It may be nil for offline operations.
	Transport *relay.Transport

	// Cache stores every event a query returned. nil disables caching and
	// offline mode.
	Cache *sql.DB

	Config *config.Config
	Logger *slog.Logger
}

func (e Env) config() *config.Config {
	if e.Config == nil {
		return config.DefaultConfig()
	}
	return e.Config
}

func (e Env) logger() *slog.Logger {
	return logging.OrDiscard(e.Logger)
}

// events answers filter from the relays, or from the cache when offline.
// Events fetched from relays are cached; a cache failure is logged, not
// returned.
func (e Env) events(ctx context.Context, filter event.Filter, offline bool) ([]event.Event, error) {
	if offline {
		if e.Cache == nil {
			return nil, errors.NewInvalidRequest("offline mode requires the event cache")
		}
		return db.LoadEvents(ctx, e.Cache, filter)
	}

	if e.Transport == nil {
		return nil, errors.NewInvalidRequest("no relays configured")
	}
	events, err := e.Transport.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	e.cache(ctx, events)
	return events, nil
}

func (e Env) cache(ctx context.Context, events []event.Event) {
	if e.Cache == nil || len(events) == 0 {
		return
	}
	n, err := db.SaveEvents(ctx, e.Cache, events)
	if err != nil {
		e.logger().Warn("failed to cache events", "error", err)
		return
	}
	e.logger().Debug("cached events", "received", len(events), "stored", n)
}

func (e Env) requireTransport() error {
	if e.Transport == nil {
		return errors.NewInvalidRequest("no relays configured")
	}
	return nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
