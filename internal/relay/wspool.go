package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/event"
	"github.com/hpungsan/nci/internal/keys"
	"github.com/hpungsan/nci/internal/logging"
)

// DefaultEOSETimeout bounds how long one relay may take to finish
// answering a subscription.
const DefaultEOSETimeout = 10 * time.Second

const subscriptionBuffer = 256

// WSPool speaks NIP-01 over websockets. It dials each relay lazily on
// first use and keeps the connection for later calls.
type WSPool struct {
	dialer      *websocket.Dialer
	eoseTimeout time.Duration
	verify      bool
	logger      *slog.Logger

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
}

// PoolOption configures a WSPool.
type PoolOption func(*WSPool)

// WithEOSETimeout sets the per-relay subscription timeout.
func WithEOSETimeout(d time.Duration) PoolOption {
	return func(p *WSPool) {
		if d > 0 {
			p.eoseTimeout = d
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) PoolOption {
	return func(p *WSPool) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithoutVerification accepts events without checking id and signature.
func WithoutVerification() PoolOption {
	return func(p *WSPool) { p.verify = false }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *WSPool) { p.logger = logging.OrDiscard(l) }
}

// NewWSPool creates an empty pool.
func NewWSPool(opts ...PoolOption) *WSPool {
	p := &WSPool{
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		eoseTimeout: DefaultEOSETimeout,
		verify:      true,
		logger:      logging.Discard(),
		conns:       make(map[string]*wsConn),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Query implements Pool. Relays that fail are logged and left out; the call
// fails only when every relay failed.
func (p *WSPool) Query(ctx context.Context, urls []string, filter event.Filter) ([]event.Event, error) {
	results := make([][]event.Event, len(urls))
	errs := make([]error, len(urls))

	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.queryOne(ctx, url, filter)
		}()
	}
	wg.Wait()

	var (
		all      []event.Event
		failures int
		firstErr error
	)
	for i, url := range urls {
		all = append(all, results[i]...)
		if err := errs[i]; err != nil {
			failures++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", url, err)
			}
			p.logger.Warn("relay query failed", "relay", url, "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(urls) > 0 && failures == len(urls) {
		return nil, fmt.Errorf("all relays failed: %w", firstErr)
	}

	seen := make(map[string]bool, len(all))
	out := make([]event.Event, 0, len(all))
	for _, ev := range all {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		if !filter.Matches(ev) {
			p.logger.Debug("dropping event outside filter", "event", ev.ID)
			continue
		}
		if p.verify && !keys.Verify(ev) {
			p.logger.Warn("dropping event with bad signature",
				"event", ev.ID, "code", string(errors.ErrInvalidEventSignature))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (p *WSPool) queryOne(ctx context.Context, url string, filter event.Filter) ([]event.Event, error) {
	c, err := p.conn(ctx, url)
	if err != nil {
		return nil, err
	}

	subID := strings.ToLower(ulid.Make().String())
	sub := c.subscribe(subID)
	defer c.unsubscribe(subID)

	if err := c.send(ctx, []any{"REQ", subID, filter}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(p.eoseTimeout)
	defer timer.Stop()

	var out []event.Event
	drain := func() []event.Event {
		for {
			select {
			case ev := <-sub.events:
				out = append(out, ev)
			default:
				return out
			}
		}
	}

	for {
		select {
		case ev := <-sub.events:
			out = append(out, ev)
		case <-sub.eose:
			return drain(), nil
		case reason := <-sub.closed:
			return drain(), fmt.Errorf("subscription closed: %s", reason)
		case <-c.done:
			return drain(), fmt.Errorf("connection lost: %w", c.err)
		case <-timer.C:
			p.logger.Debug("relay did not finish in time", "relay", url, "events", len(out))
			return drain(), nil
		case <-ctx.Done():
			return drain(), ctx.Err()
		}
	}
}

// Publish implements Pool. A relay answering OK false counts as a failure.
func (p *WSPool) Publish(ctx context.Context, url string, ev event.Event) error {
	c, err := p.conn(ctx, url)
	if err != nil {
		return err
	}

	ack := c.expectOK(ev.ID)
	defer c.forgetOK(ev.ID)

	if err := c.send(ctx, []any{"EVENT", ev}); err != nil {
		return err
	}

	select {
	case r := <-ack:
		if !r.accepted {
			if r.message == "" {
				return fmt.Errorf("rejected")
			}
			return fmt.Errorf("rejected: %s", r.message)
		}
		return nil
	case <-c.done:
		return fmt.Errorf("connection lost: %w", c.err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every connection.
func (p *WSPool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*wsConn)
	p.closed = true
	p.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	return nil
}

func (p *WSPool) conn(ctx context.Context, url string) (*wsConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	if c, ok := p.conns[url]; ok && c.alive() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	ws, _, err := p.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	fresh := newWSConn(url, ws, p.logger)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		fresh.close()
		return nil, fmt.Errorf("pool is closed")
	}
	if c, ok := p.conns[url]; ok && c.alive() {
		// Lost a dial race; keep the connection already stored.
		fresh.close()
		return c, nil
	}
	p.conns[url] = fresh
	go fresh.readLoop()
	return fresh, nil
}

type okResult struct {
	accepted bool
	message  string
}

type subscription struct {
	events   chan event.Event
	eose     chan struct{}
	eoseOnce sync.Once
	closed   chan string
	done     chan struct{}
}

type wsConn struct {
	url    string
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*subscription
	oks  map[string]chan okResult

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newWSConn(url string, ws *websocket.Conn, logger *slog.Logger) *wsConn {
	return &wsConn{
		url:    url,
		ws:     ws,
		logger: logger,
		subs:   make(map[string]*subscription),
		oks:    make(map[string]chan okResult),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *wsConn) close() {
	_ = c.ws.Close()
}

func (c *wsConn) send(ctx context.Context, frame []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(frame); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(buf.Bytes(), []byte("\n"))); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *wsConn) subscribe(id string) *subscription {
	sub := &subscription{
		events: make(chan event.Event, subscriptionBuffer),
		eose:   make(chan struct{}),
		closed: make(chan string, 1),
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.subs[id] = sub
	c.mu.Unlock()
	return sub
}

func (c *wsConn) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	close(sub.done)

	if c.alive() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.send(ctx, []any{"CLOSE", id})
	}
}

func (c *wsConn) expectOK(eventID string) chan okResult {
	ch := make(chan okResult, 1)
	c.mu.Lock()
	c.oks[eventID] = ch
	c.mu.Unlock()
	return ch
}

func (c *wsConn) forgetOK(eventID string) {
	c.mu.Lock()
	delete(c.oks, eventID)
	c.mu.Unlock()
}

func (c *wsConn) readLoop() {
	defer c.closeOnce.Do(func() { close(c.done) })
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			c.logger.Debug("relay connection ended", "relay", c.url, "error", err)
			return
		}
		c.dispatch(data)
	}
}

func (c *wsConn) dispatch(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) == 0 {
		c.logger.Debug("ignoring unparseable frame", "relay", c.url)
		return
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return
	}

	switch label {
	case "EVENT":
		var subID string
		var ev event.Event
		if len(frame) < 3 || json.Unmarshal(frame[1], &subID) != nil || json.Unmarshal(frame[2], &ev) != nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[subID]
		c.mu.Unlock()
		if sub == nil {
			return
		}
		select {
		case sub.events <- ev:
		case <-sub.done:
		}

	case "EOSE":
		var subID string
		if len(frame) < 2 || json.Unmarshal(frame[1], &subID) != nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[subID]
		c.mu.Unlock()
		if sub != nil {
			sub.eoseOnce.Do(func() { close(sub.eose) })
		}

	case "CLOSED":
		var subID, reason string
		if len(frame) < 2 || json.Unmarshal(frame[1], &subID) != nil {
			return
		}
		if len(frame) >= 3 {
			_ = json.Unmarshal(frame[2], &reason)
		}
		c.mu.Lock()
		sub := c.subs[subID]
		c.mu.Unlock()
		if sub != nil {
			select {
			case sub.closed <- reason:
			default:
			}
		}

	case "OK":
		var (
			id       string
			accepted bool
			message  string
		)
		if len(frame) < 3 || json.Unmarshal(frame[1], &id) != nil || json.Unmarshal(frame[2], &accepted) != nil {
			return
		}
		if len(frame) >= 4 {
			_ = json.Unmarshal(frame[3], &message)
		}
		c.mu.Lock()
		ch := c.oks[id]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- okResult{accepted: accepted, message: message}:
			default:
			}
		}

	case "NOTICE":
		var msg string
		if len(frame) >= 2 {
			_ = json.Unmarshal(frame[1], &msg)
		}
		c.logger.Debug("relay notice", "relay", c.url, "message", msg)
	}
}
