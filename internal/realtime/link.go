package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pulseboard/internal/models"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultBackoffMin       = time.Second
	defaultBackoffMax       = 30 * time.Second
)

// Sink receives every event read from the upstream feed.
type Sink func(models.Event)

// Watcher is notified after every state transition of the link.
type Watcher func(change models.StateChange, snap Snapshot)

// LinkConfig configures the upstream connection.
type LinkConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
}

// Link maintains a WebSocket connection to the upstream event feed. It owns
// the connection state, retries failed connections with capped exponential
// backoff, and fans inbound events out to attached sinks.
type Link struct {
	url    string
	dialer *websocket.Dialer
	log    *zap.Logger

	backoffMin time.Duration
	backoffMax time.Duration

	mu       sync.RWMutex
	state    State
	lastErr  error
	conn     *websocket.Conn
	sinks    map[int]Sink
	nextSink int
	watchers []Watcher

	ctx         context.Context
	cancel      context.CancelFunc
	reconnectCh chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewLink creates a link for the given upstream feed. Start must be called
// before the link dials anything.
func NewLink(cfg LinkConfig, log *zap.Logger) *Link {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = defaultBackoffMax
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		url:         cfg.URL,
		dialer:      &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		log:         log,
		backoffMin:  cfg.BackoffMin,
		backoffMax:  cfg.BackoffMax,
		sinks:       make(map[int]Sink),
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the connection loop in a goroutine.
func (l *Link) Start() {
	go l.run()
}

// Stop terminates the connection loop and waits until it has exited.
func (l *Link) Stop() {
	select {
	case <-l.doneCh:
		return
	default:
	}
	close(l.stopCh)
	l.cancel()
	l.mu.Lock()
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.mu.Unlock()
	<-l.doneCh
}

// Snapshot returns the presentation view of the current state. Safe to call
// on every request.
func (l *Link) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return snapshotOf(l.state, l.lastErr)
}

// StateNow returns the current tagged state.
func (l *Link) StateNow() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Reconnect wakes the retry loop immediately. It is fire-and-forget: while
// the link is connected or already dialing it has no effect.
func (l *Link) Reconnect() {
	select {
	case l.reconnectCh <- struct{}{}:
	default:
	}
}

// OnTransition registers a watcher for state changes. Watchers must be
// registered before Start.
func (l *Link) OnTransition(w Watcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, w)
}

// Attach registers an event sink and returns its handle.
func (l *Link) Attach(sink Sink) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSink
	l.nextSink++
	l.sinks[id] = sink
	return id
}

// Detach removes a previously attached sink.
func (l *Link) Detach(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sinks, id)
}

func (l *Link) run() {
	defer close(l.doneCh)

	backoff := l.backoffMin
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		l.setState(StateConnecting, nil)
		conn, resp, err := l.dialer.DialContext(l.ctx, l.url, nil)
		if err != nil {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			l.setState(StateFailed, err)
			if !l.waitRetry(backoff) {
				return
			}
			backoff = nextBackoff(backoff, l.backoffMax)
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()
		l.setState(StateConnected, nil)
		backoff = l.backoffMin

		err = l.readLoop(conn)
		_ = conn.Close()
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()

		select {
		case <-l.stopCh:
			return
		default:
		}

		l.setState(StateFailed, err)
		if !l.waitRetry(backoff) {
			return
		}
		backoff = nextBackoff(backoff, l.backoffMax)
	}
}

func (l *Link) readLoop(conn *websocket.Conn) error {
	for {
		var frame struct {
			ID    string          `json:"id"`
			Topic string          `json:"topic"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Topic == "" {
			continue
		}
		l.dispatch(models.Event{
			ID:         frame.ID,
			Topic:      frame.Topic,
			Data:       frame.Data,
			ReceivedAt: time.Now().UTC(),
		})
	}
}

func (l *Link) dispatch(ev models.Event) {
	l.mu.RLock()
	sinks := make([]Sink, 0, len(l.sinks))
	for _, s := range l.sinks {
		sinks = append(sinks, s)
	}
	l.mu.RUnlock()

	for _, s := range sinks {
		s(ev)
	}
}

// waitRetry blocks until the backoff expires, Reconnect is called, or the
// link is stopped. It reports whether the loop should keep running.
func (l *Link) waitRetry(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-l.reconnectCh:
		l.log.Info("reconnect requested")
		return true
	case <-l.stopCh:
		return false
	}
}

// setState records a transition and notifies watchers outside the lock. A
// successful connect clears the retained error; a failure replaces it; the
// connecting phase keeps the previous failure until the attempt resolves.
func (l *Link) setState(to State, err error) {
	l.mu.Lock()
	from := l.state
	if err != nil {
		l.lastErr = err
	}
	if to == StateConnected {
		l.lastErr = nil
	}
	l.state = to
	snap := snapshotOf(l.state, l.lastErr)
	watchers := make([]Watcher, len(l.watchers))
	copy(watchers, l.watchers)
	l.mu.Unlock()

	change := models.StateChange{
		From: from.String(),
		To:   to.String(),
		At:   time.Now().UTC(),
	}
	if err != nil {
		change.Err = err.Error()
	}

	switch to {
	case StateConnected:
		l.log.Info("upstream connected", zap.String("url", l.url))
	case StateFailed:
		l.log.Warn("upstream connection failed", zap.Error(err))
	}

	for _, w := range watchers {
		w(change, snap)
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
