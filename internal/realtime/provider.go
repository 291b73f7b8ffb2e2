package realtime

import (
	"net/http"
	"sync"
)

// EventSource is the attach/detach surface of the upstream link.
type EventSource interface {
	Attach(Sink) int
	Detach(id int)
}

// Provider hands out scoped access to the upstream event subscription. The
// subscription is attached when the first scope is acquired and detached when
// the last one is released, so nested scopes never duplicate it.
type Provider struct {
	source EventSource
	sink   Sink

	mu     sync.Mutex
	refs   int
	sinkID int
}

// NewProvider wires an event source to the sink that should run while at
// least one scope is alive (typically the query-cache invalidator).
func NewProvider(source EventSource, sink Sink) *Provider {
	return &Provider{source: source, sink: sink}
}

// Acquire enters a subscription scope. Callers must release the returned
// scope on every exit path.
func (p *Provider) Acquire() *Scope {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs++
	if p.refs == 1 {
		p.sinkID = p.source.Attach(p.sink)
	}
	return &Scope{provider: p}
}

// Middleware runs the wrapped handler inside a subscription scope. The
// response passes through unchanged regardless of connection state.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := p.Acquire()
		defer scope.Release()
		next.ServeHTTP(w, r)
	})
}

// Active returns the number of live scopes.
func (p *Provider) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

func (p *Provider) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs--
	if p.refs == 0 {
		p.source.Detach(p.sinkID)
	}
}

// Scope is a live claim on the shared subscription. Release is idempotent.
type Scope struct {
	provider *Provider
	once     sync.Once
}

// Release exits the scope, detaching the shared subscription when it was the
// last one.
func (s *Scope) Release() {
	s.once.Do(s.provider.release)
}
