package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pulseboard/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// The standard library's keep-alive HTTP connections linger briefly
		// after httptest servers close.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// feedServer is a fake upstream that pushes the given frames to every client.
type feedServer struct {
	srv    *httptest.Server
	frames []string

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFeedServer(t *testing.T, frames ...string) *feedServer {
	f := &feedServer{frames: frames}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		for _, frame := range f.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.close)
	return f
}

func (f *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *feedServer) closeClients() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		_ = conn.Close()
	}
	f.conns = nil
}

func (f *feedServer) close() {
	f.closeClients()
	f.srv.Close()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLinkConnectsAndDispatchesEvents(t *testing.T) {
	feed := newFeedServer(t,
		`{"id":"e1","topic":"jobs.updated","data":{"n":1}}`,
		`{"topic":""}`,
		`{"id":"e2","topic":"webhooks.created"}`,
	)

	link := NewLink(LinkConfig{URL: feed.wsURL()}, nil)

	var mu sync.Mutex
	var got []models.Event
	link.Attach(func(ev models.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	link.Start()
	defer link.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "jobs.updated", got[0].Topic)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "webhooks.created", got[1].Topic)
	assert.False(t, got[0].ReceivedAt.IsZero())

	snap := link.Snapshot()
	assert.True(t, snap.Connected)
	assert.Empty(t, snap.Err)
}

func TestLinkFailsWhenUpstreamUnreachable(t *testing.T) {
	feed := newFeedServer(t)
	url := feed.wsURL()
	feed.close()

	link := NewLink(LinkConfig{
		URL:        url,
		BackoffMin: time.Minute, // keep the loop parked in the failed phase
		BackoffMax: time.Minute,
	}, nil)
	link.Start()
	defer link.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return link.StateNow() == StateFailed
	})

	snap := link.Snapshot()
	assert.False(t, snap.Connected)
	assert.False(t, snap.Connecting)
	assert.NotEmpty(t, snap.Err)
}

func TestLinkReconnectWakesRetryLoop(t *testing.T) {
	feed := newFeedServer(t)

	link := NewLink(LinkConfig{
		URL:        feed.wsURL(),
		BackoffMin: time.Minute,
		BackoffMax: time.Minute,
	}, nil)
	link.Start()
	defer link.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return link.StateNow() == StateConnected
	})

	// Drop the client; the link parks in the failed phase for a minute.
	feed.closeClients()
	waitFor(t, 2*time.Second, func() bool {
		return link.StateNow() == StateFailed
	})

	link.Reconnect()
	waitFor(t, 2*time.Second, func() bool {
		return link.StateNow() == StateConnected
	})
}

func TestLinkTransitionsNotifyWatchers(t *testing.T) {
	feed := newFeedServer(t)

	link := NewLink(LinkConfig{URL: feed.wsURL()}, nil)

	var mu sync.Mutex
	var seen []string
	link.OnTransition(func(change models.StateChange, snap Snapshot) {
		mu.Lock()
		seen = append(seen, change.To)
		mu.Unlock()
		assert.False(t, snap.Connected && snap.Connecting)
	})

	link.Start()
	defer link.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, "connecting", seen[0])
	assert.Equal(t, "connected", seen[1])
}

func TestLinkStopIsIdempotent(t *testing.T) {
	feed := newFeedServer(t)

	link := NewLink(LinkConfig{URL: feed.wsURL()}, nil)
	link.Start()

	waitFor(t, 2*time.Second, func() bool {
		return link.StateNow() == StateConnected
	})

	link.Stop()
	link.Stop()
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(30*time.Second, 30*time.Second))
}
