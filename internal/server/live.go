package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pulseboard/internal/models"
	"pulseboard/internal/realtime"
)

const (
	liveHeartbeat    = 30 * time.Second
	liveWriteTimeout = 5 * time.Second
	liveBuffer       = 8
)

var liveUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// liveFrame is one message pushed to a dashboard client.
type liveFrame struct {
	Type         string               `json:"type"` // status | notification
	Status       *statusPayload       `json:"status,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// liveHub fans link state changes out to connected dashboard sockets.
type liveHub struct {
	mu     sync.Mutex
	subs   map[int]chan realtime.Snapshot
	nextID int
}

func newLiveHub() *liveHub {
	return &liveHub{subs: make(map[int]chan realtime.Snapshot)}
}

func (h *liveHub) broadcast(snap realtime.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (h *liveHub) subscribe() (<-chan realtime.Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan realtime.Snapshot, liveBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveLiveConnection(conn)
}

func (s *Server) serveLiveConnection(conn *websocket.Conn) {
	defer conn.Close()

	if err := writeLiveFrame(conn, s.statusFrame()); err != nil {
		return
	}

	stateCh, cancelState := s.live.subscribe()
	defer cancelState()
	notifCh, cancelNotif := s.center.Subscribe()
	defer cancelNotif()

	ticker := time.NewTicker(liveHeartbeat)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := writeLiveFrame(conn, s.statusFrame()); err != nil {
				return
			}
		case <-stateCh:
			if err := writeLiveFrame(conn, s.statusFrame()); err != nil {
				return
			}
		case n, ok := <-notifCh:
			if !ok {
				return
			}
			if err := writeLiveFrame(conn, liveFrame{Type: "notification", Notification: &n}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) statusFrame() liveFrame {
	payload := s.statusPayload()
	return liveFrame{Type: "status", Status: &payload}
}

func writeLiveFrame(conn *websocket.Conn, frame liveFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(frame)
}
