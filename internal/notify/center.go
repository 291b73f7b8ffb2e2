// Package notify is the dashboard's toast surface: publishers fire and
// forget, subscribed clients receive best-effort.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"pulseboard/internal/models"
)

const subscriberBuffer = 16

// Center fans notifications out to subscribed dashboard clients. Publish
// never blocks: a subscriber whose buffer is full misses the notification.
type Center struct {
	log *zap.Logger

	mu     sync.Mutex
	subs   map[int]chan models.Notification
	nextID int
}

// NewCenter creates an empty notification center.
func NewCenter(log *zap.Logger) *Center {
	if log == nil {
		log = zap.NewNop()
	}
	return &Center{
		log:  log,
		subs: make(map[int]chan models.Notification),
	}
}

// Publish delivers a notification to every subscriber. Fire-and-forget.
func (c *Center) Publish(n models.Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	if n.Level == "" {
		n.Level = "info"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- n:
		default:
			c.log.Debug("notification dropped", zap.Int("subscriber", id))
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function that closes the channel and removes the subscription.
func (c *Center) Subscribe() (<-chan models.Notification, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan models.Notification, subscriberBuffer)
	c.subs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (c *Center) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
