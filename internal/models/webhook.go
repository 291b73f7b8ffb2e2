package models

import "time"

// Webhook defines an HTTP callout fired for matching upstream events.
type Webhook struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	URL       string    `json:"url" validate:"required,url"`
	Topic     string    `json:"topic"` // prefix filter; empty matches every event
	Secret    string    `json:"secret,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether an event topic falls under the webhook's filter.
func (w Webhook) Matches(topic string) bool {
	if w.Topic == "" {
		return true
	}
	if len(topic) < len(w.Topic) {
		return false
	}
	return topic[:len(w.Topic)] == w.Topic
}

// DeliveryResult captures the outcome of the most recent delivery attempt.
type DeliveryResult struct {
	WebhookID   string    `json:"webhook_id"`
	EventTopic  string    `json:"event_topic"`
	OK          bool      `json:"ok"`
	StatusCode  int       `json:"status_code,omitempty"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Notification is a fire-and-forget toast destined for dashboard clients.
type Notification struct {
	Level   string    `json:"level"` // info, warning, error
	Title   string    `json:"title"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}
