package models

import (
	"encoding/json"
	"time"
)

// Event is a single frame received from the upstream feed.
type Event struct {
	ID         string          `json:"id,omitempty"`
	Topic      string          `json:"topic"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// StateChange records one transition of the upstream link.
type StateChange struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	Err  string    `json:"error,omitempty"`
	At   time.Time `json:"at"`
}
