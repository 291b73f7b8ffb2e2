package stats

import (
	"math"
	"time"

	"pulseboard/internal/models"
)

// LinkUptime summarises the health of the upstream link over the recorded
// transition history.
type LinkUptime struct {
	UptimePercent float64 `json:"uptime_percent"`
	Connects      int     `json:"connects"`
	Failures      int     `json:"failures"`
	LastState     string  `json:"last_state,omitempty"`
	LastChange    string  `json:"last_change,omitempty"`
}

// ComputeLinkUptime aggregates time-weighted uptime from state transitions.
// The window starts at the first recorded transition and ends at now.
func ComputeLinkUptime(transitions []models.StateChange, now time.Time) LinkUptime {
	out := LinkUptime{}
	if len(transitions) == 0 {
		return out
	}

	var connected, total time.Duration
	for i, change := range transitions {
		switch change.To {
		case "connected":
			out.Connects++
		case "failed":
			out.Failures++
		}

		end := now
		if i+1 < len(transitions) {
			end = transitions[i+1].At
		}
		span := end.Sub(change.At)
		if span < 0 {
			span = 0
		}
		total += span
		if change.To == "connected" {
			connected += span
		}
	}

	if total > 0 {
		out.UptimePercent = round2(float64(connected) / float64(total) * 100)
	}

	last := transitions[len(transitions)-1]
	out.LastState = last.To
	out.LastChange = last.At.UTC().Format(time.RFC3339)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
