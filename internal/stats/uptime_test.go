package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pulseboard/internal/models"
)

func TestComputeLinkUptimeEmptyHistory(t *testing.T) {
	out := ComputeLinkUptime(nil, time.Now())
	assert.Zero(t, out.UptimePercent)
	assert.Empty(t, out.LastState)
}

func TestComputeLinkUptimeWeightsByDuration(t *testing.T) {
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	transitions := []models.StateChange{
		{From: "idle", To: "connecting", At: base},
		{From: "connecting", To: "connected", At: base.Add(1 * time.Minute)},
		{From: "connected", To: "failed", Err: "reset", At: base.Add(7 * time.Minute)},
		{From: "failed", To: "connecting", At: base.Add(8 * time.Minute)},
		{From: "connecting", To: "connected", At: base.Add(9 * time.Minute)},
	}
	now := base.Add(10 * time.Minute)

	out := ComputeLinkUptime(transitions, now)

	// Connected for minutes 1-7 and 9-10 of a 10 minute window.
	assert.InDelta(t, 70.0, out.UptimePercent, 0.01)
	assert.Equal(t, 2, out.Connects)
	assert.Equal(t, 1, out.Failures)
	assert.Equal(t, "connected", out.LastState)
	assert.Equal(t, base.Add(9*time.Minute).Format(time.RFC3339), out.LastChange)
}

func TestComputeLinkUptimeAllDown(t *testing.T) {
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	transitions := []models.StateChange{
		{From: "idle", To: "connecting", At: base},
		{From: "connecting", To: "failed", Err: "refused", At: base.Add(time.Minute)},
	}

	out := ComputeLinkUptime(transitions, base.Add(5*time.Minute))
	assert.Zero(t, out.UptimePercent)
	assert.Equal(t, 1, out.Failures)
	assert.Equal(t, "failed", out.LastState)
}
