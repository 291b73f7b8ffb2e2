// Package indicator renders a connection snapshot into the badge and icon
// payloads shown by dashboard clients. It is pure presentation: the only side
// effect it can cause is invoking a caller-supplied reconnect callback.
package indicator

import "pulseboard/internal/realtime"

const (
	IconConnecting = "sync"
	IconLive       = "wifi"
	IconError      = "wifi-off"
	IconIdle       = "circle"

	TooltipConnecting = "Connecting..."
	TooltipLive       = "Live"
	TooltipIdle       = "Offline"
)

// Badge is one labelled pill in the full indicator.
type Badge struct {
	Label string `json:"label"`
	Kind  string `json:"kind"` // connecting, live, disconnected
}

// Full is the expanded indicator: independently evaluated badges plus an
// optional reconnect control. The three conditions are deliberately not a
// single switch: invariant-violating input renders every matching badge.
type Full struct {
	Badges    []Badge `json:"badges"`
	Reconnect bool    `json:"reconnect"`
}

// Compact is the single-icon indicator with a state tooltip.
type Compact struct {
	Icon      string `json:"icon"`
	Tooltip   string `json:"tooltip"`
	Clickable bool   `json:"clickable"`
}

// Render builds the full indicator for a snapshot. The reconnect control
// appears only in the failed phase, never while a new attempt is connecting.
func Render(snap realtime.Snapshot) Full {
	var out Full
	if snap.Connecting {
		out.Badges = append(out.Badges, Badge{Label: "Connecting", Kind: "connecting"})
	}
	if snap.Connected {
		out.Badges = append(out.Badges, Badge{Label: "Live", Kind: "live"})
	}
	if snap.Err != "" && !snap.Connecting {
		out.Badges = append(out.Badges, Badge{Label: "Disconnected", Kind: "disconnected"})
		out.Reconnect = true
	}
	return out
}

// RenderCompact builds the compact indicator. Tooltip precedence is
// connecting, then connected, then error; the first matching state wins.
// Clickable mirrors the click rule: the icon is live iff an error is set.
func RenderCompact(snap realtime.Snapshot) Compact {
	out := Compact{Clickable: snap.Err != ""}
	switch {
	case snap.Connecting:
		out.Icon = IconConnecting
		out.Tooltip = TooltipConnecting
	case snap.Connected:
		out.Icon = IconLive
		out.Tooltip = TooltipLive
	case snap.Err != "":
		out.Icon = IconError
		out.Tooltip = "Disconnected: " + snap.Err
	default:
		out.Icon = IconIdle
		out.Tooltip = TooltipIdle
	}
	return out
}

// Click applies the compact-mode click rule: the reconnect callback fires iff
// the snapshot carries an error. It reports whether the callback ran. The
// callback's outcome is fire-and-forget.
func Click(snap realtime.Snapshot, reconnect func()) bool {
	if snap.Err == "" || reconnect == nil {
		return false
	}
	reconnect()
	return true
}
