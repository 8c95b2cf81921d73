// Package events provides event definitions and eventbus management.
package events

import (
	"time"
)

// Action is the semantic button action decoded from raw switch frames.
type Action string

const (
	// ActionPress is emitted when a button goes down.
	ActionPress Action = "button_press"

	// ActionHold is emitted repeatedly while a button stays down past the
	// hold threshold.
	ActionHold Action = "button_hold"

	// ActionRelease is emitted when a button is released before the hold
	// threshold.
	ActionRelease Action = "button_release"

	// ActionReleaseAfterHold is emitted when a button is released after at
	// least one hold was emitted.
	ActionReleaseAfterHold Action = "button_release_after_hold"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionPress, ActionHold, ActionRelease, ActionReleaseAfterHold:
		return true
	}
	return false
}

// SwitchEvent is published for every decoded switch button action.
// The JSON field names are the wire contract consumed by automations;
// the event fires on the host bus as casambi_bt_switch_event.
type SwitchEvent struct {
	Timestamp      time.Time `json:"-"`
	EntryID        string    `json:"entry_id"`
	UnitID         int       `json:"unit_id"`
	Button         int       `json:"button"`
	Action         Action    `json:"action"`
	MessageType    int       `json:"message_type"`
	Flags          int       `json:"flags"`
	PacketSequence int       `json:"packet_sequence"`
	PayloadHex     string    `json:"payload_hex,omitempty"`
}

// Equals reports whether two events carry the same payload, ignoring
// Timestamp and PacketSequence. Consumers that buffer events can use it to
// compare occurrences of the same physical press.
func (e SwitchEvent) Equals(other SwitchEvent) bool {
	return e.EntryID == other.EntryID &&
		e.UnitID == other.UnitID &&
		e.Button == other.Button &&
		e.Action == other.Action &&
		e.MessageType == other.MessageType &&
		e.Flags == other.Flags &&
		e.PayloadHex == other.PayloadHex
}

// UnitStateEvent is published when the protocol client reports a unit
// coming online, going offline, or changing level.
type UnitStateEvent struct {
	Timestamp time.Time
	UnitID    int
	Name      string
	Online    bool
	Level     int // last known dimmer level, 0-255
}

// ConnectionStatusEvent is published when connection status changes.
type ConnectionStatusEvent struct {
	Timestamp  time.Time
	Component  string // "casambi", "mqtt", "homekit", "web"
	Status     ConnectionStatus
	Error      string // Empty if no error
	Reconnects int    // Number of reconnection attempts
}

// ConnectionStatus represents the connection status.
type ConnectionStatus string

const (
	// ConnectionStatusDisconnected means not connected.
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"

	// ConnectionStatusConnecting means attempting to connect.
	ConnectionStatusConnecting ConnectionStatus = "connecting"

	// ConnectionStatusConnected means successfully connected.
	ConnectionStatusConnected ConnectionStatus = "connected"

	// ConnectionStatusReconnecting means attempting to reconnect.
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"

	// ConnectionStatusFailed means connection failed.
	ConnectionStatusFailed ConnectionStatus = "failed"
)
