// Package casambi wraps the external Casambi Bluetooth protocol client and
// dispatches its notifications onto the internal eventbus.
//
// Bluetooth transport, protocol framing, authentication and device control
// all live in the external library. This package owns the glue: connection
// lifecycle, reconnect orchestration and decoding raw switch frames into
// semantic button events.
package casambi

import (
	"context"

	"github.com/lkempf/casambi-bt-bridge/switches"
)

// Unit is a physical device in the Casambi network as reported by the
// protocol client.
type Unit struct {
	ID       int
	Name     string
	Online   bool
	Level    int // last known dimmer level, 0-255
	IsSwitch bool
}

// ProtocolClient is the boundary to the external Casambi Bluetooth library.
// Implementations connect to a network over BLE, authenticate and deliver
// decoded notifications. The bridge never touches the transport itself.
type ProtocolClient interface {
	// Connect establishes a session with the network. It blocks until the
	// session is up or ctx is done.
	Connect(ctx context.Context) error

	// Disconnect tears down the session. Safe to call when not connected.
	Disconnect() error

	// Connected reports whether a session is currently up.
	Connected() bool

	// Units returns the units known to the network.
	Units() []Unit

	// OnRawFrame registers the handler for decoded switch notification
	// frames. Must be called before Connect.
	OnRawFrame(func(switches.RawFrame))

	// OnUnitChanged registers the handler for unit state changes.
	OnUnitChanged(func(Unit))

	// OnDisconnect registers the handler invoked when the session drops
	// for any reason other than an explicit Disconnect.
	OnDisconnect(func())
}
