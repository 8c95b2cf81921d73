package casambi

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lkempf/casambi-bt-bridge/config"
	"github.com/lkempf/casambi-bt-bridge/events"
	"github.com/lkempf/casambi-bt-bridge/switches"
	"go.uber.org/zap"
	"tailscale.com/util/eventbus"
)

// fakeProtocol is a scriptable ProtocolClient for tests.
type fakeProtocol struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	connectCalls int
	units        []Unit
	onRawFrame   func(switches.RawFrame)
	onUnit       func(Unit)
	onDisconnect func()
}

func (f *fakeProtocol) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeProtocol) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeProtocol) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeProtocol) Units() []Unit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.units
}

func (f *fakeProtocol) OnRawFrame(fn func(switches.RawFrame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRawFrame = fn
}

func (f *fakeProtocol) OnUnitChanged(fn func(Unit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUnit = fn
}

func (f *fakeProtocol) OnDisconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

func (f *fakeProtocol) emitFrame(frame switches.RawFrame) {
	f.mu.Lock()
	fn := f.onRawFrame
	f.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		NetworkAddress:   "AA:BB:CC:DD:EE:FF",
		NetworkPassword:  "secret",
		EntryID:          "test-entry",
		HoldThreshold:    200 * time.Millisecond,
		HoldRepeat:       200 * time.Millisecond,
		DedupeWindow:     0,
		StaleTimeout:     5 * time.Second,
		ButtonNumbering:  "vendor",
		ReconnectDelay:   time.Second,
		MaxReconnectWait: 5 * time.Second,
	}
}

func newTestClient(t *testing.T, protocol ProtocolClient) (*Client, *events.Bus) {
	t.Helper()

	logger := zap.NewNop()
	bus, err := events.New(logger)
	if err != nil {
		t.Fatalf("events.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = bus.Close()
	})

	client, err := New(testConfig(), logger, bus, protocol)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, bus
}

func TestNewValidation(t *testing.T) {
	logger := zap.NewNop()
	bus, err := events.New(logger)
	if err != nil {
		t.Fatalf("events.New() error = %v", err)
	}
	defer func() {
		_ = bus.Close()
	}()

	protocol := &fakeProtocol{}

	tests := []struct {
		name string
		call func() (*Client, error)
	}{
		{
			name: "nil config",
			call: func() (*Client, error) { return New(nil, logger, bus, protocol) },
		},
		{
			name: "nil logger",
			call: func() (*Client, error) { return New(testConfig(), nil, bus, protocol) },
		},
		{
			name: "nil bus",
			call: func() (*Client, error) { return New(testConfig(), logger, nil, protocol) },
		},
		{
			name: "nil protocol",
			call: func() (*Client, error) { return New(testConfig(), logger, bus, nil) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.call(); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestStartConnectsAndPublishesStatus(t *testing.T) {
	protocol := &fakeProtocol{
		units: []Unit{{ID: 1, Name: "Hallway switch", Online: true, IsSwitch: true}},
	}
	client, bus := newTestClient(t, protocol)

	subscriber, err := bus.Client(events.ClientWeb)
	if err != nil {
		t.Fatalf("bus.Client() error = %v", err)
	}
	sub := eventbus.Subscribe[events.ConnectionStatusEvent](subscriber)
	defer sub.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Expect connecting then connected.
	var statuses []events.ConnectionStatus
	deadline := time.After(2 * time.Second)
	for len(statuses) < 2 {
		select {
		case event := <-sub.Events():
			statuses = append(statuses, event.Status)
		case <-deadline:
			t.Fatalf("timeout waiting for connection statuses, got %v", statuses)
		}
	}

	if statuses[0] != events.ConnectionStatusConnecting {
		t.Errorf("statuses[0] = %v, want connecting", statuses[0])
	}
	if statuses[1] != events.ConnectionStatusConnected {
		t.Errorf("statuses[1] = %v, want connected", statuses[1])
	}

	if !protocol.Connected() {
		t.Error("protocol not connected after Start")
	}
}

func TestRawFramesBecomeSwitchEvents(t *testing.T) {
	protocol := &fakeProtocol{}
	client, bus := newTestClient(t, protocol)

	subscriber, err := bus.Client(events.ClientMQTT)
	if err != nil {
		t.Fatalf("bus.Client() error = %v", err)
	}
	sub := eventbus.Subscribe[events.SwitchEvent](subscriber)
	defer sub.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	protocol.emitFrame(switches.RawFrame{
		UnitID:      13,
		Button:      0,
		MessageType: 0x1c,
		Flags:       0x01,
		Pressed:     true,
		Payload:     []byte{0x0d, 0x00, 0x01},
	})

	select {
	case event := <-sub.Events():
		if event.EntryID != "test-entry" {
			t.Errorf("EntryID = %q, want test-entry", event.EntryID)
		}
		if event.UnitID != 13 {
			t.Errorf("UnitID = %d, want 13", event.UnitID)
		}
		if event.Button != 1 {
			t.Errorf("Button = %d, want 1 (vendor numbering)", event.Button)
		}
		if event.Action != events.ActionPress {
			t.Errorf("Action = %v, want %v", event.Action, events.ActionPress)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for switch event")
	}
}

func TestUnitSnapshotPublishedOnConnect(t *testing.T) {
	protocol := &fakeProtocol{
		units: []Unit{
			{ID: 1, Name: "Hallway switch", Online: true, IsSwitch: true},
			{ID: 3, Name: "Ceiling light", Online: true, Level: 128},
		},
	}
	client, bus := newTestClient(t, protocol)

	subscriber, err := bus.Client(events.ClientWeb)
	if err != nil {
		t.Fatalf("bus.Client() error = %v", err)
	}
	sub := eventbus.Subscribe[events.UnitStateEvent](subscriber)
	defer sub.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	seen := map[int]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case event := <-sub.Events():
			seen[event.UnitID] = true
		case <-deadline:
			t.Fatalf("timeout waiting for unit snapshot, saw %v", seen)
		}
	}

	if !seen[1] || !seen[3] {
		t.Errorf("unit snapshot missing units, saw %v", seen)
	}
}

func TestConnectRetriesOnFailure(t *testing.T) {
	protocol := &fakeProtocol{connectErr: fmt.Errorf("network not found")}
	client, bus := newTestClient(t, protocol)

	subscriber, err := bus.Client(events.ClientWeb)
	if err != nil {
		t.Fatalf("bus.Client() error = %v", err)
	}
	sub := eventbus.Subscribe[events.ConnectionStatusEvent](subscriber)
	defer sub.Close()

	if err := client.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			if event.Status == events.ConnectionStatusReconnecting {
				if event.Error == "" {
					t.Error("reconnecting status missing error message")
				}
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for reconnecting status")
		}
	}
}

func TestDisconnectDuringRetriesIsSafe(t *testing.T) {
	protocol := &fakeProtocol{connectErr: fmt.Errorf("network not found")}
	client, _ := newTestClient(t, protocol)

	if err := client.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Status publishing reads the reconnect counter while the retry loop
	// updates it; run under -race.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				client.handleDisconnect()
			}
		}()
	}
	wg.Wait()
}

func TestUnitsPassthrough(t *testing.T) {
	protocol := &fakeProtocol{
		units: []Unit{{ID: 2, Name: "Bedroom switch", IsSwitch: true}},
	}
	client, _ := newTestClient(t, protocol)

	units := client.Units()
	if len(units) != 1 || units[0].ID != 2 {
		t.Errorf("Units() = %v, want the fake's single unit", units)
	}
}
