package homekit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lkempf/casambi-bt-bridge/config"
	"github.com/lkempf/casambi-bt-bridge/events"
	"github.com/lkempf/casambi-bt-bridge/registry"
	"go.uber.org/zap"
)

const testDevicesYAML = `devices:
  - unit_id: 1
    name: Hallway switch
    model: Xpress
    buttons:
      - number: 1
        name: scene_a
      - number: 2
        name: scene_b
  - unit_id: 2
    name: Bedroom switch
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		EntryID:        "test-entry",
		HAPPin:         "00102003",
		HAPStoragePath: t.TempDir(),
		HAPPort:        12346,
	}
}

func testRegistry(t *testing.T, content string) *registry.Registry {
	t.Helper()

	path := filepath.Join(t.TempDir(), "devices.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	reg, err := registry.New(path, zap.NewNop())
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = reg.Close()
	})
	return reg
}

func testServer(t *testing.T) *Server {
	t.Helper()

	bus, err := events.New(zap.NewNop())
	if err != nil {
		t.Fatalf("events.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = bus.Close()
	})

	s, err := New(testConfig(t), zap.NewNop(), bus, testRegistry(t, testDevicesYAML))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
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
	reg := testRegistry(t, testDevicesYAML)
	cfg := testConfig(t)

	tests := []struct {
		name   string
		cfg    *config.Config
		logger *zap.Logger
		bus    *events.Bus
		reg    *registry.Registry
	}{
		{name: "nil config", cfg: nil, logger: logger, bus: bus, reg: reg},
		{name: "nil logger", cfg: cfg, logger: nil, bus: bus, reg: reg},
		{name: "nil bus", cfg: cfg, logger: logger, bus: nil, reg: reg},
		{name: "nil registry", cfg: cfg, logger: logger, bus: bus, reg: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.logger, tt.bus, tt.reg); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestServicesPerButton(t *testing.T) {
	s := testServer(t)

	// Two configured buttons on unit 1, one default button on unit 2.
	if got := len(s.services); got != 3 {
		t.Fatalf("services = %d, want 3", got)
	}

	for _, key := range []buttonKey{
		{unitID: 1, button: 1},
		{unitID: 1, button: 2},
		{unitID: 2, button: 1},
	} {
		if _, ok := s.services[key]; !ok {
			t.Errorf("missing service for unit %d button %d", key.unitID, key.button)
		}
	}
}

func TestFireSwitchEventMapsReleases(t *testing.T) {
	tests := []struct {
		name   string
		action events.Action
		want   int
	}{
		{name: "short release fires single press", action: events.ActionRelease, want: switchEventSinglePress},
		{name: "release after hold fires long press", action: events.ActionReleaseAfterHold, want: switchEventLongPress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(t)

			s.fireSwitchEvent(events.SwitchEvent{
				UnitID: 1,
				Button: 1,
				Action: tt.action,
			})

			svc := s.services[buttonKey{unitID: 1, button: 1}]
			if got := svc.ProgrammableSwitchEvent.Value(); got != tt.want {
				t.Errorf("ProgrammableSwitchEvent = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFireSwitchEventIgnoresPressAndHold(t *testing.T) {
	s := testServer(t)

	// Seed a known value, then check press and hold leave it alone.
	svc := s.services[buttonKey{unitID: 1, button: 1}]
	svc.ProgrammableSwitchEvent.SetValue(switchEventLongPress)

	for _, action := range []events.Action{events.ActionPress, events.ActionHold} {
		s.fireSwitchEvent(events.SwitchEvent{
			UnitID: 1,
			Button: 1,
			Action: action,
		})
	}

	if got := svc.ProgrammableSwitchEvent.Value(); got != switchEventLongPress {
		t.Errorf("ProgrammableSwitchEvent = %d, want unchanged %d", got, switchEventLongPress)
	}
}

func TestFireSwitchEventUnregisteredButton(t *testing.T) {
	s := testServer(t)

	// Must not panic for a unit that is not in the registry.
	s.fireSwitchEvent(events.SwitchEvent{
		UnitID: 99,
		Button: 1,
		Action: events.ActionRelease,
	})
}
