package casambi

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/lkempf/casambi-bt-bridge/switches"
	"go.uber.org/zap"
)

// Switch frame opcodes as sent by the simulated network. The values match
// the message types observed on real networks.
const (
	simMessageTypeSwitch = 0x1c

	simFlagPressed = 0x01
)

// SimClient is a ProtocolClient that generates scripted switch traffic.
// It exists for development and tests; real deployments use the external
// protocol library.
type SimClient struct {
	logger   *zap.Logger
	interval time.Duration

	mu            sync.Mutex
	connected     bool
	units         []Unit
	onRawFrame    func(switches.RawFrame)
	onUnitChanged func(Unit)
	onDisconnect  func()
	cancel        context.CancelFunc
	sequence      int
}

// NewSimClient creates a simulated protocol client with a small fixed
// network: two switches and one dimmer. The interval controls how often a
// scripted press cycle starts.
func NewSimClient(logger *zap.Logger, interval time.Duration) (*SimClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &SimClient{
		logger:   logger,
		interval: interval,
		units: []Unit{
			{ID: 1, Name: "Hallway switch", Online: true, IsSwitch: true},
			{ID: 2, Name: "Bedroom switch", Online: true, IsSwitch: true},
			{ID: 3, Name: "Ceiling light", Online: true, Level: 128},
		},
	}, nil
}

// Connect starts the traffic generator.
func (s *SimClient) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.connected = true

	go s.run(ctx)

	s.logger.Info("simulated casambi network connected",
		zap.Int("units", len(s.units)),
		zap.Duration("interval", s.interval),
	)
	return nil
}

// Disconnect stops the traffic generator.
func (s *SimClient) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	s.cancel()

	s.logger.Info("simulated casambi network disconnected")
	return nil
}

// Connected reports whether the generator is running.
func (s *SimClient) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Units returns the simulated network contents.
func (s *SimClient) Units() []Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make([]Unit, len(s.units))
	copy(units, s.units)
	return units
}

// OnRawFrame registers the switch frame handler.
func (s *SimClient) OnRawFrame(fn func(switches.RawFrame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRawFrame = fn
}

// OnUnitChanged registers the unit change handler.
func (s *SimClient) OnUnitChanged(fn func(Unit)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnitChanged = fn
}

// OnDisconnect registers the disconnect handler.
func (s *SimClient) OnDisconnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = fn
}

// run plays press cycles until the context is cancelled. Every other cycle
// is a long press so hold handling gets exercised.
func (s *SimClient) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	long := false
	for {
		select {
		case <-ticker.C:
			unit := s.units[rand.Intn(2)] // switches only
			button := rand.Intn(2)

			duration := 150 * time.Millisecond
			if long {
				duration = 900 * time.Millisecond
			}
			long = !long

			s.playPress(ctx, unit.ID, button, duration)
		case <-ctx.Done():
			return
		}
	}
}

// playPress emits a press frame, waits, then emits the release frame.
func (s *SimClient) playPress(ctx context.Context, unitID, button int, duration time.Duration) {
	s.emitFrame(unitID, button, true)

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return
	}

	s.emitFrame(unitID, button, false)
}

func (s *SimClient) emitFrame(unitID, button int, pressed bool) {
	s.mu.Lock()
	handler := s.onRawFrame
	s.sequence++
	sequence := s.sequence
	s.mu.Unlock()

	if handler == nil {
		return
	}

	flags := 0
	if pressed {
		flags = simFlagPressed
	}

	handler(switches.RawFrame{
		UnitID:      unitID,
		Button:      button,
		MessageType: simMessageTypeSwitch,
		Flags:       flags,
		Pressed:     pressed,
		Sequence:    sequence,
		Payload:     []byte{byte(unitID), byte(button), byte(flags)},
	})
}
