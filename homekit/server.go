// Package homekit exposes registered Casambi switches as HomeKit stateless
// programmable switch accessories.
package homekit

import (
	"context"
	"fmt"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	"github.com/lkempf/casambi-bt-bridge/config"
	"github.com/lkempf/casambi-bt-bridge/events"
	"github.com/lkempf/casambi-bt-bridge/registry"
	"go.uber.org/zap"
	"tailscale.com/util/eventbus"
)

// HomeKit programmable switch event values.
const (
	switchEventSinglePress = 0
	switchEventLongPress   = 2
)

type buttonKey struct {
	unitID int
	button int
}

// Server manages the HomeKit HAP server and switch accessories.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	bus      *events.Bus
	client   *eventbus.Client
	registry *registry.Registry
	server   *hap.Server
	services map[buttonKey]*service.StatelessProgrammableSwitch
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new HomeKit server with one stateless programmable switch
// accessory per registered device. Accessories are fixed at startup; devices
// added to the registry later need a restart to appear in HomeKit.
func New(cfg *config.Config, logger *zap.Logger, bus *events.Bus, reg *registry.Registry) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("eventbus is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	client, err := bus.Client(events.ClientHomeKit)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get eventbus client: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		client:   client,
		registry: reg,
		services: make(map[buttonKey]*service.StatelessProgrammableSwitch),
		ctx:      ctx,
		cancel:   cancel,
	}

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Casambi Bridge",
		Manufacturer: "Casambi",
		Model:        "casambi-bt-bridge",
		SerialNumber: cfg.EntryID,
	})

	accessories := []*accessory.A{}
	for _, dev := range reg.Devices() {
		accessories = append(accessories, s.buildSwitchAccessory(dev))
	}

	s.server, err = hap.NewServer(
		hap.NewFsStore(cfg.HAPStoragePath),
		bridge.A,
		accessories...,
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create HAP server: %w", err)
	}

	s.server.Pin = cfg.HAPPin
	s.server.Addr = fmt.Sprintf(":%d", cfg.HAPPort)

	logger.Info("homekit server created",
		zap.Int("accessories", len(accessories)),
		zap.String("pin", cfg.HAPPin),
		zap.Int("port", cfg.HAPPort),
	)

	return s, nil
}

// buildSwitchAccessory creates one accessory per device with a stateless
// programmable switch service per configured button.
func (s *Server) buildSwitchAccessory(dev registry.Device) *accessory.A {
	a := accessory.New(accessory.Info{
		Name:         dev.Name,
		Manufacturer: "Casambi",
		Model:        dev.Model,
		SerialNumber: fmt.Sprintf("%s-%d", s.cfg.EntryID, dev.UnitID),
	}, accessory.TypeProgrammableSwitch)

	buttons := dev.Buttons
	if len(buttons) == 0 {
		buttons = []registry.Button{{Number: 1}}
	}

	for _, button := range buttons {
		svc := service.NewStatelessProgrammableSwitch()
		a.AddS(svc.S)
		s.services[buttonKey{unitID: dev.UnitID, button: button.Number}] = svc
	}

	return a
}

// Start starts the HomeKit server and begins handling events.
func (s *Server) Start() error {
	s.logger.Info("starting homekit server")

	go s.handleSwitchEvents()

	go func() {
		if err := s.server.ListenAndServe(s.ctx); err != nil {
			s.logger.Error("HAP server error", zap.Error(err))
		}
	}()

	s.publishConnectionStatus(events.ConnectionStatusConnected, "")

	s.logger.Info("homekit server started successfully")
	return nil
}

// handleSwitchEvents subscribes to switch events and fires HomeKit events.
func (s *Server) handleSwitchEvents() {
	sub := eventbus.Subscribe[events.SwitchEvent](s.client)
	defer sub.Close()

	s.logger.Info("subscribed to switch events")

	for {
		select {
		case event := <-sub.Events():
			s.fireSwitchEvent(event)
		case <-s.ctx.Done():
			s.logger.Info("stopping switch event handler")
			return
		}
	}
}

// fireSwitchEvent maps release events onto HomeKit press events. Releases
// drive HomeKit because press delivery is not guaranteed by the transport.
func (s *Server) fireSwitchEvent(event events.SwitchEvent) {
	var value int
	switch event.Action {
	case events.ActionRelease:
		value = switchEventSinglePress
	case events.ActionReleaseAfterHold:
		value = switchEventLongPress
	default:
		return
	}

	svc, ok := s.services[buttonKey{unitID: event.UnitID, button: event.Button}]
	if !ok {
		s.logger.Debug("switch event for unregistered button",
			zap.Int("unit_id", event.UnitID),
			zap.Int("button", event.Button),
		)
		return
	}

	s.logger.Debug("firing homekit switch event",
		zap.Int("unit_id", event.UnitID),
		zap.Int("button", event.Button),
		zap.Int("value", value),
	)

	svc.ProgrammableSwitchEvent.SetValue(value)
}

// publishConnectionStatus publishes a connection status event.
func (s *Server) publishConnectionStatus(status events.ConnectionStatus, errMsg string) {
	event := events.ConnectionStatusEvent{
		Component: "homekit",
		Status:    status,
		Error:     errMsg,
	}
	s.bus.PublishConnectionStatus(s.client, event)
}

// Close gracefully shuts down the HomeKit server.
func (s *Server) Close() error {
	s.logger.Info("shutting down homekit server")

	s.publishConnectionStatus(events.ConnectionStatusDisconnected, "")

	s.cancel()

	// The server stops when the context is cancelled

	s.logger.Info("homekit server shut down complete")
	return nil
}
