package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"tailscale.com/util/eventbus"
)

// ClientName represents a named eventbus client.
type ClientName string

const (
	// ClientCasambi is the Casambi network client.
	ClientCasambi ClientName = "casambi"

	// ClientMQTT is the MQTT bridge client.
	ClientMQTT ClientName = "mqtt"

	// ClientHomeKit is the HomeKit client.
	ClientHomeKit ClientName = "homekit"

	// ClientWeb is the Web server client.
	ClientWeb ClientName = "web"

	// ClientMetrics is the metrics client.
	ClientMetrics ClientName = "metrics"
)

// Bus manages the eventbus and named clients.
type Bus struct {
	bus     *eventbus.Bus
	clients map[ClientName]*eventbus.Client
	mu      sync.RWMutex
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	lastMu  sync.Mutex
	last    *SwitchEvent // last published switch event, for the debug page
}

// New creates a new eventbus with named clients.
func New(logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := eventbus.New()

	b := &Bus{
		bus:     bus,
		clients: make(map[ClientName]*eventbus.Client),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	b.createClients()

	logger.Info("eventbus initialized",
		zap.Int("client_count", len(b.clients)),
	)

	return b, nil
}

// createClients creates all named eventbus clients.
func (b *Bus) createClients() {
	clientNames := []ClientName{
		ClientCasambi,
		ClientMQTT,
		ClientHomeKit,
		ClientWeb,
		ClientMetrics,
	}

	for _, name := range clientNames {
		client := b.bus.Client(string(name))
		b.clients[name] = client
	}
}

// Client returns the eventbus client for the given name.
func (b *Bus) Client(name ClientName) (*eventbus.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	client, ok := b.clients[name]
	if !ok {
		return nil, fmt.Errorf("client %q not found", name)
	}

	return client, nil
}

// PublishSwitchEvent publishes a decoded switch event. Deduplication happens
// upstream in the tracker, so every event that reaches the bus is delivered.
func (b *Bus) PublishSwitchEvent(client *eventbus.Client, event SwitchEvent) {
	b.logger.Debug("publishing switch event",
		zap.Int("unit_id", event.UnitID),
		zap.Int("button", event.Button),
		zap.String("action", string(event.Action)),
		zap.Int("message_type", event.MessageType),
		zap.Int("flags", event.Flags),
	)

	publisher := eventbus.Publish[SwitchEvent](client)
	defer publisher.Close()
	publisher.Publish(event)

	b.lastMu.Lock()
	b.last = &event
	b.lastMu.Unlock()
}

// LastSwitchEvent returns the most recently published switch event, or nil.
func (b *Bus) LastSwitchEvent() *SwitchEvent {
	b.lastMu.Lock()
	defer b.lastMu.Unlock()

	if b.last == nil {
		return nil
	}
	event := *b.last
	return &event
}

// PublishUnitState publishes a unit state event.
func (b *Bus) PublishUnitState(client *eventbus.Client, event UnitStateEvent) {
	b.logger.Debug("publishing unit state event",
		zap.Int("unit_id", event.UnitID),
		zap.Bool("online", event.Online),
		zap.Int("level", event.Level),
	)

	publisher := eventbus.Publish[UnitStateEvent](client)
	defer publisher.Close()
	publisher.Publish(event)
}

// PublishConnectionStatus publishes a connection status event.
func (b *Bus) PublishConnectionStatus(client *eventbus.Client, event ConnectionStatusEvent) {
	b.logger.Debug("publishing connection status event",
		zap.String("component", event.Component),
		zap.String("status", string(event.Status)),
	)

	publisher := eventbus.Publish[ConnectionStatusEvent](client)
	defer publisher.Close()
	publisher.Publish(event)
}

// Close gracefully shuts down the eventbus.
func (b *Bus) Close() error {
	b.logger.Info("shutting down eventbus")

	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for name, client := range b.clients {
		client.Close()
		delete(b.clients, name)
	}

	b.logger.Info("eventbus shut down complete")
	return nil
}
