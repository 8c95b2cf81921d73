// Package mqtt bridges decoded switch events to the host automation platform
// over MQTT, including Home Assistant device-trigger discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/lkempf/casambi-bt-bridge/config"
	"github.com/lkempf/casambi-bt-bridge/events"
	"github.com/lkempf/casambi-bt-bridge/registry"
	"go.uber.org/zap"
	"tailscale.com/util/eventbus"
)

const (
	// EventName is the host bus event name automations subscribe to.
	EventName = "casambi_bt_switch_event"

	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// triggerTypes maps semantic actions to Home Assistant device trigger types.
var triggerTypes = map[events.Action]string{
	events.ActionPress:            "button_short_press",
	events.ActionRelease:          "button_short_release",
	events.ActionHold:             "button_long_press",
	events.ActionReleaseAfterHold: "button_long_release",
}

// DiscoveryMessage is a Home Assistant MQTT device trigger discovery config.
type DiscoveryMessage struct {
	AutomationType string          `json:"automation_type"`
	Type           string          `json:"type"`
	SubType        string          `json:"subtype"`
	Topic          string          `json:"topic"`
	Device         DiscoveryDevice `json:"device"`
}

// DiscoveryDevice is the device block of a discovery config.
type DiscoveryDevice struct {
	Identifiers  string `json:"identifiers"`
	Name         string `json:"name"`
	Model        string `json:"model,omitempty"`
	Manufacturer string `json:"manufacturer"`
}

// Bridge publishes switch events and discovery configs to an MQTT broker.
type Bridge struct {
	cfg      *config.Config
	logger   *zap.Logger
	bus      *events.Bus
	client   *eventbus.Client
	registry *registry.Registry
	mqtt     pahomqtt.Client
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new MQTT bridge.
func New(cfg *config.Config, logger *zap.Logger, bus *events.Bus, reg *registry.Registry) (*Bridge, error) {
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

	busClient, err := bus.Client(events.ClientMQTT)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get eventbus client: %w", err)
	}

	b := &Bridge{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		client:   busClient,
		registry: reg,
		ctx:      ctx,
		cancel:   cancel,
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID("casambi-bt-bridge-" + cfg.EntryID)
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetWill(b.availabilityTopic(), availabilityOffline, 1, true)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		b.onConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost", zap.Error(err))
		b.publishConnectionStatus(events.ConnectionStatusReconnecting, err.Error())
	})

	b.mqtt = pahomqtt.NewClient(opts)

	reg.OnReload(func() {
		if b.mqtt.IsConnected() {
			b.publishDiscovery()
		}
	})

	logger.Info("mqtt bridge created",
		zap.String("broker", cfg.MQTTBroker),
		zap.String("topic_prefix", cfg.MQTTTopicPrefix),
	)

	return b, nil
}

// Start connects to the broker and begins forwarding events.
func (b *Bridge) Start() error {
	b.logger.Info("starting mqtt bridge")

	b.publishConnectionStatus(events.ConnectionStatusConnecting, "")

	token := b.mqtt.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timeout connecting to mqtt broker %s", b.cfg.MQTTBroker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	go b.handleSwitchEvents()

	b.logger.Info("mqtt bridge started successfully")
	return nil
}

// onConnect runs on every (re)connect: announce availability and republish
// retained discovery configs.
func (b *Bridge) onConnect() {
	b.logger.Info("connected to mqtt broker")
	b.publishConnectionStatus(events.ConnectionStatusConnected, "")

	b.publish(b.availabilityTopic(), availabilityOnline, true)
	b.publishDiscovery()
}

// handleSwitchEvents forwards bus switch events to the broker.
func (b *Bridge) handleSwitchEvents() {
	sub := eventbus.Subscribe[events.SwitchEvent](b.client)
	defer sub.Close()

	b.logger.Info("subscribed to switch events")

	for {
		select {
		case event := <-sub.Events():
			b.publishSwitchEvent(event)
		case <-b.ctx.Done():
			b.logger.Info("stopping switch event handler")
			return
		}
	}
}

// publishSwitchEvent publishes the event payload on the firehose topic and
// on the per-trigger topic discovery configs point at.
func (b *Bridge) publishSwitchEvent(event events.SwitchEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal switch event", zap.Error(err))
		return
	}

	b.publish(b.eventTopic(), string(payload), false)
	b.publish(b.triggerTopic(event.UnitID, event.Button, event.Action), string(payload), false)

	b.logger.Debug("published switch event",
		zap.Int("unit_id", event.UnitID),
		zap.Int("button", event.Button),
		zap.String("action", string(event.Action)),
	)
}

// publishDiscovery publishes retained Home Assistant device trigger configs
// for every registered device, button and action.
func (b *Bridge) publishDiscovery() {
	devices := b.registry.Devices()

	for _, dev := range devices {
		buttons := dev.Buttons
		if len(buttons) == 0 {
			// A switch with no configured buttons still gets button 1.
			buttons = []registry.Button{{Number: 1}}
		}

		for _, button := range buttons {
			for action, triggerType := range triggerTypes {
				msg := DiscoveryMessage{
					AutomationType: "trigger",
					Type:           triggerType,
					SubType:        b.registry.ButtonName(dev.UnitID, button.Number),
					Topic:          b.triggerTopic(dev.UnitID, button.Number, action),
					Device: DiscoveryDevice{
						Identifiers:  fmt.Sprintf("casambi_bt_%s_%d", b.cfg.EntryID, dev.UnitID),
						Name:         dev.Name,
						Model:        dev.Model,
						Manufacturer: "Casambi",
					},
				}

				payload, err := json.Marshal(msg)
				if err != nil {
					b.logger.Error("failed to marshal discovery config", zap.Error(err))
					continue
				}

				topic := fmt.Sprintf("%s/device_automation/%s/%d_%s/config",
					b.cfg.MQTTDiscoveryPrefix, dev.TriggerID, button.Number, triggerType)
				b.publish(topic, string(payload), true)
			}
		}
	}

	b.logger.Info("published discovery configs",
		zap.Int("devices", len(devices)),
	)
}

// publish sends a single message, logging failures instead of returning
// them. Event delivery is best effort by contract.
func (b *Bridge) publish(topic, payload string, retained bool) {
	token := b.mqtt.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		b.logger.Warn("failed to publish mqtt message",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
	}
}

func (b *Bridge) availabilityTopic() string {
	return b.cfg.MQTTTopicPrefix + "/availability"
}

func (b *Bridge) eventTopic() string {
	return b.cfg.MQTTTopicPrefix + "/event/" + EventName
}

func (b *Bridge) triggerTopic(unitID, button int, action events.Action) string {
	return fmt.Sprintf("%s/switch/%d/%d/%s", b.cfg.MQTTTopicPrefix, unitID, button, action)
}

// publishConnectionStatus publishes a connection status event.
func (b *Bridge) publishConnectionStatus(status events.ConnectionStatus, errMsg string) {
	event := events.ConnectionStatusEvent{
		Timestamp: time.Now(),
		Component: "mqtt",
		Status:    status,
		Error:     errMsg,
	}
	b.bus.PublishConnectionStatus(b.client, event)
}

// Close gracefully shuts down the MQTT bridge.
func (b *Bridge) Close() error {
	b.logger.Info("shutting down mqtt bridge")

	b.publishConnectionStatus(events.ConnectionStatusDisconnected, "")

	b.cancel()

	if b.mqtt.IsConnected() {
		b.publish(b.availabilityTopic(), availabilityOffline, true)
		b.mqtt.Disconnect(uint(publishTimeout.Milliseconds()))
	}

	b.logger.Info("mqtt bridge shut down complete")
	return nil
}
