// Package metrics exposes prometheus metrics for the bridge, fed from the
// eventbus and the switch tracker counters.
package metrics

import (
	"context"
	"fmt"

	"github.com/lkempf/casambi-bt-bridge/events"
	"github.com/lkempf/casambi-bt-bridge/switches"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"tailscale.com/util/eventbus"
)

// StatsProvider supplies tracker counters. *switches.Tracker implements it.
type StatsProvider interface {
	Stats() switches.Stats
}

// Collector subscribes to bus events and updates prometheus metrics.
type Collector struct {
	logger *zap.Logger
	bus    *events.Bus
	client *eventbus.Client
	ctx    context.Context
	cancel context.CancelFunc

	switchEvents     *prometheus.CounterVec
	reconnects       prometheus.Counter
	connectionStatus *prometheus.GaugeVec
}

// New creates a collector and registers all metrics on reg.
func New(logger *zap.Logger, bus *events.Bus, tracker StatsProvider, reg prometheus.Registerer) (*Collector, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("eventbus is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	ctx, cancel := context.WithCancel(context.Background())

	client, err := bus.Client(events.ClientMetrics)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get eventbus client: %w", err)
	}

	c := &Collector{
		logger: logger,
		bus:    bus,
		client: client,
		ctx:    ctx,
		cancel: cancel,
		switchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casambi_switch_events_total",
			Help: "Switch events published to the bus, by action.",
		}, []string{"action"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casambi_reconnect_attempts_total",
			Help: "Reconnection attempts against the Casambi network.",
		}),
		connectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casambi_component_connected",
			Help: "Whether a component reports itself connected.",
		}, []string{"component"}),
	}

	collectors := []prometheus.Collector{
		c.switchEvents,
		c.reconnects,
		c.connectionStatus,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "casambi_switch_frames_total",
			Help: "Raw switch frames received from the protocol client.",
		}, func() float64 { return float64(tracker.Stats().Frames) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "casambi_switch_events_deduped_total",
			Help: "Switch events suppressed by the dedupe window.",
		}, func() float64 { return float64(tracker.Stats().Deduped) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "casambi_switch_forced_releases_total",
			Help: "Stale presses force-released after the stale timeout.",
		}, func() float64 { return float64(tracker.Stats().ForcedReleases) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "casambi_switch_active_presses",
			Help: "Buttons currently tracked as pressed.",
		}, func() float64 { return float64(tracker.Stats().ActivePresses) }),
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	logger.Info("metrics collector created")

	return c, nil
}

// Start begins consuming bus events.
func (c *Collector) Start() error {
	go c.handleEvents()
	return nil
}

func (c *Collector) handleEvents() {
	switchSub := eventbus.Subscribe[events.SwitchEvent](c.client)
	defer switchSub.Close()
	connSub := eventbus.Subscribe[events.ConnectionStatusEvent](c.client)
	defer connSub.Close()

	for {
		select {
		case event := <-switchSub.Events():
			c.switchEvents.WithLabelValues(string(event.Action)).Inc()
		case event := <-connSub.Events():
			c.recordConnectionStatus(event)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) recordConnectionStatus(event events.ConnectionStatusEvent) {
	connected := 0.0
	if event.Status == events.ConnectionStatusConnected {
		connected = 1.0
	}
	c.connectionStatus.WithLabelValues(event.Component).Set(connected)

	if event.Status == events.ConnectionStatusReconnecting {
		c.reconnects.Inc()
	}
}

// Close stops the collector.
func (c *Collector) Close() error {
	c.cancel()
	return nil
}
