package casambi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lkempf/casambi-bt-bridge/config"
	"github.com/lkempf/casambi-bt-bridge/events"
	"github.com/lkempf/casambi-bt-bridge/logging"
	"github.com/lkempf/casambi-bt-bridge/switches"
	"go.uber.org/zap"
	"tailscale.com/util/eventbus"
)

// Client manages the session with the Casambi network and publishes decoded
// events on the internal bus.
type Client struct {
	cfg      *config.Config
	logger   *zap.Logger
	bus      *events.Bus
	client   *eventbus.Client
	protocol ProtocolClient
	tracker  *switches.Tracker
	ctx      context.Context
	cancel   context.CancelFunc

	// reconnectMu ensures only one reconnect attempt runs at a time.
	reconnectMu     sync.Mutex
	firstDisconnect bool

	// reconnectNum is read from handler goroutines while the retry loop
	// updates it.
	reconnectNum uint64
}

// New creates a new Casambi client wrapper around the given protocol client.
func New(cfg *config.Config, logger *zap.Logger, bus *events.Bus, protocol ProtocolClient) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("eventbus is required")
	}
	if protocol == nil {
		return nil, fmt.Errorf("protocol client is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	busClient, err := bus.Client(events.ClientCasambi)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get eventbus client: %w", err)
	}

	c := &Client{
		cfg:             cfg,
		logger:          logger,
		bus:             bus,
		client:          busClient,
		protocol:        protocol,
		ctx:             ctx,
		cancel:          cancel,
		firstDisconnect: true,
	}

	// The tracker logs under the dispatcher component, which is what the
	// debugging docs tell users to watch for decoded events.
	tracker, err := switches.New(switches.Options{
		EntryID:       cfg.EntryID,
		HoldThreshold: cfg.HoldThreshold,
		HoldRepeat:    cfg.HoldRepeat,
		DedupeWindow:  cfg.DedupeWindow,
		StaleTimeout:  cfg.StaleTimeout,
		Numbering:     switches.Numbering(cfg.ButtonNumbering),
	}, logging.ForComponent(logger, logging.ComponentDispatcher), c.publishSwitchEvent)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create switch tracker: %w", err)
	}
	c.tracker = tracker

	logger.Info("casambi client created",
		zap.String("address", cfg.NetworkAddress),
		zap.String("entry_id", cfg.EntryID),
	)

	return c, nil
}

// Start registers protocol handlers and begins connecting.
func (c *Client) Start() error {
	c.logger.Info("starting casambi client")

	c.protocol.OnRawFrame(c.handleRawFrame)
	c.protocol.OnUnitChanged(c.handleUnitChanged)
	c.protocol.OnDisconnect(c.handleDisconnect)

	go c.connectWithRetry()

	c.logger.Info("casambi client started successfully")
	return nil
}

// Units returns the units known to the protocol client.
func (c *Client) Units() []Unit {
	return c.protocol.Units()
}

// Tracker exposes tracker statistics for metrics and the debug page.
func (c *Client) Tracker() *switches.Tracker {
	return c.tracker
}

// connectWithRetry attempts to connect to the network with exponential
// backoff capped at the configured maximum wait.
func (c *Client) connectWithRetry() {
	backoff := c.cfg.ReconnectDelay

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("stopping connection attempts")
			return
		default:
		}

		c.logger.Info("attempting to connect to casambi network",
			zap.String("address", c.cfg.NetworkAddress),
			zap.Uint64("attempt", atomic.LoadUint64(&c.reconnectNum)+1),
		)

		c.publishConnectionStatus(events.ConnectionStatusConnecting, "")

		err := c.tryConnect()
		if err == nil {
			c.logger.Info("connected to casambi network",
				zap.Int("units", len(c.protocol.Units())),
			)
			c.publishConnectionStatus(events.ConnectionStatusConnected, "")
			atomic.StoreUint64(&c.reconnectNum, 0)
			c.publishUnitSnapshot()
			return
		}

		attempt := atomic.AddUint64(&c.reconnectNum, 1)
		c.logger.Error("failed to connect to casambi network",
			zap.Error(err),
			zap.Uint64("attempt", attempt),
			zap.Duration("backoff", backoff),
		)

		c.publishConnectionStatus(events.ConnectionStatusReconnecting, err.Error())

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.cfg.MaxReconnectWait {
				backoff = c.cfg.MaxReconnectWait
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// tryConnect performs a single connection attempt under the reconnect lock.
func (c *Client) tryConnect() error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.protocol.Connected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	if err := c.protocol.Connect(ctx); err != nil {
		return fmt.Errorf("protocol connect: %w", err)
	}
	c.firstDisconnect = true
	return nil
}

// handleDisconnect schedules a delayed reconnect. Only the first disconnect
// of a session schedules one so that flapping doesn't stack attempts.
func (c *Client) handleDisconnect() {
	c.logger.Warn("casambi network disconnected")
	c.publishConnectionStatus(events.ConnectionStatusDisconnected, "")

	c.reconnectMu.Lock()
	first := c.firstDisconnect
	c.firstDisconnect = false
	c.reconnectMu.Unlock()

	if !first {
		return
	}

	go c.delayedReconnect()
}

// delayedReconnect waits out the reconnect delay before retrying. The remote
// network is often briefly unavailable after a drop.
func (c *Client) delayedReconnect() {
	c.logger.Debug("scheduling delayed reconnect",
		zap.Duration("delay", c.cfg.ReconnectDelay),
	)

	select {
	case <-time.After(c.cfg.ReconnectDelay):
	case <-c.ctx.Done():
		return
	}

	if c.protocol.Connected() {
		return
	}

	c.logger.Debug("starting delayed reconnect")
	c.connectWithRetry()
}

// handleRawFrame feeds a protocol notification into the state machine.
func (c *Client) handleRawFrame(frame switches.RawFrame) {
	c.logger.Debug("received switch frame",
		zap.Int("unit_id", frame.UnitID),
		zap.Int("button", frame.Button),
		zap.Int("message_type", frame.MessageType),
		zap.Int("flags", frame.Flags),
		zap.Bool("pressed", frame.Pressed),
	)

	c.tracker.HandleFrame(frame)
}

// handleUnitChanged publishes unit state updates to the bus.
func (c *Client) handleUnitChanged(unit Unit) {
	c.bus.PublishUnitState(c.client, events.UnitStateEvent{
		Timestamp: time.Now(),
		UnitID:    unit.ID,
		Name:      unit.Name,
		Online:    unit.Online,
		Level:     unit.Level,
	})
}

// publishUnitSnapshot publishes the state of every known unit. Consumers that
// subscribed before the connection came up get a full picture.
func (c *Client) publishUnitSnapshot() {
	for _, unit := range c.protocol.Units() {
		c.handleUnitChanged(unit)
	}
}

// publishSwitchEvent is the tracker's emit callback.
func (c *Client) publishSwitchEvent(event events.SwitchEvent) {
	c.bus.PublishSwitchEvent(c.client, event)
}

// publishConnectionStatus publishes a connection status event.
func (c *Client) publishConnectionStatus(status events.ConnectionStatus, errMsg string) {
	event := events.ConnectionStatusEvent{
		Timestamp:  time.Now(),
		Component:  "casambi",
		Status:     status,
		Error:      errMsg,
		Reconnects: int(atomic.LoadUint64(&c.reconnectNum)),
	}
	c.bus.PublishConnectionStatus(c.client, event)
}

// Close gracefully shuts down the Casambi client.
func (c *Client) Close() error {
	c.logger.Info("shutting down casambi client")

	c.publishConnectionStatus(events.ConnectionStatusDisconnected, "")

	c.cancel()

	if err := c.tracker.Close(); err != nil {
		c.logger.Warn("error closing switch tracker", zap.Error(err))
	}

	if err := c.protocol.Disconnect(); err != nil {
		c.logger.Warn("error disconnecting protocol client", zap.Error(err))
	}

	c.logger.Info("casambi client shut down complete")
	return nil
}
