// Casambi Bluetooth switch event bridge - Main application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lkempf/casambi-bt-bridge/casambi"
	"github.com/lkempf/casambi-bt-bridge/config"
	"github.com/lkempf/casambi-bt-bridge/events"
	"github.com/lkempf/casambi-bt-bridge/homekit"
	"github.com/lkempf/casambi-bt-bridge/logging"
	"github.com/lkempf/casambi-bt-bridge/metrics"
	"github.com/lkempf/casambi-bt-bridge/mqtt"
	"github.com/lkempf/casambi-bt-bridge/registry"
	"github.com/lkempf/casambi-bt-bridge/web"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting casambi-bt-bridge",
		zap.String("log_level", cfg.LogLevel),
		zap.String("log_format", cfg.LogFormat),
		zap.String("network_address", cfg.NetworkAddress),
		zap.String("entry_id", cfg.EntryID),
		zap.Bool("simulate", cfg.SimulateNetwork),
	)

	// Initialize EventBus
	logger.Info("initializing eventbus")
	bus, err := events.New(logger)
	if err != nil {
		return fmt.Errorf("failed to create eventbus: %w", err)
	}
	defer func() {
		logger.Info("closing eventbus")
		_ = bus.Close()
	}()

	// Initialize device registry
	logger.Info("initializing device registry")
	reg, err := registry.New(cfg.DevicesFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create device registry: %w", err)
	}
	defer func() {
		logger.Info("closing device registry")
		_ = reg.Close()
	}()

	if err := reg.Watch(); err != nil {
		logger.Warn("devices file watching unavailable", zap.Error(err))
	}

	// Initialize protocol client. The external library provides the real
	// Bluetooth implementation; the simulated client covers development.
	var protocol casambi.ProtocolClient
	if cfg.SimulateNetwork {
		protocol, err = casambi.NewSimClient(logging.ForComponent(logger, logging.ComponentCasambi), 10*time.Second)
		if err != nil {
			return fmt.Errorf("failed to create simulated protocol client: %w", err)
		}
	} else {
		return fmt.Errorf("external protocol client not configured; set CASAMBI_SIMULATE_NETWORK=true or link a protocol implementation")
	}

	// Initialize Casambi client
	logger.Info("initializing casambi client")
	casambiClient, err := casambi.New(cfg, logging.ForComponent(logger, logging.ComponentCasambi), bus, protocol)
	if err != nil {
		return fmt.Errorf("failed to create casambi client: %w", err)
	}
	defer func() {
		logger.Info("closing casambi client")
		_ = casambiClient.Close()
	}()

	// Initialize metrics collector
	logger.Info("initializing metrics collector")
	collector, err := metrics.New(logger, bus, casambiClient.Tracker(), prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	defer func() {
		logger.Info("closing metrics collector")
		_ = collector.Close()
	}()

	// Initialize MQTT bridge
	var mqttBridge *mqtt.Bridge
	if cfg.MQTTEnabled {
		logger.Info("initializing mqtt bridge")
		mqttBridge, err = mqtt.New(cfg, logging.ForComponent(logger, logging.ComponentMQTT), bus, reg)
		if err != nil {
			return fmt.Errorf("failed to create mqtt bridge: %w", err)
		}
		defer func() {
			logger.Info("closing mqtt bridge")
			_ = mqttBridge.Close()
		}()
	}

	// Initialize HomeKit server
	var homekitServer *homekit.Server
	if cfg.HAPEnabled {
		logger.Info("initializing homekit server")
		homekitServer, err = homekit.New(cfg, logging.ForComponent(logger, logging.ComponentHomeKit), bus, reg)
		if err != nil {
			return fmt.Errorf("failed to create homekit server: %w", err)
		}
		defer func() {
			logger.Info("closing homekit server")
			_ = homekitServer.Close()
		}()
	}

	// Initialize Web server
	logger.Info("initializing web server")
	webServer, err := web.New(cfg, logging.ForComponent(logger, logging.ComponentWeb), bus)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	defer func() {
		logger.Info("closing web server")
		_ = webServer.Close()
	}()

	// Start all services
	logger.Info("starting services")

	if err := collector.Start(); err != nil {
		return fmt.Errorf("failed to start metrics collector: %w", err)
	}

	if err := casambiClient.Start(); err != nil {
		return fmt.Errorf("failed to start casambi client: %w", err)
	}

	if mqttBridge != nil {
		if err := mqttBridge.Start(); err != nil {
			return fmt.Errorf("failed to start mqtt bridge: %w", err)
		}
	}

	if homekitServer != nil {
		if err := homekitServer.Start(); err != nil {
			return fmt.Errorf("failed to start homekit server: %w", err)
		}
	}

	if err := webServer.Start(); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	logger.Info("casambi-bt-bridge started successfully",
		zap.Int("web_port", cfg.WebPort),
	)
	logger.Info("web interface",
		zap.String("url", fmt.Sprintf("http://localhost:%d", cfg.WebPort)),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal",
		zap.String("signal", sig.String()),
	)

	// Graceful shutdown
	logger.Info("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Deferred functions will handle cleanup
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-ctx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	return nil
}
