// Package registry maps Casambi unit IDs to user-facing names and trigger
// identifiers from a devices.yml file, reloading it on change.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Button names one button of a switch.
type Button struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
}

// Device names one switch unit.
type Device struct {
	UnitID    int      `yaml:"unit_id"`
	TriggerID string   `yaml:"trigger_id,omitempty"`
	Name      string   `yaml:"name"`
	Model     string   `yaml:"model,omitempty"`
	Buttons   []Button `yaml:"buttons,omitempty"`
}

// File is the devices.yml document.
type File struct {
	Devices []Device `yaml:"devices"`
}

// Registry provides lookups of device metadata by unit ID.
type Registry struct {
	logger *zap.Logger
	path   string

	mu      sync.RWMutex
	devices map[int]Device

	watcher *fsnotify.Watcher
	done    chan struct{}

	// onReload, when set, is called after each successful reload.
	onReload func()
}

// New loads the devices file and returns a registry. A missing file is not
// an error; the registry starts empty and picks the file up when it appears.
func New(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if path == "" {
		return nil, fmt.Errorf("devices file path is required")
	}

	r := &Registry{
		logger:  logger,
		path:    path,
		devices: make(map[int]Device),
		done:    make(chan struct{}),
	}

	if err := r.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load devices file: %w", err)
		}
		logger.Info("devices file not found, starting with empty registry",
			zap.String("path", path),
		)
	}

	return r, nil
}

// OnReload sets a callback invoked after each successful reload.
func (r *Registry) OnReload(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = fn
}

// load parses the devices file and swaps in the new device map.
func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", r.path, err)
	}

	devices := make(map[int]Device, len(file.Devices))
	for _, dev := range file.Devices {
		if dev.UnitID <= 0 {
			r.logger.Warn("skipping device with invalid unit_id",
				zap.Int("unit_id", dev.UnitID),
				zap.String("name", dev.Name),
			)
			continue
		}
		if _, seen := devices[dev.UnitID]; seen {
			r.logger.Warn("duplicate unit_id in devices file, keeping the first",
				zap.Int("unit_id", dev.UnitID),
			)
			continue
		}
		if dev.TriggerID == "" {
			id, err := shortid.Generate()
			if err != nil {
				return fmt.Errorf("failed to generate trigger id: %w", err)
			}
			dev.TriggerID = id
		}
		devices[dev.UnitID] = dev
	}

	r.mu.Lock()
	r.devices = devices
	fn := r.onReload
	r.mu.Unlock()

	r.logger.Info("devices file loaded",
		zap.String("path", r.path),
		zap.Int("devices", len(devices)),
	)

	if fn != nil {
		fn()
	}
	return nil
}

// Watch starts watching the devices file directory for changes.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	r.watcher = watcher

	// Watch the directory: editors replace the file instead of writing to it.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go r.watchLoop()

	r.logger.Info("watching devices file",
		zap.String("path", r.path),
	)
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.load(); err != nil {
				r.logger.Error("failed to reload devices file", zap.Error(err))
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("devices file watcher error", zap.Error(err))
		case <-r.done:
			return
		}
	}
}

// Lookup returns the device registered for a unit ID.
func (r *Registry) Lookup(unitID int) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[unitID]
	return dev, ok
}

// Devices returns a snapshot of all registered devices.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	return devices
}

// ButtonName returns the configured name for a button, or a numeric
// fallback.
func (r *Registry) ButtonName(unitID, button int) string {
	dev, ok := r.Lookup(unitID)
	if ok {
		for _, b := range dev.Buttons {
			if b.Number == button {
				return b.Name
			}
		}
	}
	return fmt.Sprintf("button_%d", button)
}

// Close stops the watcher.
func (r *Registry) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
