package casambi

import (
	"context"
	"testing"
	"time"

	"github.com/lkempf/casambi-bt-bridge/switches"
	"go.uber.org/zap"
)

func TestSimClientLifecycle(t *testing.T) {
	sim, err := NewSimClient(zap.NewNop(), time.Hour)
	if err != nil {
		t.Fatalf("NewSimClient() error = %v", err)
	}

	if sim.Connected() {
		t.Error("Connected() = true before Connect")
	}

	if err := sim.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !sim.Connected() {
		t.Error("Connected() = false after Connect")
	}

	// Connect is idempotent.
	if err := sim.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}

	if err := sim.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if sim.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
}

func TestSimClientUnits(t *testing.T) {
	sim, err := NewSimClient(zap.NewNop(), time.Hour)
	if err != nil {
		t.Fatalf("NewSimClient() error = %v", err)
	}

	units := sim.Units()
	if len(units) != 3 {
		t.Fatalf("Units() returned %d units, want 3", len(units))
	}

	switchCount := 0
	for _, unit := range units {
		if unit.IsSwitch {
			switchCount++
		}
	}
	if switchCount != 2 {
		t.Errorf("switch units = %d, want 2", switchCount)
	}
}

func TestSimClientGeneratesFrames(t *testing.T) {
	sim, err := NewSimClient(zap.NewNop(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSimClient() error = %v", err)
	}

	frames := make(chan switches.RawFrame, 16)
	sim.OnRawFrame(func(frame switches.RawFrame) {
		frames <- frame
	})

	if err := sim.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() {
		_ = sim.Disconnect()
	}()

	// A press cycle is a press frame followed by its release frame.
	var press, release *switches.RawFrame
	deadline := time.After(2 * time.Second)
	for release == nil {
		select {
		case frame := <-frames:
			if frame.Pressed && press == nil {
				press = &frame
			} else if !frame.Pressed && press != nil {
				release = &frame
			}
		case <-deadline:
			t.Fatal("timeout waiting for a press cycle")
		}
	}

	if press.UnitID != release.UnitID || press.Button != release.Button {
		t.Errorf("release (unit=%d button=%d) does not match press (unit=%d button=%d)",
			release.UnitID, release.Button, press.UnitID, press.Button)
	}
	if press.MessageType != simMessageTypeSwitch {
		t.Errorf("MessageType = %#x, want %#x", press.MessageType, simMessageTypeSwitch)
	}
	if press.Flags&simFlagPressed == 0 {
		t.Error("press frame missing pressed flag")
	}
	if release.Sequence <= press.Sequence {
		t.Errorf("release sequence %d not after press sequence %d", release.Sequence, press.Sequence)
	}
}
