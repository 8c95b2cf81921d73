// Package switches turns raw Casambi switch notification frames into
// semantic button events: press, hold, release and release-after-hold.
//
// The tracker owns the timing contract: a button that stays down past the
// hold threshold produces repeated button_hold events until release, and
// identical events inside the dedupe window are suppressed so that
// automations downstream need no debounce logic of their own.
package switches

import (
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lkempf/casambi-bt-bridge/events"
	"github.com/puzpuzpuz/xsync"
	"go.uber.org/zap"
)

// Numbering selects how buttons are numbered in emitted events.
type Numbering string

const (
	// NumberingVendor numbers buttons 1-based, matching the vendor app.
	NumberingVendor Numbering = "vendor"

	// NumberingRaw keeps the 0-based protocol numbering.
	NumberingRaw Numbering = "raw"
)

// RawFrame is a single decoded switch notification from the protocol client.
type RawFrame struct {
	UnitID      int
	Button      int // 0-based protocol numbering
	MessageType int
	Flags       int
	Pressed     bool // down/up bit decoded from Flags
	Sequence    int
	Payload     []byte
	At          time.Time // zero means "now"
}

// Options configures a Tracker.
type Options struct {
	EntryID string

	// HoldThreshold is how long a button must stay down before the first
	// button_hold is emitted.
	HoldThreshold time.Duration

	// HoldRepeat is the interval between button_hold events while held.
	HoldRepeat time.Duration

	// DedupeWindow suppresses identical events emitted within this window.
	// Zero disables deduplication.
	DedupeWindow time.Duration

	// StaleTimeout force-releases a tracked press when no frame arrives for
	// this long. The transport may drop release frames.
	StaleTimeout time.Duration

	Numbering Numbering
}

const (
	// DefaultHoldThreshold is the press-to-hold transition time.
	DefaultHoldThreshold = 500 * time.Millisecond

	// DefaultHoldRepeat is the interval between repeated hold events.
	DefaultHoldRepeat = 500 * time.Millisecond

	// DefaultDedupeWindow suppresses duplicate events.
	DefaultDedupeWindow = 600 * time.Millisecond

	// DefaultStaleTimeout force-releases presses with a lost release frame.
	DefaultStaleTimeout = 5 * time.Second
)

// Stats holds tracker counters for metrics and the debug page.
type Stats struct {
	Frames         uint64
	Emitted        uint64
	Deduped        uint64
	ForcedReleases uint64
	ActivePresses  int
}

type buttonKey struct {
	unitID int
	button int
}

// pressState tracks a single button that is currently down.
type pressState struct {
	frame       RawFrame
	pressedAt   time.Time
	holdEmitted bool
	holdTimer   *time.Timer
	staleTimer  *time.Timer
}

// Tracker is the switch-button event state machine.
type Tracker struct {
	opts   Options
	logger *zap.Logger
	emit   func(events.SwitchEvent)
	clock  func() time.Time

	mu      sync.Mutex
	presses map[buttonKey]*pressState
	closed  bool

	// dedupe maps "unit/button/action/payload" to the last emit time.
	dedupe *xsync.MapOf[string, time.Time]

	frames         uint64
	emitted        uint64
	deduped        uint64
	forcedReleases uint64
}

// New creates a new Tracker. Events are delivered on the emit callback, which
// may be invoked from timer goroutines.
func New(opts Options, logger *zap.Logger, emit func(events.SwitchEvent)) (*Tracker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if emit == nil {
		return nil, fmt.Errorf("emit callback is required")
	}

	if opts.HoldThreshold <= 0 {
		opts.HoldThreshold = DefaultHoldThreshold
	}
	if opts.HoldRepeat <= 0 {
		opts.HoldRepeat = DefaultHoldRepeat
	}
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = DefaultStaleTimeout
	}
	if opts.Numbering == "" {
		opts.Numbering = NumberingVendor
	}
	if opts.Numbering != NumberingVendor && opts.Numbering != NumberingRaw {
		return nil, fmt.Errorf("invalid numbering %q, must be %q or %q", opts.Numbering, NumberingVendor, NumberingRaw)
	}

	t := &Tracker{
		opts:    opts,
		logger:  logger,
		emit:    emit,
		clock:   time.Now,
		presses: make(map[buttonKey]*pressState),
		dedupe:  xsync.NewMapOf[time.Time](),
	}

	logger.Info("switch tracker created",
		zap.Duration("hold_threshold", opts.HoldThreshold),
		zap.Duration("hold_repeat", opts.HoldRepeat),
		zap.Duration("dedupe_window", opts.DedupeWindow),
		zap.String("numbering", string(opts.Numbering)),
	)

	return t, nil
}

// HandleFrame feeds one raw notification frame into the state machine.
func (t *Tracker) HandleFrame(frame RawFrame) {
	atomic.AddUint64(&t.frames, 1)

	now := frame.At
	if now.IsZero() {
		now = t.clock()
	}

	key := buttonKey{unitID: frame.UnitID, button: frame.Button}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	if frame.Pressed {
		t.handlePress(key, frame, now)
	} else {
		t.handleRelease(key, frame, now)
	}
}

// handlePress starts tracking a press. Repeated press frames for a button
// that is already down only refresh the stale timer.
func (t *Tracker) handlePress(key buttonKey, frame RawFrame, now time.Time) {
	if state, ok := t.presses[key]; ok {
		state.frame = frame
		state.staleTimer.Reset(t.opts.StaleTimeout)
		t.logger.Debug("repeated press frame for tracked button",
			zap.Int("unit_id", frame.UnitID),
			zap.Int("button", frame.Button),
		)
		return
	}

	state := &pressState{
		frame:     frame,
		pressedAt: now,
	}
	state.holdTimer = time.AfterFunc(t.opts.HoldThreshold, func() {
		t.onHoldTimer(key)
	})
	state.staleTimer = time.AfterFunc(t.opts.StaleTimeout, func() {
		t.onStaleTimer(key)
	})
	t.presses[key] = state

	t.emitLocked(frame, events.ActionPress, now)
}

// handleRelease finishes a tracked press. A release with no tracked press is
// still emitted as button_release: the transport may have dropped the press.
func (t *Tracker) handleRelease(key buttonKey, frame RawFrame, now time.Time) {
	state, ok := t.presses[key]
	if !ok {
		t.logger.Debug("release without tracked press",
			zap.Int("unit_id", frame.UnitID),
			zap.Int("button", frame.Button),
		)
		t.emitLocked(frame, events.ActionRelease, now)
		return
	}

	state.holdTimer.Stop()
	state.staleTimer.Stop()
	delete(t.presses, key)

	action := events.ActionRelease
	if state.holdEmitted {
		action = events.ActionReleaseAfterHold
	}
	t.emitLocked(frame, action, now)
}

// onHoldTimer fires when a button has been down for the hold threshold, and
// again every hold-repeat interval until release.
func (t *Tracker) onHoldTimer(key buttonKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.presses[key]
	if !ok || t.closed {
		return
	}

	state.holdEmitted = true
	state.holdTimer.Reset(t.opts.HoldRepeat)

	t.emitLocked(state.frame, events.ActionHold, t.clock())
}

// onStaleTimer force-releases a press whose release frame never arrived.
func (t *Tracker) onStaleTimer(key buttonKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.presses[key]
	if !ok || t.closed {
		return
	}

	state.holdTimer.Stop()
	delete(t.presses, key)
	atomic.AddUint64(&t.forcedReleases, 1)

	t.logger.Warn("forcing release for stale press",
		zap.Int("unit_id", state.frame.UnitID),
		zap.Int("button", state.frame.Button),
		zap.Duration("stale_timeout", t.opts.StaleTimeout),
	)

	action := events.ActionRelease
	if state.holdEmitted {
		action = events.ActionReleaseAfterHold
	}
	t.emitLocked(state.frame, action, t.clock())
}

// emitLocked builds the event, applies deduplication and delivers it.
// Callers must hold t.mu.
func (t *Tracker) emitLocked(frame RawFrame, action events.Action, now time.Time) {
	payloadHex := hex.EncodeToString(frame.Payload)

	event := events.SwitchEvent{
		Timestamp:      now,
		EntryID:        t.opts.EntryID,
		UnitID:         frame.UnitID,
		Button:         t.buttonNumber(frame.Button),
		Action:         action,
		MessageType:    frame.MessageType,
		Flags:          frame.Flags,
		PacketSequence: frame.Sequence,
		PayloadHex:     payloadHex,
	}

	if t.isDuplicate(event, now) {
		atomic.AddUint64(&t.deduped, 1)
		t.logger.Debug("skipping duplicate switch event",
			zap.Int("unit_id", event.UnitID),
			zap.Int("button", event.Button),
			zap.String("action", string(event.Action)),
		)
		return
	}

	atomic.AddUint64(&t.emitted, 1)
	t.emit(event)
}

// isDuplicate records the event in the dedupe cache and reports whether an
// identical event was emitted inside the dedupe window.
func (t *Tracker) isDuplicate(event events.SwitchEvent, now time.Time) bool {
	if t.opts.DedupeWindow <= 0 {
		return false
	}

	key := fmt.Sprintf("%d/%d/%s/%s", event.UnitID, event.Button, event.Action, event.PayloadHex)

	if last, ok := t.dedupe.Load(key); ok && now.Sub(last) < t.opts.DedupeWindow {
		return true
	}
	t.dedupe.Store(key, now)

	// Sweep expired entries so the cache doesn't grow with unit count.
	t.dedupe.Range(func(k string, v time.Time) bool {
		if now.Sub(v) > t.opts.DedupeWindow {
			t.dedupe.Delete(k)
		}
		return true
	})

	return false
}

// buttonNumber maps the raw 0-based protocol button to the configured
// numbering convention.
func (t *Tracker) buttonNumber(raw int) int {
	if t.opts.Numbering == NumberingVendor {
		return raw + 1
	}
	return raw
}

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	active := len(t.presses)
	t.mu.Unlock()

	return Stats{
		Frames:         atomic.LoadUint64(&t.frames),
		Emitted:        atomic.LoadUint64(&t.emitted),
		Deduped:        atomic.LoadUint64(&t.deduped),
		ForcedReleases: atomic.LoadUint64(&t.forcedReleases),
		ActivePresses:  active,
	}
}

// Close stops all timers. No events are emitted after Close returns.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for key, state := range t.presses {
		state.holdTimer.Stop()
		state.staleTimer.Stop()
		delete(t.presses, key)
	}

	t.logger.Info("switch tracker closed")
	return nil
}
