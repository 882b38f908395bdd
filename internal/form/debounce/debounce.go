// Package debounce coalesces rapidly-changing free-text input into a
// single settled value. The debouncer is an explicit idle -> armed ->
// fired state machine rather than an ambient timer, so reset on upstream
// change is a single observable transition.
package debounce

import (
	"sync"
	"time"
)

// DefaultDelay is the settle delay used when none is configured.
const DefaultDelay = 500 * time.Millisecond

// State identifies the debouncer's position in its cycle.
type State int32

const (
	// StateIdle means no input is being tracked.
	StateIdle State = iota

	// StateArmed means input arrived and the settle timer is running.
	StateArmed

	// StateFired means the timer elapsed and the settled value was emitted.
	StateFired
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateFired:
		return "fired"
	default:
		return "unknown"
	}
}

// SettleFunc receives the settled value once input has been stable for the
// configured delay.
type SettleFunc func(value string)

// Debouncer tracks one free-text field. Every new raw value resets the
// timer; the settle callback fires only after the value has not changed
// for the full delay.
type Debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	raw      string
	settled  string
	state    State
	timer    *time.Timer
	gen      uint64
	onSettle SettleFunc
}

// New creates a debouncer. A non-positive delay falls back to
// DefaultDelay. The settle callback may be nil.
func New(delay time.Duration, onSettle SettleFunc) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{delay: delay, onSettle: onSettle}
}

// Input records a new raw value and re-arms the timer. Writing the same
// value repeatedly still re-arms: the field has to go quiet before the
// value settles.
func (d *Debouncer) Input(raw string) {
	d.mu.Lock()
	d.raw = raw
	d.state = StateArmed
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
	d.mu.Unlock()
}

// fire applies the settled value if the timer generation is still current.
// A timer superseded by newer input is discarded.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != StateArmed {
		d.mu.Unlock()
		return
	}
	d.settled = d.raw
	d.state = StateFired
	cb := d.onSettle
	value := d.settled
	d.mu.Unlock()

	if cb != nil {
		cb(value)
	}
}

// Reset cancels any pending timer and clears both raw and settled values.
// Used on cascade resets and session teardown.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.raw = ""
	d.settled = ""
	d.state = StateIdle
	d.mu.Unlock()
}

// Raw returns the most recent raw input.
func (d *Debouncer) Raw() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.raw
}

// Settled returns the last settled value, or "" if none has settled since
// the last reset.
func (d *Debouncer) Settled() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

// State returns the current state.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending reports whether input is waiting to settle.
func (d *Debouncer) Pending() bool {
	return d.State() == StateArmed
}
