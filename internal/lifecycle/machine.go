package lifecycle

import (
	"fmt"
	"strings"
	"sync"
)

// State describes where an input is in its run.
type State string

const (
	StateIdle     State = "idle"
	StateOpening  State = "opening"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateEnded    State = "ended"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed || s == StateCanceled
}

// Mode affects what happens when a run reaches the end of its input.
type Mode string

const (
	// ModeOnce ends the run at end of input.
	ModeOnce Mode = "once"
	// ModeLoop restarts the input from the beginning.
	ModeLoop Mode = "loop"
)

// ParseMode maps a config value to a mode. Unknown values fall back to once.
func ParseMode(raw string) Mode {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case string(ModeLoop):
		return ModeLoop
	default:
		return ModeOnce
	}
}

// Machine is a small deterministic state machine for one input's run. Once
// a terminal state is reached later events are ignored.
type Machine struct {
	mu    sync.RWMutex
	state State
	mode  Mode
	limit int
	loops int
	err   error
}

// New creates a machine in the idle state. In loop mode maxLoops caps the
// number of restarts; zero means unlimited.
func New(mode Mode, maxLoops int) *Machine {
	return &Machine{state: StateIdle, mode: mode, limit: maxLoops}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mode returns the end-of-input policy.
func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Loops returns how many times the input was restarted.
func (m *Machine) Loops() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loops
}

// Err returns the failure cause, if any.
func (m *Machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *Machine) OnOpen() {
	m.transition(StateOpening)
}

func (m *Machine) OnStart() {
	m.transition(StateRunning)
}

// OnEndOfInput applies the mode policy and reports whether the input should
// be restarted.
func (m *Machine) OnEndOfInput() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return false
	}
	if m.mode == ModeLoop && (m.limit <= 0 || m.loops < m.limit) {
		m.loops++
		m.state = StateOpening
		return true
	}
	m.state = StateDraining
	return false
}

// OnEOS marks the stream as fully flushed.
func (m *Machine) OnEOS() {
	m.transition(StateEnded)
}

func (m *Machine) OnCancel() {
	m.transition(StateCanceled)
}

func (m *Machine) OnError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return
	}
	m.state = StateFailed
	m.err = err
}

// Force sets a non-terminal machine to state.
func (m *Machine) Force(state State) error {
	switch state {
	case StateIdle, StateOpening, StateRunning, StateDraining, StateEnded, StateFailed, StateCanceled:
		m.transition(state)
		return nil
	default:
		return fmt.Errorf("invalid state: %s", state)
	}
}

func (m *Machine) transition(state State) {
	m.mu.Lock()
	if !m.state.Terminal() {
		m.state = state
	}
	m.mu.Unlock()
}
