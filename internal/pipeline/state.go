// Package pipeline implements the PipelineStateMachine (component C9): it
// holds the session lifecycle and guards every external operation
// against the current state.
package pipeline

import (
	"errors"
	"sync"
)

// State is one of the pipeline lifecycle states (§4.9).
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateListening State = "listening"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateError     State = "error"
)

// Event names a transition trigger (§4.9).
type Event string

const (
	EventStartCommand  Event = "start_command"
	EventAsrConnected  Event = "asr_connected"
	EventAsrFatal      Event = "asr_fatal"
	EventTimeout       Event = "timeout"
	EventPauseCommand  Event = "pause_command"
	EventResumeCommand Event = "resume_command"
	EventStopCommand   Event = "stop_command"
	EventDrained       Event = "drained"
	EventFatal         Event = "fatal"
	EventReset         Event = "reset"
)

// ErrInvalidTransition is returned when an event has no defined
// transition from the current state.
var ErrInvalidTransition = errors.New("pipeline: invalid transition")

// transitions encodes the table in §4.9. A wildcard source (EventFatal)
// is handled specially in Fire.
var transitions = map[State]map[Event]State{
	StateIdle:      {EventStartCommand: StateStarting},
	StateStarting:  {EventAsrConnected: StateListening, EventAsrFatal: StateError, EventTimeout: StateError},
	StateListening: {EventPauseCommand: StatePaused, EventStopCommand: StateStopping},
	StatePaused:    {EventResumeCommand: StateListening},
	StateStopping:  {EventDrained: StateIdle},
	StateError:     {EventReset: StateIdle},
}

// Machine is the guarded pipeline state holder. Safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New creates a Machine starting in StateIdle.
func New() *Machine {
	return &Machine{state: StateIdle}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies event to the current state, returning the new state or
// ErrInvalidTransition if no transition is defined. EventFatal is
// accepted from any state (the `* → error` rule).
func (m *Machine) Fire(ev Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev == EventFatal {
		m.state = StateError
		return m.state, nil
	}

	next, ok := transitions[m.state][ev]
	if !ok {
		return m.state, ErrInvalidTransition
	}
	m.state = next
	return m.state, nil
}

// CanSendAudio reports whether send_audio is accepted (§4.9 guard:
// listening only).
func (m *Machine) CanSendAudio() bool {
	return m.Current() == StateListening
}

// CanEnqueue reports whether enqueue is accepted (§4.9 guard: listening
// or stopping, to allow draining).
func (m *Machine) CanEnqueue() bool {
	s := m.Current()
	return s == StateListening || s == StateStopping
}

// CanChangeLanguage reports whether a language update is accepted (§4.9
// guard: idle only; mid-stream changes require a controlled restart).
func (m *Machine) CanChangeLanguage() bool {
	return m.Current() == StateIdle
}
