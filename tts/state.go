package tts

// StateType represents the current state of the playback controller.
type StateType int

const (
	// StateIdle indicates no session exists.
	StateIdle StateType = iota
	// StateSynthesizing indicates the current chunk's audio is being produced.
	StateSynthesizing
	// StatePlaying indicates the current chunk is playing.
	StatePlaying
	// StatePaused indicates playback is suspended.
	StatePaused
	// StateStopped indicates the session is being torn down. It always
	// collapses back to StateIdle.
	StateStopped
)

// String returns the string representation of the state.
func (s StateType) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true while a session holds resources.
func (s StateType) IsActive() bool {
	return s == StateSynthesizing || s == StatePlaying || s == StatePaused
}

// StateMachine validates transitions between states.
type StateMachine struct {
	current     StateType
	transitions map[StateType][]StateType
}

// NewStateMachine creates a new state machine with valid transitions.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[StateType][]StateType{
			StateIdle:         {StateSynthesizing},
			StateSynthesizing: {StateSynthesizing, StatePlaying, StatePaused, StateStopped},
			StatePlaying:      {StateSynthesizing, StatePaused, StateStopped},
			StatePaused:       {StateSynthesizing, StatePlaying, StateStopped},
			StateStopped:      {StateIdle},
		},
	}
}

// CanTransition reports whether moving to the given state is valid.
func (sm *StateMachine) CanTransition(to StateType) bool {
	for _, state := range sm.transitions[sm.current] {
		if state == to {
			return true
		}
	}
	return false
}

// Transition attempts to transition to the specified state.
func (sm *StateMachine) Transition(to StateType) bool {
	if !sm.CanTransition(to) {
		return false
	}
	sm.current = to
	return true
}

// Current returns the current state.
func (sm *StateMachine) Current() StateType {
	return sm.current
}
