package voice

// State is a session's position in the call lifecycle.
type State string

const (
	// StateReady means the session is idle and can take user input.
	StateReady State = "ready"

	// StateListening means user audio is arriving.
	StateListening State = "listening"

	// StateThinking means a user turn was committed and the model has not
	// started answering yet.
	StateThinking State = "thinking"

	// StateSpeaking means assistant audio is flowing to the client.
	StateSpeaking State = "speaking"

	// StateInterrupted means the assistant was cut off by a barge-in and the
	// cancellation is settling.
	StateInterrupted State = "interrupted"

	// StateError means the session hit a fatal failure.
	StateError State = "error"

	// StateStopped is terminal.
	StateStopped State = "stopped"
)

// allowedTransitions is the single source of truth for the session FSM. Every
// state change is checked against it; a transition not listed here is
// rejected with a warning and the state stays put.
var allowedTransitions = map[State]map[State]bool{
	StateReady: {
		StateListening: true,
		StateThinking:  true,
		StateError:     true,
		StateStopped:   true,
	},
	StateListening: {
		StateThinking: true,
		StateReady:    true,
		StateError:    true,
		StateStopped:  true,
	},
	StateThinking: {
		StateSpeaking:    true,
		StateReady:       true,
		StateInterrupted: true,
		StateError:       true,
		StateStopped:     true,
	},
	StateSpeaking: {
		StateReady:       true,
		StateInterrupted: true,
		StateError:       true,
		StateStopped:     true,
	},
	StateInterrupted: {
		StateReady:     true,
		StateListening: true,
		StateError:     true,
		StateStopped:   true,
	},
	StateError: {
		StateStopped: true,
	},
	StateStopped: {},
}

// CanTransition reports whether the FSM permits moving from one state to
// another.
func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}
