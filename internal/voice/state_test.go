package voice

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to State }{
		{StateReady, StateListening},
		{StateReady, StateThinking},
		{StateListening, StateThinking},
		{StateListening, StateReady},
		{StateThinking, StateSpeaking},
		{StateThinking, StateReady},
		{StateThinking, StateInterrupted},
		{StateSpeaking, StateReady},
		{StateSpeaking, StateInterrupted},
		{StateInterrupted, StateReady},
		{StateInterrupted, StateListening},
		{StateError, StateStopped},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to State }{
		{StateReady, StateSpeaking},
		{StateReady, StateInterrupted},
		{StateListening, StateSpeaking},
		{StateSpeaking, StateThinking},
		{StateSpeaking, StateListening},
		{StateInterrupted, StateThinking},
		{StateInterrupted, StateSpeaking},
		{StateError, StateReady},
		{StateStopped, StateReady},
		{StateStopped, StateError},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}

	// Every non-terminal state can fail and can stop.
	for _, from := range []State{StateReady, StateListening, StateThinking, StateSpeaking, StateInterrupted} {
		if !CanTransition(from, StateError) {
			t.Errorf("CanTransition(%s, error) = false, want true", from)
		}
		if !CanTransition(from, StateStopped) {
			t.Errorf("CanTransition(%s, stopped) = false, want true", from)
		}
	}
}
