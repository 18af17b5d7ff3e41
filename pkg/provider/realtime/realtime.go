// Package realtime defines the provider-neutral contract for hosted realtime
// speech-to-speech models: a normalized event stream plus the command surface
// a voice session drives. Concrete adapters live in subpackages.
package realtime

import (
	"context"

	"github.com/aurelia-labs/voicecore/pkg/audio"
)

// EventType identifies a normalized provider event.
type EventType string

const (
	// EventSessionReady is emitted once the provider session is configured
	// and ready to receive audio.
	EventSessionReady EventType = "session.ready"

	// EventInputCommitted acknowledges a commit; carries the commit id the
	// session passed to CommitInput.
	EventInputCommitted EventType = "input.committed"

	// EventSTTPartial carries an interim user transcript for a turn.
	EventSTTPartial EventType = "stt.partial"

	// EventSTTFinal carries the finished user transcript for a turn.
	EventSTTFinal EventType = "stt.final"

	// EventAssistantState reports assistant response lifecycle changes.
	EventAssistantState EventType = "assistant.state"

	// EventTextDelta carries an assistant text fragment.
	EventTextDelta EventType = "text.delta"

	// EventTextFinal carries the complete assistant text for a response.
	EventTextFinal EventType = "text.final"

	// EventAudioChunk carries one fixed-duration chunk of assistant audio.
	EventAudioChunk EventType = "audio.chunk"

	// EventWarning reports a recoverable provider problem.
	EventWarning EventType = "warning"

	// EventError reports a provider failure. Fatal errors end the session.
	EventError EventType = "error"
)

// AssistantState is the lifecycle of one assistant response.
type AssistantState string

const (
	// AssistantRequested means a response has been dispatched upstream but
	// the provider has not started it yet.
	AssistantRequested AssistantState = "requested"

	// AssistantSpeaking means the provider is producing the response.
	AssistantSpeaking AssistantState = "speaking"

	// AssistantInterrupted means the response ended early (cancelled,
	// interrupted or incomplete).
	AssistantInterrupted AssistantState = "interrupted"

	// AssistantDone means the response completed normally.
	AssistantDone AssistantState = "done"
)

// Event is one normalized provider event. Only the fields relevant to Type
// are populated.
type Event struct {
	Type EventType

	// TurnID identifies the user turn for stt.partial / stt.final.
	TurnID string

	// ResponseID identifies the assistant response for assistant.state,
	// text.delta, text.final and audio.chunk.
	ResponseID string

	// CommitID echoes the id passed to CommitInput, on input.committed.
	CommitID string

	// Text holds transcript or assistant text for the text-bearing types.
	Text string

	// Assistant is set for assistant.state.
	Assistant AssistantState

	// Audio is set for audio.chunk: PCM16 output with a monotonic Seq.
	Audio audio.Frame

	// Code and Message describe warnings and errors. Fatal marks errors the
	// session cannot recover from.
	Code    string
	Message string
	Fatal   bool
}

// TurnDetection selects the provider-side voice activity mode. A nil value
// means manual turn handling (the engine commits explicitly).
type TurnDetection struct {
	// Type is "server_vad" or "semantic_vad".
	Type string

	// server_vad parameters.
	Threshold         float64
	SilenceDurationMS int
	PrefixPaddingMS   int

	// semantic_vad parameter: low, medium, high or auto.
	Eagerness string

	CreateResponse    bool
	InterruptResponse bool
}

// SessionConfig configures a provider session at start.
type SessionConfig struct {
	SessionID    string
	Instructions string
	Voice        string
	Temperature  float64

	// TranscriptionModel and TranscriptionLanguage configure server-side
	// user speech transcription.
	TranscriptionModel    string
	TranscriptionLanguage string

	// TurnDetection, when nil, puts the provider in manual mode.
	TurnDetection *TurnDetection

	// OutputChunkMS is the fixed duration of emitted audio chunks.
	// Valid range 40-320; default 90.
	OutputChunkMS int
}

// CommitRequest asks the provider to commit the input buffer as a user turn.
type CommitRequest struct {
	CommitID      string
	Reason        string
	BufferedMS    int
	ForceResponse bool
}

// InterruptRequest cancels the active response, truncating its audio at the
// amount the client actually played.
type InterruptRequest struct {
	Reason          string
	TruncateAudioMS int
}

// TextTurn injects a conversation item without audio.
type TextTurn struct {
	// Role is "user", "assistant" or "system".
	Role           string
	Text           string
	CreateResponse bool
}

// Provider is a live adapter to one hosted realtime model session.
//
// Commands return quickly; outcomes arrive on Events. The events channel is
// closed after Stop or a fatal failure, once no further events will be
// delivered.
type Provider interface {
	// Start opens the provider session and blocks until it is ready or the
	// context expires. On success an EventSessionReady is also emitted.
	Start(ctx context.Context, cfg SessionConfig) error

	// Events returns the normalized event stream. The same channel is
	// returned on every call.
	Events() <-chan Event

	// AppendInputAudio forwards one PCM16 input frame, resampling to the
	// provider input rate when needed.
	AppendInputAudio(frame audio.Frame) error

	// CommitInput commits buffered input audio as a user turn.
	CommitInput(req CommitRequest) error

	// ClearInput discards the provider-side input buffer.
	ClearInput() error

	// Interrupt truncates and cancels the active response.
	Interrupt(req InterruptRequest) error

	// CreateTextTurn injects a text conversation item.
	CreateTextTurn(req TextTurn) error

	// AppendSystemContext injects system-role context without requesting a
	// response.
	AppendSystemContext(text string) error

	// Stop closes the provider session. Safe to call more than once.
	Stop(reason string) error
}
