package protocol

// Payload structs for the envelope types that carry one. Wire field names are
// part of the protocol; treat renames as breaking changes.

// SessionStartPayload configures a new session. Unset fields fall back to the
// server's runtime configuration.
type SessionStartPayload struct {
	Instructions  string         `json:"instructions,omitempty"`
	Voice         string         `json:"voice,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	Language      string         `json:"language,omitempty"`
	TurnDetection string         `json:"turn_detection,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
}

// SessionUpdatePayload carries mid-session configuration changes.
type SessionUpdatePayload struct {
	Instructions string         `json:"instructions,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
}

// SessionStopPayload optionally names the reason for a client-initiated stop.
type SessionStopPayload struct {
	Reason string `json:"reason,omitempty"`
}

// AudioCommitPayload closes the current user turn.
type AudioCommitPayload struct {
	CommitID      string `json:"commit_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	ForceResponse bool   `json:"force_response,omitempty"`
}

// AudioAppendPayload carries base64 PCM16 for clients that cannot send binary
// frames. Binary frames are preferred on hot paths.
type AudioAppendPayload struct {
	PCM16Base64  string `json:"pcm16_base64"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Seq          uint32 `json:"seq"`
}

// TextInputPayload injects a typed user message into the conversation.
type TextInputPayload struct {
	Text           string `json:"text"`
	CreateResponse bool   `json:"create_response,omitempty"`
}

// AssistantInterruptPayload reports a client-initiated barge-in together with
// how much assistant audio the sink actually rendered.
type AssistantInterruptPayload struct {
	Reason   string `json:"reason,omitempty"`
	PlayedMs int    `json:"played_ms,omitempty"`
}

// WelcomePayload is the first server message on a new connection.
type WelcomePayload struct {
	Subprotocol string `json:"subprotocol"`
	ServerTime  int64  `json:"server_time_ms"`
}

// SessionStartedPayload acknowledges session.start.
type SessionStartedPayload struct {
	SessionID string `json:"session_id"`
}

// SessionStatePayload announces a state machine transition.
type SessionStatePayload struct {
	State string `json:"state"`
}

// AudioCommittedPayload acknowledges an accepted commit.
type AudioCommittedPayload struct {
	CommitID      string `json:"commit_id"`
	Reason        string `json:"reason,omitempty"`
	BufferedMs    int    `json:"buffered_ms"`
	BufferedBytes int    `json:"buffered_bytes"`
}

// AudioClearPayload tells the sink to drop any queued assistant audio.
type AudioClearPayload struct {
	Cleared int `json:"cleared"`
}

// STTPayload carries a partial or final transcript for one user turn.
type STTPayload struct {
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

// AssistantStatePayload mirrors the provider's response lifecycle.
type AssistantStatePayload struct {
	State      string `json:"state"`
	ResponseID string `json:"response_id,omitempty"`
}

// AssistantTextPayload carries assistant text deltas and finals.
type AssistantTextPayload struct {
	ResponseID string `json:"response_id,omitempty"`
	Text       string `json:"text"`
}

// TurnEOTPayload announces an end-of-turn decision.
type TurnEOTPayload struct {
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	DelayMs    int     `json:"delay_ms,omitempty"`
}

// MetricsTickPayload is emitted at the five turn checkpoints. Unreached
// checkpoints are zero.
type MetricsTickPayload struct {
	TurnID           string `json:"turn_id"`
	Checkpoint       string `json:"checkpoint"`
	InputStartedAtMs int64  `json:"input_started_at_ms,omitempty"`
	CommitAtMs       int64  `json:"commit_at_ms,omitempty"`
	STTPartialMs     int64  `json:"stt_partial_ms,omitempty"`
	STTFinalMs       int64  `json:"stt_final_ms,omitempty"`
	FirstAudioMs     int64  `json:"first_audio_ms,omitempty"`
}

// WarningPayload is a non-fatal condition report.
type WarningPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// ErrorPayload is a failure report. Fatal errors terminate the session.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
	Fatal   bool      `json:"fatal"`
}
