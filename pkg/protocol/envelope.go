// Package protocol defines the control-plane envelope format and the binary
// audio frame codec spoken on the client session boundary.
//
// Control messages are JSON envelopes carrying a version, a message type, a
// session id, and a typed payload. Audio travels as binary frames with a
// compact 16-byte header so hot-path PCM never pays the base64 tax. The
// package validates inbound envelopes into typed failures; it never touches
// session state.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Version is the envelope protocol version this engine speaks.
const Version = 1

// Subprotocol is the WebSocket subprotocol string clients must offer.
const Subprotocol = "voice.core.v1"

// Type identifies a control message variant.
type Type string

// Client → server message types.
const (
	TypeSessionStart       Type = "session.start"
	TypeSessionUpdate      Type = "session.update"
	TypeSessionStop        Type = "session.stop"
	TypeAudioCommit        Type = "audio.commit"
	TypeAudioAppend        Type = "audio.append"
	TypeTextInput          Type = "text.input"
	TypeAssistantInterrupt Type = "assistant.interrupt"
	TypePing               Type = "ping"
)

// Server → client message types.
const (
	TypeWelcome            Type = "welcome"
	TypeSessionStarted     Type = "session.started"
	TypeSessionState       Type = "session.state"
	TypeAudioCommitted     Type = "audio.committed"
	TypeAudioClear         Type = "audio.clear"
	TypeSTTPartial         Type = "stt.partial"
	TypeSTTFinal           Type = "stt.final"
	TypeAssistantState     Type = "assistant.state"
	TypeAssistantTextDelta Type = "assistant.text.delta"
	TypeAssistantTextFinal Type = "assistant.text.final"
	TypeTurnEOT            Type = "turn.eot"
	TypeMetricsTick        Type = "metrics.tick"
	TypeWarning            Type = "warning"
	TypeError              Type = "error"
	TypePong               Type = "pong"
)

// clientTypes and serverTypes gate direction checks in ValidateEnvelope.
var clientTypes = map[Type]bool{
	TypeSessionStart: true, TypeSessionUpdate: true, TypeSessionStop: true,
	TypeAudioCommit: true, TypeAudioAppend: true, TypeTextInput: true,
	TypeAssistantInterrupt: true, TypePing: true,
}

var serverTypes = map[Type]bool{
	TypeWelcome: true, TypeSessionStarted: true, TypeSessionState: true,
	TypeAudioCommitted: true, TypeAudioClear: true, TypeSTTPartial: true,
	TypeSTTFinal: true, TypeAssistantState: true, TypeAssistantTextDelta: true,
	TypeAssistantTextFinal: true, TypeTurnEOT: true, TypeMetricsTick: true,
	TypeWarning: true, TypeError: true, TypePong: true,
}

// IsValid reports whether t is a recognised message type in either direction.
func (t Type) IsValid() bool { return clientTypes[t] || serverTypes[t] }

// IsClient reports whether t is a client → server type.
func (t Type) IsClient() bool { return clientTypes[t] }

// IsServer reports whether t is a server → client type.
func (t Type) IsServer() bool { return serverTypes[t] }

// Envelope is a single control message. MsgID is unique per sender; ReplyTo
// links a server response back to the client request that caused it.
type Envelope struct {
	V         int             `json:"v"`
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	MsgID     string          `json:"msg_id"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	TSMs      int64           `json:"ts_ms"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("protocol: %s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ErrorCode is a stable wire code attached to warning and error envelopes and
// to validation failures.
type ErrorCode string

const (
	CodeBadJSON          ErrorCode = "bad_json"
	CodeBadShape         ErrorCode = "bad_shape"
	CodeBadType          ErrorCode = "bad_type"
	CodeBadVersion       ErrorCode = "bad_version"
	CodeMissingSessionID ErrorCode = "missing_session_id"
	CodeUnsupportedType  ErrorCode = "unsupported_type"
	CodeEmptyText        ErrorCode = "empty_text"

	CodeEmptyBuffer        ErrorCode = "empty_buffer"
	CodeBufferTooSmall     ErrorCode = "buffer_too_small"
	CodeBufferOverflow     ErrorCode = "buffer_overflow"
	CodeCommitBlockedState ErrorCode = "commit_blocked_state"
	CodeEmptyTurnSkipped   ErrorCode = "empty_turn_skipped"

	CodeIdleTimeout   ErrorCode = "idle_timeout"
	CodeUpstreamError ErrorCode = "upstream_error"
	CodeInternalError ErrorCode = "internal_error"
)

// ValidationError is the typed failure returned by ValidateEnvelope.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: %s: %s", e.Code, e.Message)
}

// BuildEnvelope constructs a well-formed envelope. A fresh uuid MsgID is
// generated when msgID is empty; payload may be nil.
func BuildEnvelope(t Type, payload any, sessionID, msgID, replyTo string, tsMs int64) (Envelope, error) {
	if !t.IsValid() {
		return Envelope{}, &ValidationError{Code: CodeBadType, Message: fmt.Sprintf("unknown type %q", t)}
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	env := Envelope{
		V:         Version,
		Type:      t,
		SessionID: sessionID,
		MsgID:     msgID,
		ReplyTo:   replyTo,
		TSMs:      tsMs,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("protocol: marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// ValidateOptions tunes ValidateEnvelope.
type ValidateOptions struct {
	// RequireSessionID rejects envelopes without a session id. session.start
	// is exempt: the server assigns the id in its session.started reply.
	RequireSessionID bool

	// ClientOnly additionally rejects server → client types. The transport
	// sets this on inbound traffic.
	ClientOnly bool
}

// ValidateEnvelope parses raw and checks the envelope invariants. The error,
// when non-nil, is always a *ValidationError carrying a stable wire code.
func ValidateEnvelope(raw []byte, opts ValidateOptions) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &ValidationError{Code: CodeBadJSON, Message: err.Error()}
	}
	if env.V != Version {
		return Envelope{}, &ValidationError{Code: CodeBadVersion, Message: fmt.Sprintf("version %d, want %d", env.V, Version)}
	}
	if env.Type == "" || env.MsgID == "" {
		return Envelope{}, &ValidationError{Code: CodeBadShape, Message: "type and msg_id are required"}
	}
	if !env.Type.IsValid() {
		return Envelope{}, &ValidationError{Code: CodeBadType, Message: fmt.Sprintf("unknown type %q", env.Type)}
	}
	if opts.ClientOnly && !env.Type.IsClient() {
		return Envelope{}, &ValidationError{Code: CodeBadType, Message: fmt.Sprintf("%q is not a client message", env.Type)}
	}
	if opts.RequireSessionID && env.SessionID == "" && env.Type != TypeSessionStart {
		return Envelope{}, &ValidationError{Code: CodeMissingSessionID, Message: "session_id is required"}
	}
	return env, nil
}
