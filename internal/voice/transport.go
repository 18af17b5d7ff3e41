package voice

import (
	"github.com/aurelia-labs/voicecore/pkg/audio"
	"github.com/aurelia-labs/voicecore/pkg/protocol"
)

// Transport is the session's view of one client connection. Implementations
// serialize their own writes; SendControl and SendAudio may be called from
// the session op chain only.
type Transport interface {
	// SendControl delivers one JSON envelope to the client.
	SendControl(env protocol.Envelope) error

	// SendAudio delivers one binary audio frame to the client.
	SendAudio(frame audio.Frame) error

	// Close tears down the connection. Idempotent.
	Close(reason string) error
}
