// Package audio provides the frame type and PCM helpers shared across the
// voicecore pipeline.
//
// All audio in the engine is 16-bit little-endian linear PCM. Frames are the
// atomic unit of transport: captured from the client, measured by the turn
// manager, buffered by the session pipeline, and forwarded to the realtime
// provider. The package also carries the linear resampling and channel
// conversion helpers used to adapt inbound client audio (16–48 kHz) to the
// provider's 24 kHz input rate.
package audio

import "fmt"

// Kind distinguishes the direction of a frame within a session.
type Kind uint8

const (
	// KindInput is microphone audio flowing from the client to the engine.
	KindInput Kind = 0

	// KindOutput is assistant audio flowing from the engine to the client.
	KindOutput Kind = 1
)

// IsValid reports whether k is a recognised frame kind.
func (k Kind) IsValid() bool {
	return k == KindInput || k == KindOutput
}

// String returns "input" or "output"; unknown kinds render as "kind(n)".
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Codec identifies the payload encoding of a frame. PCM16 is the only codec
// the engine transports; the constant exists so the wire format has room to
// grow without a version bump.
type Codec uint8

// CodecPCM16 is 16-bit little-endian linear PCM.
const CodecPCM16 Codec = 0

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool { return c == CodecPCM16 }

// durationToleranceMS is the allowed drift between the declared frame
// duration and the duration derived from the payload length.
const durationToleranceMS = 2

// Frame is a single slice of PCM16 audio with its transport metadata.
// Seq is monotonic per kind within a session; the session rejects regressions.
type Frame struct {
	Kind       Kind
	Codec      Codec
	Seq        uint32
	SampleRate int
	Channels   int
	DurationMS int
	Data       []byte
}

// ComputedDurationMS derives the frame duration from the payload length,
// sample rate, and channel count.
func (f Frame) ComputedDurationMS() float64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := float64(len(f.Data)) / 2 / float64(f.Channels)
	return samples / float64(f.SampleRate) * 1000
}

// Validate checks the frame invariants: recognised kind and codec, positive
// rate and channel count, even payload length, and a declared duration within
// 2 ms of the duration implied by the payload.
func (f Frame) Validate() error {
	if !f.Kind.IsValid() {
		return fmt.Errorf("audio: invalid frame kind %d", uint8(f.Kind))
	}
	if !f.Codec.IsValid() {
		return fmt.Errorf("audio: unsupported codec %d", uint8(f.Codec))
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate %d must be positive", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channel count %d must be positive", f.Channels)
	}
	if len(f.Data)%2 != 0 {
		return fmt.Errorf("audio: odd PCM16 payload length %d", len(f.Data))
	}
	computed := f.ComputedDurationMS()
	diff := computed - float64(f.DurationMS)
	if diff < -durationToleranceMS || diff > durationToleranceMS {
		return fmt.Errorf("audio: declared duration %dms does not match payload (%.1fms)", f.DurationMS, computed)
	}
	return nil
}
