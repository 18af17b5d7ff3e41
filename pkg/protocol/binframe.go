package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/aurelia-labs/voicecore/pkg/audio"
)

// Binary audio frame wire format, all multi-byte fields big-endian:
//
//	offset 0  u8  version (= 1)
//	offset 1  u8  kind    (0 = input, 1 = output)
//	offset 2  u8  codec   (0 = pcm16)
//	offset 3  u8  channels
//	offset 4  u32 sample_rate_hz
//	offset 8  u32 seq
//	offset 12 u16 duration_ms
//	offset 14 u16 reserved (= 0)
//	offset 16 ..  payload

// FrameHeaderSize is the fixed size of the binary frame header in bytes.
const FrameHeaderSize = 16

// FrameVersion is the binary frame format version.
const FrameVersion = 1

// EncodeFrame serialises f into the binary wire format.
func EncodeFrame(f audio.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("protocol: encode frame: %w", err)
	}
	buf := make([]byte, FrameHeaderSize+len(f.Data))
	buf[0] = FrameVersion
	buf[1] = byte(f.Kind)
	buf[2] = byte(f.Codec)
	buf[3] = byte(f.Channels)
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.SampleRate))
	binary.BigEndian.PutUint32(buf[8:12], f.Seq)
	binary.BigEndian.PutUint16(buf[12:14], uint16(f.DurationMS))
	// buf[14:16] reserved, zero.
	copy(buf[FrameHeaderSize:], f.Data)
	return buf, nil
}

// DecodeFrame parses a binary frame. The error, when non-nil, is always a
// *ValidationError so the session can answer with a stable wire code.
func DecodeFrame(raw []byte) (audio.Frame, error) {
	if len(raw) < FrameHeaderSize {
		return audio.Frame{}, &ValidationError{
			Code:    CodeBadShape,
			Message: fmt.Sprintf("frame header truncated: %d bytes, want %d", len(raw), FrameHeaderSize),
		}
	}
	if raw[0] != FrameVersion {
		return audio.Frame{}, &ValidationError{
			Code:    CodeBadVersion,
			Message: fmt.Sprintf("frame version %d, want %d", raw[0], FrameVersion),
		}
	}
	f := audio.Frame{
		Kind:       audio.Kind(raw[1]),
		Codec:      audio.Codec(raw[2]),
		Channels:   int(raw[3]),
		SampleRate: int(binary.BigEndian.Uint32(raw[4:8])),
		Seq:        binary.BigEndian.Uint32(raw[8:12]),
		DurationMS: int(binary.BigEndian.Uint16(raw[12:14])),
		Data:       raw[FrameHeaderSize:],
	}
	if err := f.Validate(); err != nil {
		return audio.Frame{}, &ValidationError{Code: CodeBadShape, Message: err.Error()}
	}
	return f, nil
}
