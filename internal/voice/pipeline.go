package voice

import (
	"fmt"

	"github.com/aurelia-labs/voicecore/pkg/audio"
	"github.com/aurelia-labs/voicecore/pkg/protocol"
)

// overflowLimitMS is the input buffer ceiling. Beyond it the oldest frames
// are dropped until the buffer is halved.
const overflowLimitMS = 30_000

// CommitSnapshot is the frozen input buffer of one committed user turn.
type CommitSnapshot struct {
	CommitID   string
	Reason     string
	Frames     []audio.Frame
	BufferedMS int
	Bytes      int
}

// AudioPipeline buffers input audio between commits and queues output audio
// for the client sink. All state is session-local; the session op chain
// serializes access, so there is no locking here.
type AudioPipeline struct {
	inputFrames   []audio.Frame
	bufferedMS    float64
	bufferedBytes int

	pendingCommits []CommitSnapshot

	outputFrames []audio.Frame
}

// NewAudioPipeline creates an empty pipeline.
func NewAudioPipeline() *AudioPipeline {
	return &AudioPipeline{}
}

// AppendInput buffers one input frame. It returns the number of old frames
// dropped to relieve overflow pressure; a non-zero count means the caller
// should surface a buffer_overflow warning.
func (p *AudioPipeline) AppendInput(f audio.Frame) (dropped int, err error) {
	if f.Kind != audio.KindInput {
		return 0, fmt.Errorf("pipeline: append input: frame kind %s", f.Kind)
	}
	p.inputFrames = append(p.inputFrames, f)
	p.bufferedMS += frameMS(f)
	p.bufferedBytes += len(f.Data)

	if p.bufferedMS <= overflowLimitMS {
		return 0, nil
	}
	target := p.bufferedMS / 2
	for len(p.inputFrames) > 1 && p.bufferedMS > target {
		old := p.inputFrames[0]
		p.inputFrames = p.inputFrames[1:]
		p.bufferedMS -= frameMS(old)
		p.bufferedBytes -= len(old.Data)
		dropped++
	}
	return dropped, nil
}

// BufferedMS returns the buffered input duration in whole milliseconds.
func (p *AudioPipeline) BufferedMS() int { return int(p.bufferedMS) }

// BufferedBytes returns the buffered input size.
func (p *AudioPipeline) BufferedBytes() int { return p.bufferedBytes }

// ConsumeCommitSnapshot atomically moves the whole input buffer into a
// snapshot and appends it to the pending-commit FIFO. Buffers under the
// minimums are rejected with empty_buffer or buffer_too_small.
func (p *AudioPipeline) ConsumeCommitSnapshot(commitID, reason string, minMS, minBytes int) (CommitSnapshot, *protocol.ValidationError) {
	if len(p.inputFrames) == 0 {
		return CommitSnapshot{}, &protocol.ValidationError{
			Code:    protocol.CodeEmptyBuffer,
			Message: "no buffered input audio",
		}
	}
	if int(p.bufferedMS) < minMS || p.bufferedBytes < minBytes {
		return CommitSnapshot{}, &protocol.ValidationError{
			Code: protocol.CodeBufferTooSmall,
			Message: fmt.Sprintf("buffered %dms/%dB below minimum %dms/%dB",
				int(p.bufferedMS), p.bufferedBytes, minMS, minBytes),
		}
	}

	snap := CommitSnapshot{
		CommitID:   commitID,
		Reason:     reason,
		Frames:     p.inputFrames,
		BufferedMS: int(p.bufferedMS),
		Bytes:      p.bufferedBytes,
	}
	p.inputFrames = nil
	p.bufferedMS = 0
	p.bufferedBytes = 0
	p.pendingCommits = append(p.pendingCommits, snap)
	return snap, nil
}

// ClearInput discards buffered input frames without touching output or
// pending commits. Returns the dropped duration in whole milliseconds.
func (p *AudioPipeline) ClearInput() int {
	ms := int(p.bufferedMS)
	p.inputFrames = nil
	p.bufferedMS = 0
	p.bufferedBytes = 0
	return ms
}

// AckPendingCommit pops the oldest pending snapshot. Called when the provider
// acknowledges a commit.
func (p *AudioPipeline) AckPendingCommit() (CommitSnapshot, bool) {
	if len(p.pendingCommits) == 0 {
		return CommitSnapshot{}, false
	}
	snap := p.pendingCommits[0]
	p.pendingCommits = p.pendingCommits[1:]
	return snap, true
}

// DropPendingCommits discards all pending snapshots, returning how many were
// dropped. Used when the session backs out of a commit.
func (p *AudioPipeline) DropPendingCommits() int {
	n := len(p.pendingCommits)
	p.pendingCommits = nil
	return n
}

// PendingCommits returns the number of unacknowledged commits.
func (p *AudioPipeline) PendingCommits() int { return len(p.pendingCommits) }

// AppendOutput queues one assistant audio frame for the sink.
func (p *AudioPipeline) AppendOutput(f audio.Frame) error {
	if f.Kind != audio.KindOutput {
		return fmt.Errorf("pipeline: append output: frame kind %s", f.Kind)
	}
	p.outputFrames = append(p.outputFrames, f)
	return nil
}

// PopOutput removes and returns the oldest queued output frame.
func (p *AudioPipeline) PopOutput() (audio.Frame, bool) {
	if len(p.outputFrames) == 0 {
		return audio.Frame{}, false
	}
	f := p.outputFrames[0]
	p.outputFrames = p.outputFrames[1:]
	return f, true
}

// ClearOutput discards all queued output frames and returns the count, so an
// interrupt can report how much was thrown away.
func (p *AudioPipeline) ClearOutput() int {
	n := len(p.outputFrames)
	p.outputFrames = nil
	return n
}

// QueuedOutputMS returns the duration of output audio queued but not yet
// popped. The session uses it to estimate played_ms when the client does not
// report one.
func (p *AudioPipeline) QueuedOutputMS() int {
	var ms float64
	for _, f := range p.outputFrames {
		ms += frameMS(f)
	}
	return int(ms)
}

// ResetAll drops every buffer: input, output and pending commits.
func (p *AudioPipeline) ResetAll() {
	p.inputFrames = nil
	p.bufferedMS = 0
	p.bufferedBytes = 0
	p.pendingCommits = nil
	p.outputFrames = nil
}

func frameMS(f audio.Frame) float64 {
	if f.DurationMS > 0 {
		return float64(f.DurationMS)
	}
	return f.ComputedDurationMS()
}
