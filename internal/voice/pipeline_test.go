package voice

import (
	"testing"

	"github.com/aurelia-labs/voicecore/pkg/audio"
	"github.com/aurelia-labs/voicecore/pkg/protocol"
)

// pcmFrame builds a 16 kHz mono input frame of the given duration filled with
// a constant sample value.
func pcmFrame(ms int, sample int16, seq uint32) audio.Frame {
	n := ms * 16 // samples at 16 kHz
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		data[2*i] = byte(sample)
		data[2*i+1] = byte(sample >> 8)
	}
	return audio.Frame{
		Kind:       audio.KindInput,
		Codec:      audio.CodecPCM16,
		Seq:        seq,
		SampleRate: 16000,
		Channels:   1,
		DurationMS: ms,
		Data:       data,
	}
}

func outFrame(ms int, seq uint32) audio.Frame {
	data := make([]byte, ms*24*2) // 24 kHz mono
	return audio.Frame{
		Kind:       audio.KindOutput,
		Codec:      audio.CodecPCM16,
		Seq:        seq,
		SampleRate: 24000,
		Channels:   1,
		DurationMS: ms,
		Data:       data,
	}
}

func TestPipeline_AppendAndCommit(t *testing.T) {
	t.Parallel()
	p := NewAudioPipeline()

	for i := 0; i < 6; i++ {
		if _, err := p.AppendInput(pcmFrame(20, 100, uint32(i))); err != nil {
			t.Fatalf("AppendInput: %v", err)
		}
	}
	if got := p.BufferedMS(); got != 120 {
		t.Fatalf("BufferedMS = %d, want 120", got)
	}
	if got := p.BufferedBytes(); got != 6*20*16*2 {
		t.Fatalf("BufferedBytes = %d, want %d", got, 6*20*16*2)
	}

	snap, verr := p.ConsumeCommitSnapshot("c1", "manual_commit", 120, 0)
	if verr != nil {
		t.Fatalf("ConsumeCommitSnapshot: %v", verr)
	}
	if snap.CommitID != "c1" || snap.BufferedMS != 120 || len(snap.Frames) != 6 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if p.BufferedMS() != 0 || p.BufferedBytes() != 0 {
		t.Fatalf("buffer not drained: %dms/%dB", p.BufferedMS(), p.BufferedBytes())
	}
	if p.PendingCommits() != 1 {
		t.Fatalf("PendingCommits = %d, want 1", p.PendingCommits())
	}
}

func TestPipeline_CommitMinimums(t *testing.T) {
	t.Parallel()
	p := NewAudioPipeline()

	// Empty buffer.
	if _, verr := p.ConsumeCommitSnapshot("c1", "manual_commit", 120, 0); verr == nil || verr.Code != protocol.CodeEmptyBuffer {
		t.Fatalf("empty buffer: got %v, want empty_buffer", verr)
	}

	// One ms under the minimum.
	for i := 0; i < 7; i++ {
		p.AppendInput(pcmFrame(17, 100, uint32(i))) // 119 ms
	}
	if _, verr := p.ConsumeCommitSnapshot("c2", "manual_commit", 120, 0); verr == nil || verr.Code != protocol.CodeBufferTooSmall {
		t.Fatalf("under minimum: got %v, want buffer_too_small", verr)
	}

	// Exactly the minimum.
	p.AppendInput(pcmFrame(1, 100, 7))
	if _, verr := p.ConsumeCommitSnapshot("c3", "manual_commit", 120, 0); verr != nil {
		t.Fatalf("at minimum: %v", verr)
	}
}

func TestPipeline_PendingCommitFIFO(t *testing.T) {
	t.Parallel()
	p := NewAudioPipeline()

	p.AppendInput(pcmFrame(200, 100, 0))
	p.ConsumeCommitSnapshot("c1", "manual_commit", 0, 0)
	p.AppendInput(pcmFrame(200, 100, 1))
	p.ConsumeCommitSnapshot("c2", "manual_commit", 0, 0)

	snap, ok := p.AckPendingCommit()
	if !ok || snap.CommitID != "c1" {
		t.Fatalf("first ack = %v %q, want c1", ok, snap.CommitID)
	}
	if n := p.DropPendingCommits(); n != 1 {
		t.Fatalf("DropPendingCommits = %d, want 1", n)
	}
	if _, ok := p.AckPendingCommit(); ok {
		t.Fatal("ack after drop should report empty")
	}
}

func TestPipeline_OverflowDropsOldest(t *testing.T) {
	t.Parallel()
	p := NewAudioPipeline()

	var dropped int
	for i := 0; i < 301; i++ { // 30.1 s of 100 ms frames
		d, err := p.AppendInput(pcmFrame(100, 100, uint32(i)))
		if err != nil {
			t.Fatalf("AppendInput: %v", err)
		}
		dropped += d
	}
	if dropped == 0 {
		t.Fatal("expected overflow to drop frames")
	}
	if got := p.BufferedMS(); got > 15_100 {
		t.Fatalf("BufferedMS after overflow = %d, want <= half the limit", got)
	}
	// The newest frame must survive.
	last := p.inputFrames[len(p.inputFrames)-1]
	if last.Seq != 300 {
		t.Fatalf("newest surviving seq = %d, want 300", last.Seq)
	}
}

func TestPipeline_ClearInputKeepsOutput(t *testing.T) {
	t.Parallel()
	p := NewAudioPipeline()

	p.AppendInput(pcmFrame(100, 100, 0))
	p.AppendOutput(outFrame(90, 0))

	if ms := p.ClearInput(); ms != 100 {
		t.Fatalf("ClearInput = %d, want 100", ms)
	}
	if p.BufferedMS() != 0 {
		t.Fatalf("input not cleared: %dms", p.BufferedMS())
	}
	if p.QueuedOutputMS() != 90 {
		t.Fatalf("output disturbed: %dms", p.QueuedOutputMS())
	}
}

func TestPipeline_OutputQueue(t *testing.T) {
	t.Parallel()
	p := NewAudioPipeline()

	if err := p.AppendOutput(pcmFrame(20, 100, 0)); err == nil {
		t.Fatal("AppendOutput should reject input frames")
	}
	p.AppendOutput(outFrame(90, 0))
	p.AppendOutput(outFrame(90, 1))
	if p.QueuedOutputMS() != 180 {
		t.Fatalf("QueuedOutputMS = %d, want 180", p.QueuedOutputMS())
	}

	f, ok := p.PopOutput()
	if !ok || f.Seq != 0 {
		t.Fatalf("PopOutput = %v seq %d, want seq 0", ok, f.Seq)
	}
	if n := p.ClearOutput(); n != 1 {
		t.Fatalf("ClearOutput = %d, want 1", n)
	}
	if _, ok := p.PopOutput(); ok {
		t.Fatal("queue should be empty after clear")
	}
}
