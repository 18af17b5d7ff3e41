package openai

import "github.com/aurelia-labs/voicecore/pkg/audio"

// outputChunker reassembles the provider's arbitrarily sized PCM16 deltas
// into fixed-duration output frames. Deltas may split a 16-bit sample across
// messages, so bytes accumulate in a pending buffer and frames are only cut
// at sample boundaries; a trailing odd byte carries over to the next delta.
//
// Callers serialize access (the adapter holds its mutex around push/flush).
type outputChunker struct {
	chunkMS    int
	sampleRate int
	chunkBytes int

	pending []byte
	seq     uint32
}

func newOutputChunker(chunkMS, sampleRate int) *outputChunker {
	return &outputChunker{
		chunkMS:    chunkMS,
		sampleRate: sampleRate,
		chunkBytes: audio.BytesForDuration(chunkMS, sampleRate, 1),
	}
}

// startResponse resets sequencing for a new response. Chunk seq values are
// monotonic within one response.
func (c *outputChunker) startResponse() {
	c.pending = c.pending[:0]
	c.seq = 0
}

// reset discards all buffered audio, for interrupts.
func (c *outputChunker) reset() {
	c.pending = c.pending[:0]
}

// push appends a decoded delta and returns any complete chunks.
func (c *outputChunker) push(pcm []byte) []audio.Frame {
	c.pending = append(c.pending, pcm...)

	var out []audio.Frame
	for len(c.pending) >= c.chunkBytes {
		out = append(out, c.cut(c.chunkBytes))
	}
	return out
}

// flush emits whatever remains as one final, possibly shorter, chunk. An odd
// trailing byte is zero-padded to complete its sample.
func (c *outputChunker) flush() []audio.Frame {
	if len(c.pending) == 0 {
		return nil
	}
	if len(c.pending)%2 != 0 {
		c.pending = append(c.pending, 0)
	}
	return []audio.Frame{c.cut(len(c.pending))}
}

func (c *outputChunker) cut(n int) audio.Frame {
	data := make([]byte, n)
	copy(data, c.pending)
	c.pending = c.pending[:copy(c.pending, c.pending[n:])]

	f := audio.Frame{
		Kind:       audio.KindOutput,
		Codec:      audio.CodecPCM16,
		Seq:        c.seq,
		SampleRate: c.sampleRate,
		Channels:   1,
		Data:       data,
	}
	f.DurationMS = int(audio.DurationMS(n, c.sampleRate, 1) + 0.5)
	c.seq++
	return f
}
