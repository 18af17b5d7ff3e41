package openai

import (
	"bytes"
	"testing"

	"github.com/aurelia-labs/voicecore/pkg/audio"
)

// 40 ms at 24 kHz mono PCM16 = 1920 bytes.
const testChunkBytes = 1920

func filled(n int, start byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = start + byte(i)
	}
	return out
}

func TestOutputChunker_CutsFixedChunks(t *testing.T) {
	t.Parallel()

	c := newOutputChunker(40, 24000)
	c.startResponse()

	if got := c.push(filled(1000, 0)); got != nil {
		t.Fatalf("premature chunk after 1000 bytes: %d frames", len(got))
	}
	frames := c.push(filled(1000, 100))
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	f := frames[0]
	if len(f.Data) != testChunkBytes {
		t.Fatalf("chunk size = %d, want %d", len(f.Data), testChunkBytes)
	}
	if f.Seq != 0 || f.Kind != audio.KindOutput || f.SampleRate != 24000 || f.DurationMS != 40 {
		t.Fatalf("frame header = %+v", f)
	}

	// Bytes must flow through in order across the delta boundary.
	want := append(filled(1000, 0), filled(1000, 100)...)
	if !bytes.Equal(f.Data, want[:testChunkBytes]) {
		t.Fatal("chunk bytes out of order")
	}

	rest := c.flush()
	if len(rest) != 1 || len(rest[0].Data) != 80 {
		t.Fatalf("flush = %+v, want one 80-byte residue", rest)
	}
	if rest[0].Seq != 1 {
		t.Fatalf("residue seq = %d, want 1", rest[0].Seq)
	}
	if !bytes.Equal(rest[0].Data, want[testChunkBytes:]) {
		t.Fatal("residue bytes wrong")
	}
}

func TestOutputChunker_OddByteBoundaries(t *testing.T) {
	t.Parallel()

	c := newOutputChunker(40, 24000)
	c.startResponse()

	// A sample split across two deltas must survive intact.
	if got := c.push(filled(1919, 0)); got != nil {
		t.Fatalf("chunk emitted one byte early: %d frames", len(got))
	}
	frames := c.push([]byte{0x7F})
	if len(frames) != 1 || len(frames[0].Data) != testChunkBytes {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].Data[testChunkBytes-1] != 0x7F {
		t.Fatal("carried byte lost")
	}

	// A trailing odd byte is zero-padded on flush.
	c.push([]byte{0x01, 0x02, 0x03})
	rest := c.flush()
	if len(rest) != 1 {
		t.Fatalf("flush frames = %d, want 1", len(rest))
	}
	if !bytes.Equal(rest[0].Data, []byte{0x01, 0x02, 0x03, 0x00}) {
		t.Fatalf("flushed residue = % x", rest[0].Data)
	}
	if c.flush() != nil {
		t.Fatal("second flush should be empty")
	}
}

func TestOutputChunker_SeqResetsPerResponse(t *testing.T) {
	t.Parallel()

	c := newOutputChunker(40, 24000)
	c.startResponse()
	c.push(filled(testChunkBytes*2, 0))

	c.startResponse()
	frames := c.push(filled(testChunkBytes, 0))
	if len(frames) != 1 || frames[0].Seq != 0 {
		t.Fatalf("seq after new response = %+v", frames)
	}
}
