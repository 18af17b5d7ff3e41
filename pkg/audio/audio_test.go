package audio

import (
	"math"
	"testing"
)

// sine generates n samples of a full-scale-scaled sine wave as PCM16.
func sine(n int, amplitude float64) []byte {
	out := make([]byte, n*2)
	for i := range n {
		v := int16(amplitude * 32767 * math.Sin(2*math.Pi*float64(i)/64))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS(make([]byte, 640)); got != 0 {
		t.Fatalf("RMS(zeros) = %v, want 0", got)
	}

	// A full-scale sine has RMS ≈ 1/√2.
	got := RMS(sine(640, 1.0))
	want := 1 / math.Sqrt2
	if math.Abs(got-want) > 0.01 {
		t.Fatalf("RMS(sine) = %v, want ≈ %v", got, want)
	}

	// Quiet signal stays well below a typical VAD threshold.
	if got := RMS(sine(640, 0.005)); got > 0.01 {
		t.Fatalf("RMS(quiet sine) = %v, want < 0.01", got)
	}
}

func TestDurationMS(t *testing.T) {
	t.Parallel()

	// 20 ms at 24 kHz mono = 960 bytes.
	if got := DurationMS(960, 24000, 1); math.Abs(got-20) > 0.01 {
		t.Fatalf("DurationMS(960, 24000, 1) = %v, want 20", got)
	}
	if got := BytesForDuration(20, 24000, 1); got != 960 {
		t.Fatalf("BytesForDuration(20, 24000, 1) = %d, want 960", got)
	}
	if got := DurationMS(100, 0, 1); got != 0 {
		t.Fatalf("DurationMS with zero rate = %v, want 0", got)
	}
}

func TestResampleMono16_Lengths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		srcRate, dstRate   int
		srcSamples, wantDs int
	}{
		{"16k to 24k", 16000, 24000, 320, 480},
		{"48k to 24k", 48000, 24000, 960, 480},
		{"44.1k to 24k", 44100, 24000, 882, 480},
		{"identity", 24000, 24000, 480, 480},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sine(tt.srcSamples, 0.5)
			out := ResampleMono16(in, tt.srcRate, tt.dstRate)
			if len(out)/2 != tt.wantDs {
				t.Fatalf("got %d samples, want %d", len(out)/2, tt.wantDs)
			}
		})
	}
}

func TestStereoToMono_Averages(t *testing.T) {
	t.Parallel()

	// One stereo frame: L=1000, R=3000 → mono 2000.
	in := []byte{0xE8, 0x03, 0xB8, 0x0B}
	out := StereoToMono(in)
	if len(out) != 2 {
		t.Fatalf("got %d bytes, want 2", len(out))
	}
	got := int16(out[0]) | int16(out[1])<<8
	if got != 2000 {
		t.Fatalf("averaged sample = %d, want 2000", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	// 20 ms of 48 kHz stereo → 20 ms of 24 kHz mono.
	in := Frame{
		Kind:       KindInput,
		SampleRate: 48000,
		Channels:   2,
		DurationMS: 20,
		Data:       make([]byte, 48*20*2*2),
	}
	out := Normalize(in, 24000)
	if out.SampleRate != 24000 || out.Channels != 1 {
		t.Fatalf("format = %dHz/%dch, want 24000Hz/1ch", out.SampleRate, out.Channels)
	}
	if out.DurationMS != 20 {
		t.Fatalf("duration = %dms, want 20", out.DurationMS)
	}

	// Already normalised frames pass through untouched.
	same := Frame{Kind: KindInput, SampleRate: 24000, Channels: 1, DurationMS: 20, Data: make([]byte, 960)}
	if got := Normalize(same, 24000); &got.Data[0] != &same.Data[0] {
		t.Fatal("expected zero-copy passthrough for matching format")
	}
}

func TestFrameValidate(t *testing.T) {
	t.Parallel()

	valid := Frame{Kind: KindInput, Codec: CodecPCM16, SampleRate: 24000, Channels: 1, DurationMS: 20, Data: make([]byte, 960)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid frame rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Frame)
	}{
		{"bad kind", func(f *Frame) { f.Kind = 9 }},
		{"bad codec", func(f *Frame) { f.Codec = 7 }},
		{"zero rate", func(f *Frame) { f.SampleRate = 0 }},
		{"zero channels", func(f *Frame) { f.Channels = 0 }},
		{"odd payload", func(f *Frame) { f.Data = f.Data[:959] }},
		{"duration drift", func(f *Frame) { f.DurationMS = 40 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)
			if err := f.Validate(); err == nil {
				t.Fatal("want error, got nil")
			}
		})
	}
}
