package audio

import "math"

// RMS computes the root-mean-square level of 16-bit little-endian PCM,
// normalised to [0, 1] by the int16 full-scale value. A trailing odd byte is
// ignored. Empty input returns 0.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples*2; i += 2 {
		s := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(samples)) / 32768
}

// DurationMS returns the duration in milliseconds of a PCM16 buffer at the
// given rate and channel count. Returns 0 for non-positive parameters.
func DurationMS(byteLen, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := float64(byteLen) / 2 / float64(channels)
	return samples / float64(sampleRate) * 1000
}

// BytesForDuration returns the PCM16 byte length of ms milliseconds at the
// given rate and channel count. The result is rounded down to an even byte
// count so the buffer stays sample-aligned.
func BytesForDuration(ms, sampleRate, channels int) int {
	n := sampleRate * channels * 2 * ms / 1000
	return n - n%2
}
