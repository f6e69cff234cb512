package audio

import "math"

// RMS returns the root-mean-square energy of little-endian 16-bit PCM,
// normalized to [0, 1].
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// DurationMS is the playback length of a PCM16 chunk.
func DurationMS(pcm []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := len(pcm) / (2 * channels)
	return samples * 1000 / sampleRate
}
