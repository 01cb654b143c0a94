package audio

import "encoding/binary"

// BytesPerSample is the width of one signed 16-bit PCM sample.
const BytesPerSample = 2

// DecodePCM16 converts interleaved signed 16-bit little-endian PCM to one
// float32 slice per channel, normalised by 32768 so that -32768 maps to -1.0
// and 32767 maps to 32767/32768.
//
// Samples are read round-robin across channels. Bytes that do not form a
// complete frame (2*channels bytes) at the end of pcm are discarded. Empty
// input yields channels empty slices. channels must be positive.
func DecodePCM16(pcm []byte, channels int) [][]float32 {
	if channels <= 0 {
		panic("audio: DecodePCM16 requires at least one channel")
	}
	frameSize := BytesPerSample * channels
	frames := len(pcm) / frameSize

	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		base := i * frameSize
		for ch := range channels {
			idx := base + ch*BytesPerSample
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+BytesPerSample]))
			out[ch][i] = float32(sample) / 32768.0
		}
	}
	return out
}

// TrailingBytes reports how many bytes at the end of an interleaved 16-bit
// stream with the given channel count would be dropped by [DecodePCM16].
func TrailingBytes(n, channels int) int {
	if channels <= 0 {
		return n
	}
	return n % (BytesPerSample * channels)
}

// Int16 scales a normalised sample to the int16 range, the inverse of the
// normalisation in [DecodePCM16]. Values outside [-1, 1] are clamped.
func Int16(s float32) int16 {
	v := s * 32768.0
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
