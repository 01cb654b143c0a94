package audio

import (
	"fmt"
	"time"
)

// SampleBuffer is a fully decoded, deinterleaved block of audio ready for
// playback. It is immutable once assembled: accessors hand out the
// underlying slices, and callers must not modify them.
type SampleBuffer struct {
	sampleRate int
	channels   [][]float32
}

// NewSampleBuffer packages per-channel sample slices with their sample rate.
//
// Every channel must have the same length, there must be at least one
// channel, and sampleRate must be positive. A violation means the caller
// built the channels wrongly, so NewSampleBuffer panics instead of returning
// an error.
func NewSampleBuffer(channels [][]float32, sampleRate int) *SampleBuffer {
	if sampleRate <= 0 {
		panic(fmt.Sprintf("audio: invalid sample rate %d", sampleRate))
	}
	if len(channels) == 0 {
		panic("audio: sample buffer needs at least one channel")
	}
	frames := len(channels[0])
	for i, ch := range channels[1:] {
		if len(ch) != frames {
			panic(fmt.Sprintf("audio: channel %d has %d frames, channel 0 has %d", i+1, len(ch), frames))
		}
	}
	return &SampleBuffer{sampleRate: sampleRate, channels: channels}
}

// SampleRate returns the buffer's sample rate in Hz.
func (b *SampleBuffer) SampleRate() int { return b.sampleRate }

// NumChannels returns the number of channels.
func (b *SampleBuffer) NumChannels() int { return len(b.channels) }

// FramesPerChannel returns the number of samples in each channel.
func (b *SampleBuffer) FramesPerChannel() int { return len(b.channels[0]) }

// Channel returns the samples of channel i.
func (b *SampleBuffer) Channel(i int) []float32 { return b.channels[i] }

// Format returns the buffer's sample rate and channel count.
func (b *SampleBuffer) Format() Format {
	return Format{SampleRate: b.sampleRate, Channels: len(b.channels)}
}

// Duration returns the playback length of the buffer.
func (b *SampleBuffer) Duration() time.Duration {
	return time.Duration(b.FramesPerChannel()) * time.Second / time.Duration(b.sampleRate)
}

// Frame writes the samples of frame i into dst, one per channel, and returns
// dst. dst must have room for NumChannels samples.
func (b *SampleBuffer) Frame(i int, dst []float32) []float32 {
	for ch := range b.channels {
		dst[ch] = b.channels[ch][i]
	}
	return dst
}
