// Package audio holds the sample-level building blocks of the read-aloud
// pipeline and the playback abstraction that sits at its end.
//
// The data path is:
//
//   - [DecodePCM16] turns interleaved s16le bytes into per-channel floats.
//   - [NewSampleBuffer] packages those floats with their sample rate.
//   - [Scheduler] starts a [SampleBuffer] on an [Output] and hands back a
//     [Playback] handle that can be awaited or cancelled.
//
// Output implementations live in subpackages (audio/speaker for the local
// sound device, audio/wavfile for headless hosts, audio/mock for tests).
package audio

import "context"

// Output is a playback context bound to an audio device or sink.
//
// One Output is shared by every playback in the process; concurrent Play
// calls must produce independently playing streams. Implementations must be
// safe for concurrent use.
type Output interface {
	// Play starts buf immediately with zero start offset and returns as soon
	// as the sink has accepted it. The returned channel is closed when the
	// buffer has finished playing or when ctx is cancelled, whichever happens
	// first. Play must not block for the duration of the audio.
	Play(ctx context.Context, buf *SampleBuffer) (done <-chan struct{}, err error)

	// Close releases the device. Streams still playing are stopped and their
	// done channels closed. Close is idempotent.
	Close() error
}
