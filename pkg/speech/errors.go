package speech

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyText is returned when the text to synthesize is empty or only
	// whitespace.
	ErrEmptyText = errors.New("speech: text must not be empty")

	// ErrClosed is returned by a [Pipeline] whose scheduler has been closed.
	ErrClosed = errors.New("speech: pipeline closed")
)

// DecodeError reports a payload that is not valid base64.
type DecodeError struct {
	// Offset is the byte offset of the first invalid input, or -1 if unknown.
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("speech: decode payload: invalid base64 at offset %d", e.Offset)
	}
	return fmt.Sprintf("speech: decode payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MissingAudioDataError reports a well-formed service response that does not
// contain the inline audio payload.
type MissingAudioDataError struct {
	// Path is the response path that was expected, e.g.
	// "candidates[0].content.parts[0].inlineData.data".
	Path string
	// Missing is the first path segment that was absent.
	Missing string
}

func (e *MissingAudioDataError) Error() string {
	return fmt.Sprintf("speech: no audio data in response: %s missing (expected %s)", e.Missing, e.Path)
}

// SynthesisServiceError reports a failure to talk to the synthesis service:
// connection errors, timeouts, non-2xx responses and unreadable bodies.
type SynthesisServiceError struct {
	// Provider names the service, e.g. "gemini".
	Provider string
	// StatusCode is the HTTP status, or 0 if no response was received.
	StatusCode int
	// Cause is the underlying error.
	Cause error
}

func (e *SynthesisServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("speech: %s: status %d: %v", e.Provider, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("speech: %s: %v", e.Provider, e.Cause)
}

func (e *SynthesisServiceError) Unwrap() error { return e.Cause }
