// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g. Deepgram) and
// exposes a uniform streaming interface. Once opened, a SessionHandle accepts
// raw PCM audio frames and emits two streams of types.TranscriptEvent values:
// low-latency interim results for display and authoritative finals that drive
// word counts, filler detection and clarity scoring.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/poise/pkg/types"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the usual choice.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag (e.g. "en-US"). Empty lets the
	// provider pick its default.
	Language string

	// Role is stamped onto every emitted event so downstream consumers can
	// tell the candidate's speech from the interviewer's.
	Role types.Role

	// Keywords are vocabulary hints such as company or product names that
	// the candidate is likely to say.
	Keywords []string
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. The Partials
// and Finals channels are closed when the session ends, whether through Close
// or because the remote stream dropped.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit PCM audio.
	SendAudio(chunk []byte) error

	// Partials emits interim results. They are superseded by later events and
	// must never be counted.
	Partials() <-chan types.TranscriptEvent

	// Finals emits authoritative results.
	Finals() <-chan types.TranscriptEvent

	// Close terminates the session. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller
	// owns the returned SessionHandle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
