// Package media defines the live capture sources consumed by the capture
// layer: a video frame source and an audio frame stream.
package media

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/poise/pkg/types"
)

// ErrSourceClosed is returned by a FrameSource once it will produce no more
// frames.
var ErrSourceClosed = errors.New("media: source closed")

// ErrFrameNotReady is returned when the source has no decodable frame yet
// (e.g. the camera is still warming up). Callers skip the tick.
var ErrFrameNotReady = errors.New("media: frame not ready")

// FrameSource provides decoded frames from a live camera or stream.
// Implementations must be safe for use by a single sampling goroutine.
type FrameSource interface {
	// NextFrame returns the most recent frame. It may block until one is
	// available or ctx is done.
	NextFrame(ctx context.Context) (types.Frame, error)
}

// AudioFrame is a chunk of 16-bit little-endian PCM captured from the
// microphone.
type AudioFrame struct {
	// Data is the raw PCM payload.
	Data []byte

	// SampleRate in Hz (e.g. 16000 or 48000).
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int

	// CapturedAt marks when this frame was captured.
	CapturedAt time.Time
}

// AudioSource exposes the microphone as a channel of PCM frames. The channel
// is closed when capture ends.
type AudioSource interface {
	Frames() <-chan AudioFrame
}
