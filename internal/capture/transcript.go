package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/pkg/provider/stt"
	"github.com/MrWong99/poise/pkg/types"
)

// Default restart parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// TranscriptStreamConfig configures a [TranscriptStream].
type TranscriptStreamConfig struct {
	// Provider opens speech-to-text streams.
	Provider stt.Provider

	// Stream is passed to every StartStream call.
	Stream stt.StreamConfig

	// Sink receives transcript events and the give-up warning.
	Sink Sink

	// MaxRetries is the maximum number of consecutive failed (re)start
	// attempts before giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// Metrics overrides the OTel instruments.
	Metrics *observe.Metrics
}

// TranscriptStream keeps one speech-to-text stream alive for a session.
// When the remote ends the stream while the session is running it is
// restarted with exponential backoff. Once the retries are exhausted the
// sink is warned and audio is discarded; the rest of the session continues.
//
// All methods are safe for concurrent use.
type TranscriptStream struct {
	provider   stt.Provider
	streamCfg  stt.StreamConfig
	sink       Sink
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	metrics    *observe.Metrics

	mu     sync.Mutex
	handle stt.SessionHandle
	failed bool
}

// NewTranscriptStream creates a [TranscriptStream].
func NewTranscriptStream(cfg TranscriptStreamConfig) *TranscriptStream {
	ts := &TranscriptStream{
		provider:   cfg.Provider,
		streamCfg:  cfg.Stream,
		sink:       cfg.Sink,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		metrics:    cfg.Metrics,
	}
	if ts.maxRetries <= 0 {
		ts.maxRetries = defaultMaxRetries
	}
	if ts.backoff <= 0 {
		ts.backoff = defaultBackoff
	}
	if ts.maxBackoff <= 0 {
		ts.maxBackoff = defaultMaxBackoff
	}
	if ts.metrics == nil {
		ts.metrics = observe.DefaultMetrics()
	}
	return ts
}

// Run opens the stream and forwards events until ctx is done. It returns nil
// on cancellation and after giving up; giving up is reported through the
// sink instead.
func (ts *TranscriptStream) Run(ctx context.Context) error {
	defer ts.closeHandle()

	first := true
	for {
		handle, ok := ts.connect(ctx, first)
		if !ok {
			return nil
		}
		first = false

		if stop := ts.forward(ctx, handle); stop {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		slog.Info("capture: transcript stream ended, restarting", "role", ts.streamCfg.Role)
	}
}

// SendAudio forwards PCM to the current stream. Audio is dropped while the
// stream is restarting or after giving up.
func (ts *TranscriptStream) SendAudio(pcm []byte) {
	ts.mu.Lock()
	h := ts.handle
	ts.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.SendAudio(pcm); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
		slog.Debug("capture: send audio failed", "err", err)
	}
}

// Failed reports whether the stream gave up.
func (ts *TranscriptStream) Failed() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.failed
}

// connect opens a stream with exponential backoff. ok is false when ctx is
// done or the retries are exhausted.
func (ts *TranscriptStream) connect(ctx context.Context, first bool) (stt.SessionHandle, bool) {
	currentBackoff := ts.backoff

	for attempt := 1; attempt <= ts.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}

		handle, err := ts.provider.StartStream(ctx, ts.streamCfg)
		if err == nil {
			ts.mu.Lock()
			old := ts.handle
			ts.handle = handle
			ts.mu.Unlock()
			if old != nil {
				_ = old.Close()
			}
			if !first || attempt > 1 {
				ts.metrics.RecordTranscriptRestart(ctx, true)
				slog.Info("capture: transcript stream restarted", "attempt", attempt)
			}
			return handle, true
		}

		if !first || attempt > 1 {
			ts.metrics.RecordTranscriptRestart(ctx, false)
		}
		slog.Warn("capture: transcript stream start failed",
			"attempt", attempt,
			"max_retries", ts.maxRetries,
			"backoff", currentBackoff,
			"err", err,
		)
		if attempt == ts.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > ts.maxBackoff {
			currentBackoff = ts.maxBackoff
		}
	}

	ts.mu.Lock()
	ts.failed = true
	old := ts.handle
	ts.handle = nil
	ts.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	slog.Error("capture: transcript stream gave up", "max_retries", ts.maxRetries)
	ts.sink.Warn(fmt.Sprintf("transcription unavailable after %d attempts", ts.maxRetries))
	return nil, false
}

// forward pumps partials and finals into the sink until both channels close.
// stop is true when the session no longer accepts input.
func (ts *TranscriptStream) forward(ctx context.Context, h stt.SessionHandle) (stop bool) {
	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		var (
			ev types.TranscriptEvent
			ok bool
		)
		select {
		case <-ctx.Done():
			return true
		case ev, ok = <-partials:
			if !ok {
				partials = nil
				continue
			}
		case ev, ok = <-finals:
			if !ok {
				finals = nil
				continue
			}
		}
		if ev.Role == "" {
			ev.Role = ts.streamCfg.Role
		}
		if err := ts.sink.OnTranscript(ev); err != nil {
			return true
		}
	}
	return false
}

func (ts *TranscriptStream) closeHandle() {
	ts.mu.Lock()
	h := ts.handle
	ts.handle = nil
	ts.mu.Unlock()
	if h != nil {
		_ = h.Close()
	}
}
