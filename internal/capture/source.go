package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/poise/pkg/media"
	"github.com/MrWong99/poise/pkg/types"
)

// LatestFrameSource is a [media.FrameSource] fed by Push. Only the newest
// frame is kept: a slow sampler skips stale frames instead of queueing them.
type LatestFrameSource struct {
	mu      sync.Mutex
	frame   types.Frame
	fresh   bool
	closed  bool
	notify  chan struct{}
	nextSeq uint64
}

var _ media.FrameSource = (*LatestFrameSource)(nil)

// NewLatestFrameSource returns an empty source.
func NewLatestFrameSource() *LatestFrameSource {
	return &LatestFrameSource{notify: make(chan struct{}, 1)}
}

// Push replaces the pending frame. Frames without a sequence number are
// numbered by the source.
func (s *LatestFrameSource) Push(f types.Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.nextSeq++
	if f.Seq == 0 {
		f.Seq = s.nextSeq
	}
	s.frame = f
	s.fresh = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// NextFrame blocks until a frame newer than the previously returned one is
// available, the source is closed or ctx is done.
func (s *LatestFrameSource) NextFrame(ctx context.Context) (types.Frame, error) {
	for {
		s.mu.Lock()
		if s.fresh {
			f := s.frame
			s.fresh = false
			s.mu.Unlock()
			return f, nil
		}
		if s.closed {
			s.mu.Unlock()
			return types.Frame{}, media.ErrSourceClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close ends the source. A frame pushed before Close is still delivered.
func (s *LatestFrameSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ChanAudioSource is a [media.AudioSource] fed by Push.
type ChanAudioSource struct {
	mu      sync.Mutex
	ch      chan media.AudioFrame
	closed  bool
	dropped int
}

var _ media.AudioSource = (*ChanAudioSource)(nil)

// NewChanAudioSource returns a source buffering up to size frames.
func NewChanAudioSource(size int) *ChanAudioSource {
	return &ChanAudioSource{ch: make(chan media.AudioFrame, size)}
}

// Frames implements [media.AudioSource].
func (s *ChanAudioSource) Frames() <-chan media.AudioFrame { return s.ch }

// Push enqueues f. When the buffer is full the frame is dropped so that the
// network reader never blocks on a slow consumer.
func (s *ChanAudioSource) Push(f media.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- f:
		return true
	default:
		s.dropped++
		if s.dropped == 1 || s.dropped%100 == 0 {
			slog.Warn("capture: audio buffer full, dropping frames", "dropped", s.dropped)
		}
		return false
	}
}

// Close closes the frame channel. Safe to call more than once.
func (s *ChanAudioSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
