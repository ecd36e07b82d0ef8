// Package capture drives a [session.Session] from live sources.
//
// [VideoSampler] pulls frames at a fixed cadence and runs the face and pose
// detectors on each of them concurrently. [AudioPump] converts microphone
// audio, feeds RMS levels to the session and forwards PCM to a
// [TranscriptStream], which restarts the speech-to-text stream with
// exponential backoff when the backend drops it.
//
// All three loops only talk to the session through the [Sink] entry points.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/session"
	"github.com/MrWong99/poise/pkg/media"
	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/types"
)

// DefaultSampleInterval is the default frame sampling cadence.
const DefaultSampleInterval = 100 * time.Millisecond

// Sink is the subset of [session.Session] the capture loops feed.
type Sink interface {
	OnFrame(det *types.FaceDetection, at time.Time) error
	OnPoseResult(p *types.Pose, at time.Time) error
	OnAudioLevel(rms float64, at time.Time) error
	OnTranscript(ev types.TranscriptEvent) error
	Warn(msg string)
}

var _ Sink = (*session.Session)(nil)

// Inputs bundles the sources and detectors for one session. Any field may be
// nil as long as Validate passes.
type Inputs struct {
	Frames media.FrameSource
	Audio  media.AudioSource
	Face   face.Detector
	Pose   pose.Estimator
}

// Validate reports whether a session can be driven from in.
func (in Inputs) Validate() error {
	var errs []error
	if in.Frames == nil && in.Audio == nil {
		errs = append(errs, errors.New("no video or audio source"))
	}
	if in.Frames != nil && in.Face == nil && in.Pose == nil {
		errs = append(errs, errors.New("video source without any detector"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", session.ErrCannotProceed, errors.Join(errs...))
	}
	return nil
}

// SamplerOption is a functional option for [NewVideoSampler].
type SamplerOption func(*VideoSampler)

// WithSampleInterval overrides [DefaultSampleInterval].
func WithSampleInterval(d time.Duration) SamplerOption {
	return func(s *VideoSampler) { s.interval = d }
}

// WithSamplerMetrics overrides the OTel instruments.
func WithSamplerMetrics(m *observe.Metrics) SamplerOption {
	return func(s *VideoSampler) { s.metrics = m }
}

// VideoSampler samples frames and runs the detectors.
type VideoSampler struct {
	src      media.FrameSource
	face     face.Detector
	pose     pose.Estimator
	sink     Sink
	interval time.Duration
	metrics  *observe.Metrics
}

// NewVideoSampler creates a sampler. faceDet or poseEst may be nil.
func NewVideoSampler(src media.FrameSource, faceDet face.Detector, poseEst pose.Estimator, sink Sink, opts ...SamplerOption) *VideoSampler {
	s := &VideoSampler{
		src:      src,
		face:     faceDet,
		pose:     poseEst,
		sink:     sink,
		interval: DefaultSampleInterval,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Run samples until ctx is done, the source closes or the session stops.
func (s *VideoSampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, err := s.src.NextFrame(ctx)
		switch {
		case err == nil:
		case errors.Is(err, media.ErrFrameNotReady):
			continue
		case errors.Is(err, media.ErrSourceClosed), ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("capture: next frame: %w", err)
		}

		if err := s.process(ctx, frame); err != nil {
			if errors.Is(err, session.ErrSessionStopped) {
				return nil
			}
			return err
		}
	}
}

// process runs both detectors on frame and applies the results. A failing
// detector never affects the other one.
func (s *VideoSampler) process(ctx context.Context, frame types.Frame) error {
	at := frame.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}

	var (
		det     *types.FaceDetection
		faceErr error
		body    *types.Pose
		poseErr error
		eg      errgroup.Group
	)
	runFace, runPose := s.face != nil, s.pose != nil
	if runFace {
		eg.Go(func() error {
			det, faceErr = s.detectFace(ctx, frame)
			return nil
		})
	}
	if runPose {
		eg.Go(func() error {
			body, poseErr = s.estimatePose(ctx, frame)
			return nil
		})
	}
	_ = eg.Wait()

	if ctx.Err() != nil {
		return nil
	}

	if runFace {
		switch {
		case faceErr == nil:
			if err := s.sink.OnFrame(det, at); err != nil {
				return err
			}
		case errors.Is(faceErr, face.ErrUnavailable):
			if err := s.sink.OnFrame(nil, at); err != nil {
				return err
			}
		default:
			slog.Debug("capture: face detector skipped frame", "seq", frame.Seq, "err", faceErr)
		}
	}

	if runPose {
		switch {
		case poseErr == nil:
			if err := s.sink.OnPoseResult(body, at); err != nil {
				return err
			}
		default:
			slog.Debug("capture: pose estimator skipped frame", "seq", frame.Seq, "err", poseErr)
		}
	}
	return nil
}

func (s *VideoSampler) detectFace(ctx context.Context, frame types.Frame) (*types.FaceDetection, error) {
	ctx, span := observe.StartSessionSpan(ctx, "face.Detect")
	defer span.End()

	start := time.Now()
	det, err := s.face.Detect(ctx, frame)
	s.metrics.RecordDetector(ctx, "face", time.Since(start).Seconds(), errorKind(err, face.ErrUnavailable))
	if err != nil {
		span.RecordError(err)
	}
	return det, err
}

func (s *VideoSampler) estimatePose(ctx context.Context, frame types.Frame) (*types.Pose, error) {
	ctx, span := observe.StartSessionSpan(ctx, "pose.Estimate")
	defer span.End()

	start := time.Now()
	p, err := s.pose.Estimate(ctx, frame)
	s.metrics.RecordDetector(ctx, "pose", time.Since(start).Seconds(), errorKind(err, pose.ErrUnavailable))
	if err != nil {
		span.RecordError(err)
	}
	return p, err
}

func errorKind(err, unavailable error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, unavailable):
		return "unavailable"
	}
	return "transient"
}
