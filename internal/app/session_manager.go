package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/poise/internal/capture"
	"github.com/MrWong99/poise/internal/config"
	"github.com/MrWong99/poise/internal/feedback"
	"github.com/MrWong99/poise/internal/ingest"
	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/reportstore"
	"github.com/MrWong99/poise/internal/session"
	"github.com/MrWong99/poise/pkg/media"
	"github.com/MrWong99/poise/pkg/provider/stt"
	"github.com/MrWong99/poise/pkg/types"
)

// audioBufferFrames is how many pushed audio frames a server-capture session
// buffers before dropping.
const audioBufferFrames = 64

// hubBuffer is the per-subscriber event buffer.
const hubBuffer = 32

// liveSession is one running session plus the goroutines driving it.
type liveSession struct {
	sess *session.Session
	hub  *session.Hub

	// frames and audio are nil unless the session was started with server
	// capture.
	frames *capture.LatestFrameSource
	audio  *capture.ChanAudioSource

	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ ingest.Live = (*liveSession)(nil)

func (l *liveSession) Session() *session.Session                 { return l.sess }
func (l *liveSession) Subscribe() (<-chan session.Event, func()) { return l.hub.Subscribe() }

func (l *liveSession) PushFrame(f types.Frame) error {
	if l.frames == nil {
		return ingest.ErrNoServerCapture
	}
	if l.sess.Stopped() {
		return session.ErrSessionStopped
	}
	l.frames.Push(f)
	return nil
}

func (l *liveSession) PushAudio(f media.AudioFrame) error {
	if l.audio == nil {
		return ingest.ErrNoServerCapture
	}
	if l.sess.Stopped() {
		return session.ErrSessionStopped
	}
	l.audio.Push(f)
	return nil
}

// closeSources ends the capture loops by closing their inputs.
func (l *liveSession) closeSources() {
	if l.frames != nil {
		l.frames.Close()
	}
	if l.audio != nil {
		l.audio.Close()
	}
}

// SessionManager runs any number of concurrent sessions and persists their
// reports when they stop. All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg       *config.Config
	providers *Providers
	store     reportstore.Store
	metrics   *observe.Metrics
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*liveSession
	goals    feedback.Goals
	realTime bool
}

var _ ingest.Manager = (*SessionManager)(nil)

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	Store     reportstore.Store

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Clock overrides time.Now for every session. Tests only.
	Clock func() time.Time
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		cfg:       cfg.Config,
		providers: cfg.Providers,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		now:       cfg.Clock,
		sessions:  make(map[string]*liveSession),
		goals:     cfg.Config.Goals.Goals(),
		realTime:  cfg.Config.Session.RealTimeFeedbackEnabled(),
	}
	if sm.providers == nil {
		sm.providers = &Providers{}
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	return sm
}

// Start creates a session and, when requested, the server-side capture
// pipeline feeding it.
func (sm *SessionManager) Start(ctx context.Context, req ingest.StartRequest) (ingest.Live, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := sm.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %q", session.ErrExists, id)
	}

	goals := sm.goals
	if req.Goals != nil {
		goals = req.Goals.Goals()
	}
	realTime := sm.realTime
	if req.RealTimeFeedback != nil {
		realTime = *req.RealTimeFeedback
	}

	hub := session.NewHub(hubBuffer)
	l := &liveSession{
		sess: session.New(
			session.WithID(id),
			session.WithGoals(goals),
			session.WithRealTimeFeedback(realTime),
			session.WithCallbacks(hub.Callbacks()),
			session.WithClock(sm.now),
			session.WithMetrics(sm.metrics),
		),
		hub: hub,
	}

	var in capture.Inputs
	if req.ServerCapture {
		l.frames = capture.NewLatestFrameSource()
		l.audio = capture.NewChanAudioSource(audioBufferFrames)
		in = capture.Inputs{
			Audio: l.audio,
			Face:  sm.providers.Face,
			Pose:  sm.providers.Pose,
		}
		if in.Face != nil || in.Pose != nil {
			in.Frames = l.frames
		}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("app: start session: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(observe.WithSession(context.WithoutCancel(ctx), id))
	g, gctx := errgroup.WithContext(runCtx)
	l.cancel = cancel
	l.group = g

	g.Go(func() error { return sm.evaluate(gctx, l.sess) })
	if req.ServerCapture {
		sm.startCapture(gctx, g, l, in)
	}

	sm.sessions[id] = l
	observe.Logger(runCtx).Info("session started",
		"goals", goals,
		"real_time_feedback", realTime,
		"server_capture", req.ServerCapture,
	)
	return l, nil
}

// startCapture launches the capture loops for a server-capture session.
func (sm *SessionManager) startCapture(ctx context.Context, g *errgroup.Group, l *liveSession, in capture.Inputs) {
	if in.Frames != nil {
		sampler := capture.NewVideoSampler(in.Frames, in.Face, in.Pose, l.sess,
			capture.WithSampleInterval(sm.cfg.Session.SampleIntervalOrDefault()),
			capture.WithSamplerMetrics(sm.metrics),
		)
		g.Go(func() error { return sampler.Run(ctx) })
	}

	var stream *capture.TranscriptStream
	if sm.providers.STT != nil {
		stream = capture.NewTranscriptStream(capture.TranscriptStreamConfig{
			Provider: sm.providers.STT,
			Stream: stt.StreamConfig{
				SampleRate: 16000,
				Channels:   1,
				Role:       types.RoleSelf,
			},
			Sink:    l.sess,
			Metrics: sm.metrics,
		})
		g.Go(func() error { return stream.Run(ctx) })
	} else {
		l.sess.Warn("speech-to-text unavailable; transcript metrics disabled")
	}

	pump := capture.NewAudioPump(in.Audio, l.sess, stream)
	g.Go(func() error { return pump.Run(ctx) })
}

// evaluate ticks the feedback rules so that cooldowns and tip expiry advance
// even when no input arrives.
func (sm *SessionManager) evaluate(ctx context.Context, s *session.Session) error {
	t := time.NewTicker(sm.cfg.Session.EvaluationIntervalOrDefault())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := s.Tick(); err != nil {
				if errors.Is(err, session.ErrSessionStopped) {
					return nil
				}
				return err
			}
		}
	}
}

// Get returns the running session with the given id.
func (sm *SessionManager) Get(id string) (ingest.Live, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	l, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	return l, true
}

// Active returns the ids of all running sessions, sorted.
func (sm *SessionManager) Active() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return slices.Sorted(maps.Keys(sm.sessions))
}

// Stop ends a session, waits for its pipeline to drain and generates the
// report. Sessions shorter than the configured minimum are reported but not
// persisted.
func (sm *SessionManager) Stop(ctx context.Context, id string) (ingest.StopResult, error) {
	sm.mu.Lock()
	l, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if !ok {
		return ingest.StopResult{}, fmt.Errorf("%w: %q", session.ErrNotFound, id)
	}

	log := observe.Logger(observe.WithSession(ctx, id))
	if err := l.sess.Stop(); err != nil && !errors.Is(err, session.ErrSessionStopped) {
		log.Warn("stop session", "err", err)
	}
	l.closeSources()
	l.cancel()
	if err := l.group.Wait(); err != nil {
		log.Warn("session pipeline error", "err", err)
	}
	l.hub.Close()

	rep, err := l.sess.GenerateReport(ctx)
	if err != nil {
		return ingest.StopResult{}, fmt.Errorf("app: stop session %q: %w", id, err)
	}
	info := l.sess.Info()
	final, _ := l.sess.Transcript()
	rec := reportstore.Record{
		SessionID:  id,
		StartedAt:  info.StartedAt,
		StoppedAt:  info.StoppedAt,
		Goals:      l.sess.Goals(),
		Report:     rep,
		Transcript: final,
	}

	res := ingest.StopResult{Record: rec}
	if minDur := sm.cfg.Session.MinReportDurationOrDefault(); info.Duration < minDur {
		log.Info("session stopped; too short to persist", "duration", info.Duration, "min", minDur)
		return res, nil
	}
	if err := sm.store.Save(ctx, rec); err != nil {
		return ingest.StopResult{}, fmt.Errorf("app: save report %q: %w", id, err)
	}
	res.Persisted = true
	log.Info("session stopped", "duration", info.Duration, "overall_score", rep.OverallScore)
	return res, nil
}

// StopAll stops every running session. Errors are logged.
func (sm *SessionManager) StopAll(ctx context.Context) {
	for _, id := range sm.Active() {
		if _, err := sm.Stop(ctx, id); err != nil {
			slog.Warn("app: stop session during shutdown", "session_id", id, "err", err)
		}
	}
}

// Report returns the persisted report of a stopped session.
func (sm *SessionManager) Report(ctx context.Context, id string) (reportstore.Record, error) {
	return sm.store.Get(ctx, id)
}

// Reports lists persisted reports, most recent first.
func (sm *SessionManager) Reports(ctx context.Context, limit int) ([]reportstore.Record, error) {
	return sm.store.List(ctx, limit)
}

// ApplyConfig pushes hot-reloadable settings to new and running sessions.
func (sm *SessionManager) ApplyConfig(d config.ConfigDiff) {
	if !d.GoalsChanged && !d.RealTimeFeedbackChanged {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if d.GoalsChanged {
		sm.goals = d.NewGoals
	}
	if d.RealTimeFeedbackChanged {
		sm.realTime = d.NewRealTimeFeedback
	}
	for _, l := range sm.sessions {
		if d.GoalsChanged {
			l.sess.SetGoals(d.NewGoals)
		}
		if d.RealTimeFeedbackChanged {
			l.sess.SetRealTimeFeedback(d.NewRealTimeFeedback)
		}
	}
	slog.Info("app: applied config change", "sessions", len(sm.sessions),
		"goals_changed", d.GoalsChanged, "real_time_changed", d.RealTimeFeedbackChanged)
}
