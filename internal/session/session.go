// Package session owns the per-interview state of the coaching pipeline.
//
// A [Session] bundles one video aggregator, one audio aggregator and one
// feedback engine and serialises every tick that touches them under a single
// mutex. Capture goroutines and the WebSocket glue only ever call the
// exported entry points; nothing else reaches into the analyzers.
//
// Once [Session.Stop] has been called all further input is discarded with
// [ErrSessionStopped] and the final report becomes available.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/poise/internal/feedback"
	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/report"
	"github.com/MrWong99/poise/internal/speech"
	"github.com/MrWong99/poise/internal/video"
	"github.com/MrWong99/poise/pkg/ring"
	"github.com/MrWong99/poise/pkg/types"
)

var (
	// ErrSessionStopped is returned by input entry points after Stop.
	ErrSessionStopped = errors.New("session: stopped")

	// ErrSessionActive is returned by GenerateReport before Stop.
	ErrSessionActive = errors.New("session: still active")

	// ErrCannotProceed is returned when a session cannot be set up because no
	// usable input or detector exists at all.
	ErrCannotProceed = errors.New("session: cannot proceed")

	// ErrNotFound is returned by session registries for an unknown ID.
	ErrNotFound = errors.New("session: not found")

	// ErrExists is returned by session registries for a duplicate ID.
	ErrExists = errors.New("session: already exists")
)

// Info is a point-in-time description of a session.
type Info struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	StoppedAt time.Time     `json:"stopped_at,omitzero"`
	Duration  time.Duration `json:"duration"`
	Active    bool          `json:"active"`
}

// Callbacks receive pipeline output. They run outside the session lock on the
// goroutine that delivered the triggering input. Any field may be nil.
type Callbacks struct {
	// OnVideoMetrics receives every new video snapshot.
	OnVideoMetrics func(types.VideoMetrics)

	// OnAudioMetrics receives every new audio snapshot.
	OnAudioMetrics func(types.AudioMetrics)

	// OnActiveTip is called whenever the displayed tip changes. ok is false
	// when no tip is displayed any more.
	OnActiveTip func(item types.FeedbackItem, ok bool)

	// OnWarning receives non-fatal degradation notices, such as the
	// transcript stream giving up.
	OnWarning func(msg string)
}

// Option is a functional option for [New].
type Option func(*Session)

// WithID sets the session ID. Default: a random UUID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithGoals sets the initial goal toggles. Default: every goal enabled.
func WithGoals(g feedback.Goals) Option {
	return func(s *Session) { s.goals = g }
}

// WithRealTimeFeedback toggles live tips. When disabled no rule is evaluated
// and the feedback history stays empty. Default: enabled.
func WithRealTimeFeedback(enabled bool) Option {
	return func(s *Session) { s.realtime = enabled }
}

// WithCallbacks registers output callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(s *Session) { s.cb = cb }
}

// WithClock overrides time.Now for session start, Stop and timer ticks.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithMetrics overrides the OTel instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithFeedbackOptions passes options through to the feedback engine.
func WithFeedbackOptions(opts ...feedback.Option) Option {
	return func(s *Session) { s.feedbackOpts = append(s.feedbackOpts, opts...) }
}

// Session is the explicit context of one coaching session. All methods are
// safe for concurrent use.
type Session struct {
	id           string
	goals        feedback.Goals
	realtime     bool
	cb           Callbacks
	now          func() time.Time
	metrics      *observe.Metrics
	feedbackOpts []feedback.Option

	mu        sync.Mutex
	start     time.Time
	stoppedAt time.Time
	stopped   bool
	video     *video.Aggregator
	audio     *speech.Aggregator
	engine    *feedback.Engine
	activeID  string
}

// New starts a session at the current clock time.
func New(opts ...Option) *Session {
	s := &Session{
		goals:    feedback.DefaultGoals(),
		realtime: true,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.start = s.now()
	s.video = video.NewAggregator(
		video.NewFaceAnalyzer(ring.New[types.FaceDetection](video.WindowSize)),
		video.NewPostureAnalyzer(ring.New[types.Point](video.WindowSize)),
		s.start,
	)
	s.audio = speech.NewAggregator(speech.NewSegmenter(), speech.NewLevelAnalyzer(s.start))
	s.engine = feedback.New(s.goals, s.feedbackOpts...)

	s.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("session started", "session_id", s.id, "realtime_feedback", s.realtime)
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Info describes the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{ID: s.id, StartedAt: s.start, Active: !s.stopped}
	if s.stopped {
		info.StoppedAt = s.stoppedAt
		info.Duration = s.stoppedAt.Sub(s.start)
	} else {
		info.Duration = s.now().Sub(s.start)
	}
	return info
}

// tipChange carries an active-tip transition out of the lock.
type tipChange struct {
	item    types.FeedbackItem
	ok      bool
	changed bool
}

// OnFrame applies one face detector result. det is nil when no face was
// found or the detector was unavailable.
func (s *Session) OnFrame(det *types.FaceDetection, at time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	vm := s.video.OnFrame(det, at)
	tip := s.evaluateLocked(at)
	s.mu.Unlock()

	s.metrics.RecordFrame(context.Background(), det != nil)
	s.emitVideo(vm)
	s.emitTip(tip)
	return nil
}

// OnPoseResult applies one pose estimator result.
func (s *Session) OnPoseResult(pose *types.Pose, at time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	vm := s.video.OnPose(pose)
	tip := s.evaluateLocked(at)
	s.mu.Unlock()

	s.emitVideo(vm)
	s.emitTip(tip)
	return nil
}

// OnTranscript applies one speech-to-text event.
func (s *Session) OnTranscript(ev types.TranscriptEvent) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	am, changed := s.audio.OnTranscript(ev)
	var tip tipChange
	if changed {
		tip = s.evaluateLocked(ev.Timestamp)
	}
	s.mu.Unlock()

	if changed {
		s.emitAudio(am)
	}
	s.emitTip(tip)
	return nil
}

// OnAudioLevel applies one audio sampling tick with the buffer's RMS
// amplitude in [0, 1].
func (s *Session) OnAudioLevel(rms float64, at time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	am := s.audio.OnLevel(rms, at)
	tip := s.evaluateLocked(at)
	s.mu.Unlock()

	s.emitAudio(am)
	s.emitTip(tip)
	return nil
}

// SetOtherPartySpeaking records the interviewer starting or stopping speech.
func (s *Session) SetOtherPartySpeaking(speaking bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionStopped
	}
	s.audio.SetOtherPartySpeaking(speaking, at)
	return nil
}

// Tick runs the timer-driven work: rule evaluation against the latest
// snapshots and expiry of the displayed tip.
func (s *Session) Tick() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	tip := s.evaluateLocked(s.now())
	s.mu.Unlock()

	s.emitTip(tip)
	return nil
}

// evaluateLocked runs the feedback rules and reports whether the displayed
// tip changed. Must be called with s.mu held.
func (s *Session) evaluateLocked(at time.Time) tipChange {
	if !s.realtime {
		return tipChange{}
	}
	fired := s.engine.Evaluate(s.video.Current(), s.audio.Current(), at)
	for _, it := range fired {
		s.metrics.RecordFeedback(context.Background(), string(it.Type), string(it.Severity))
		slog.Debug("feedback fired", "session_id", s.id, "type", it.Type, "severity", it.Severity)
	}
	return s.activeLocked(at)
}

func (s *Session) activeLocked(at time.Time) tipChange {
	item, ok := s.engine.Active(at)
	id := ""
	if ok {
		id = item.ID
	}
	if id == s.activeID {
		return tipChange{}
	}
	s.activeID = id
	return tipChange{item: item, ok: ok, changed: true}
}

// Dismiss dismisses a tip by ID and reports whether it was undismissed.
func (s *Session) Dismiss(id string) bool {
	s.mu.Lock()
	found := s.engine.Dismiss(id)
	var tip tipChange
	if found && !s.stopped {
		tip = s.activeLocked(s.now())
	}
	s.mu.Unlock()

	s.emitTip(tip)
	return found
}

// SetGoals replaces the goal toggles. Cooldowns are preserved.
func (s *Session) SetGoals(g feedback.Goals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.SetGoals(g)
}

// SetRealTimeFeedback toggles live tips on a running session.
func (s *Session) SetRealTimeFeedback(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realtime = enabled
}

// Goals returns the current goal toggles.
func (s *Session) Goals() feedback.Goals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Goals()
}

// VideoMetrics returns the latest video snapshot.
func (s *Session) VideoMetrics() types.VideoMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video.Current()
}

// AudioMetrics returns the latest audio snapshot.
func (s *Session) AudioMetrics() types.AudioMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.Current()
}

// Feedback returns every tip fired so far, oldest first.
func (s *Session) Feedback() []types.FeedbackItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.History()
}

// ActiveTip returns the currently displayed tip.
func (s *Session) ActiveTip() (types.FeedbackItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" {
		return types.FeedbackItem{}, false
	}
	for _, it := range s.engine.History() {
		if it.ID == s.activeID {
			return it, true
		}
	}
	return types.FeedbackItem{}, false
}

// Transcript returns the candidate's final transcript and the latest interim
// text.
func (s *Session) Transcript() (final, interim string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.Transcript(), s.audio.Interim()
}

// Warn forwards a degradation notice to the host.
func (s *Session) Warn(msg string) {
	slog.Warn("session degraded", "session_id", s.id, "reason", msg)
	if s.cb.OnWarning != nil {
		s.cb.OnWarning(msg)
	}
}

// Stop ends the session. Accumulation and evaluation stop immediately.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	s.stopped = true
	s.stoppedAt = s.now()
	if s.stoppedAt.Before(s.start) {
		s.stoppedAt = s.start
	}
	hadTip := s.activeID != ""
	s.activeID = ""
	duration := s.stoppedAt.Sub(s.start)
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session stopped", "session_id", s.id, "duration", duration)
	if hadTip {
		s.emitTip(tipChange{changed: true})
	}
	return nil
}

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// GenerateReport scores the finished session. It may be called any number of
// times after Stop and always returns the same report.
func (s *Session) GenerateReport(ctx context.Context) (report.Report, error) {
	ctx, span := observe.StartSessionSpan(observe.WithSession(ctx, s.id), "session.GenerateReport")
	defer span.End()

	s.mu.Lock()
	if !s.stopped {
		s.mu.Unlock()
		return report.Report{}, fmt.Errorf("session: generate report: %w", ErrSessionActive)
	}
	in := report.Input{
		Video:      s.video.Current(),
		Audio:      s.audio.Current(),
		Feedback:   s.engine.History(),
		Transcript: s.audio.Transcript(),
		Duration:   s.stoppedAt.Sub(s.start),
		Averages:   s.averagesLocked(),
	}
	s.mu.Unlock()

	begin := time.Now()
	r := report.Generate(in)
	s.metrics.RecordReport(ctx, time.Since(begin).Seconds(), r.OverallScore)
	observe.Logger(ctx).Info("report generated", "overall", r.OverallScore, "duration", r.DurationText)
	return r, nil
}

// averagesLocked summarises the whole session. Must be called with s.mu held.
func (s *Session) averagesLocked() types.SessionAverages {
	var avg types.SessionAverages
	avg.EyeContact, avg.Posture = s.video.Averages()
	withFace, total := s.video.Coverage()
	if total > 0 {
		avg.InFrame = float64(withFace) / float64(total) * 100
	}
	avg.VideoTicks = total
	avg.Volume, avg.SpeakingRate, avg.AudioTicks = s.audio.Averages()
	return avg
}

func (s *Session) emitVideo(vm types.VideoMetrics) {
	if s.cb.OnVideoMetrics != nil {
		s.cb.OnVideoMetrics(vm)
	}
}

func (s *Session) emitAudio(am types.AudioMetrics) {
	if s.cb.OnAudioMetrics != nil {
		s.cb.OnAudioMetrics(am)
	}
}

func (s *Session) emitTip(t tipChange) {
	if t.changed && s.cb.OnActiveTip != nil {
		s.cb.OnActiveTip(t.item, t.ok)
	}
}
