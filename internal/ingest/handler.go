// Package ingest is the host-facing HTTP surface of poise.
//
// REST endpoints start and stop sessions, change goals and fetch reports. A
// WebSocket per session carries detector results, audio levels and
// transcripts in, and metrics snapshots and tips out. Clients that cannot run
// detectors themselves send raw frames and PCM instead, which the server
// feeds through its own capture pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/poise/internal/feedback"
	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/reportstore"
	"github.com/MrWong99/poise/internal/session"
	"github.com/MrWong99/poise/pkg/media"
	"github.com/MrWong99/poise/pkg/types"
)

// ErrNoServerCapture is returned by [Live.PushFrame] and [Live.PushAudio]
// for sessions started without server-side capture.
var ErrNoServerCapture = errors.New("ingest: server capture not enabled")

// StartRequest is the body of POST /v1/sessions. Nil fields fall back to the
// server configuration.
type StartRequest struct {
	ID               string        `json:"id,omitempty"`
	Goals            *GoalsRequest `json:"goals,omitempty"`
	RealTimeFeedback *bool         `json:"real_time_feedback,omitempty"`

	// ServerCapture runs face, pose and speech-to-text on the server from
	// raw frames and audio pushed over the stream.
	ServerCapture bool `json:"server_capture,omitempty"`
}

// GoalsRequest is the goal set sent by clients. An absent key enables its
// category.
type GoalsRequest struct {
	EyeContact   *bool `json:"eye_contact,omitempty"`
	Posture      *bool `json:"posture,omitempty"`
	Smiling      *bool `json:"smiling,omitempty"`
	SpeakingPace *bool `json:"speaking_pace,omitempty"`
	FillerWords  *bool `json:"filler_words,omitempty"`
	ResponseTime *bool `json:"response_time,omitempty"`
}

// Goals converts the request into engine goals.
func (g GoalsRequest) Goals() feedback.Goals {
	on := func(b *bool) bool { return b == nil || *b }
	return feedback.Goals{
		EyeContact:   on(g.EyeContact),
		Posture:      on(g.Posture),
		Smiling:      on(g.Smiling),
		SpeakingPace: on(g.SpeakingPace),
		FillerWords:  on(g.FillerWords),
		ResponseTime: on(g.ResponseTime),
	}
}

// StopResult is the body returned by POST /v1/sessions/{id}/stop.
type StopResult struct {
	Record reportstore.Record `json:"record"`

	// Persisted is false when the session was too short to be stored.
	Persisted bool `json:"persisted"`
}

// Live is a running session as seen by the HTTP layer.
type Live interface {
	Session() *session.Session
	Subscribe() (<-chan session.Event, func())
	PushFrame(f types.Frame) error
	PushAudio(f media.AudioFrame) error
}

// Manager owns the running sessions.
type Manager interface {
	Start(ctx context.Context, req StartRequest) (Live, error)
	Get(id string) (Live, bool)
	Stop(ctx context.Context, id string) (StopResult, error)
	Report(ctx context.Context, id string) (reportstore.Record, error)
	Reports(ctx context.Context, limit int) ([]reportstore.Record, error)
}

// Option configures a [Handler].
type Option func(*Handler)

// WithClock overrides time.Now for the receive time of stream messages.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithOriginPatterns allows cross-origin WebSocket connections from the
// given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// Handler serves the REST and WebSocket endpoints.
type Handler struct {
	mgr     Manager
	now     func() time.Time
	origins []string
}

// New creates a [Handler] backed by mgr.
func New(mgr Manager, opts ...Option) *Handler {
	h := &Handler{mgr: mgr, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.startSession)
	mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", h.stopSession)
	mux.HandleFunc("PUT /v1/sessions/{id}/goals", h.putGoals)
	mux.HandleFunc("GET /v1/sessions/{id}/report", h.getReport)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", h.stream)
	mux.HandleFunc("GET /v1/reports", h.listReports)
}

// sessionView is the JSON representation of a running session.
type sessionView struct {
	session.Info
	Goals        feedback.Goals      `json:"goals"`
	VideoMetrics types.VideoMetrics  `json:"video_metrics"`
	AudioMetrics types.AudioMetrics  `json:"audio_metrics"`
	ActiveTip    *types.FeedbackItem `json:"active_tip,omitempty"`
}

func viewOf(s *session.Session) sessionView {
	v := sessionView{
		Info:         s.Info(),
		Goals:        s.Goals(),
		VideoMetrics: s.VideoMetrics(),
		AudioMetrics: s.AudioMetrics(),
	}
	if tip, ok := s.ActiveTip(); ok {
		v.ActiveTip = &tip
	}
	return v
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	live, err := h.mgr.Start(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(live.Session()))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	live, ok := h.mgr.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(live.Session()))
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.mgr.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) putGoals(w http.ResponseWriter, r *http.Request) {
	live, ok := h.mgr.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}
	var req GoalsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g := req.Goals()
	live.Session().SetGoals(g)
	observe.Logger(observe.WithSession(r.Context(), live.Session().ID())).Info("goals updated", "goals", g)
	writeJSON(w, http.StatusOK, live.Session().Goals())
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	rec, err := h.mgr.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	recs, err := h.mgr.Reports(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if recs == nil {
		recs = []reportstore.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, reportstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrExists), errors.Is(err, session.ErrSessionStopped),
		errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrCannotProceed):
		return http.StatusUnprocessableEntity
	}
	slog.Error("ingest: request failed", "err", err)
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
