package ingest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/poise/internal/feedback"
	"github.com/MrWong99/poise/internal/ingest"
	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/reportstore"
	"github.com/MrWong99/poise/internal/session"
	"github.com/MrWong99/poise/pkg/media"
	"github.com/MrWong99/poise/pkg/types"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeLive struct {
	s       *session.Session
	hub     *session.Hub
	capture bool

	mu     sync.Mutex
	frames []types.Frame
	audio  []media.AudioFrame
}

func (l *fakeLive) Session() *session.Session                 { return l.s }
func (l *fakeLive) Subscribe() (<-chan session.Event, func()) { return l.hub.Subscribe() }

func (l *fakeLive) PushFrame(f types.Frame) error {
	if !l.capture {
		return ingest.ErrNoServerCapture
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
	return nil
}

func (l *fakeLive) PushAudio(f media.AudioFrame) error {
	if !l.capture {
		return ingest.ErrNoServerCapture
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audio = append(l.audio, f)
	return nil
}

func (l *fakeLive) frameCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

type fakeManager struct {
	t       *testing.T
	metrics *observe.Metrics
	store   *reportstore.Memory

	mu   sync.Mutex
	live map[string]*fakeLive
	seq  int
}

func newFakeManager(t *testing.T) *fakeManager {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &fakeManager{t: t, metrics: m, store: reportstore.NewMemory(), live: make(map[string]*fakeLive)}
}

func (m *fakeManager) Start(_ context.Context, req ingest.StartRequest) (ingest.Live, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := req.ID
	if id == "" {
		m.seq++
		id = fmt.Sprintf("s-%d", m.seq)
	}
	if _, ok := m.live[id]; ok {
		return nil, session.ErrExists
	}
	hub := session.NewHub(64)
	opts := []session.Option{
		session.WithID(id),
		session.WithMetrics(m.metrics),
		session.WithCallbacks(hub.Callbacks()),
	}
	if req.Goals != nil {
		opts = append(opts, session.WithGoals(req.Goals.Goals()))
	}
	l := &fakeLive{s: session.New(opts...), hub: hub, capture: req.ServerCapture}
	m.live[id] = l
	return l, nil
}

func (m *fakeManager) Get(id string) (ingest.Live, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.live[id]
	if !ok {
		return nil, false
	}
	return l, true
}

func (m *fakeManager) Stop(ctx context.Context, id string) (ingest.StopResult, error) {
	m.mu.Lock()
	l, ok := m.live[id]
	delete(m.live, id)
	m.mu.Unlock()
	if !ok {
		return ingest.StopResult{}, session.ErrNotFound
	}
	if err := l.s.Stop(); err != nil {
		return ingest.StopResult{}, err
	}
	l.hub.Close()
	r, err := l.s.GenerateReport(ctx)
	if err != nil {
		return ingest.StopResult{}, err
	}
	info := l.s.Info()
	rec := reportstore.Record{SessionID: id, StartedAt: info.StartedAt, StoppedAt: info.StoppedAt, Report: r}
	if err := m.store.Save(ctx, rec); err != nil {
		return ingest.StopResult{}, err
	}
	return ingest.StopResult{Record: rec, Persisted: true}, nil
}

func (m *fakeManager) Report(ctx context.Context, id string) (reportstore.Record, error) {
	return m.store.Get(ctx, id)
}

func (m *fakeManager) Reports(ctx context.Context, limit int) ([]reportstore.Record, error) {
	return m.store.List(ctx, limit)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func newServer(t *testing.T) (*httptest.Server, *fakeManager) {
	t.Helper()
	mgr := newFakeManager(t)
	mux := http.NewServeMux()
	ingest.New(mgr).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func dial(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + id + "/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var msg map[string]json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		var got string
		_ = json.Unmarshal(msg["type"], &got)
		if got == typ {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		t.Fatalf("send: %v", err)
	}
}

// ── REST ─────────────────────────────────────────────────────────────────────

func TestREST_SessionLifecycle(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)

	resp, body := do(t, "POST", srv.URL+"/v1/sessions", ingest.StartRequest{ID: "abc"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: status %d body %s", resp.StatusCode, body)
	}
	var view struct {
		ID     string         `json:"id"`
		Active bool           `json:"active"`
		Goals  feedback.Goals `json:"goals"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatal(err)
	}
	if view.ID != "abc" || !view.Active || view.Goals != feedback.DefaultGoals() {
		t.Errorf("start view = %+v", view)
	}

	if resp, _ := do(t, "POST", srv.URL+"/v1/sessions", ingest.StartRequest{ID: "abc"}); resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate start: status %d, want 409", resp.StatusCode)
	}

	goals := feedback.DefaultGoals()
	goals.Smiling = false
	resp, body = do(t, "PUT", srv.URL+"/v1/sessions/abc/goals", map[string]bool{"smiling": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put goals: status %d body %s", resp.StatusCode, body)
	}
	var gotGoals feedback.Goals
	_ = json.Unmarshal(body, &gotGoals)
	if gotGoals != goals {
		t.Errorf("goals = %+v, want %+v", gotGoals, goals)
	}

	if resp, _ := do(t, "GET", srv.URL+"/v1/sessions/abc/report", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("report before stop: status %d, want 404", resp.StatusCode)
	}

	resp, body = do(t, "POST", srv.URL+"/v1/sessions/abc/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status %d body %s", resp.StatusCode, body)
	}
	var stop ingest.StopResult
	if err := json.Unmarshal(body, &stop); err != nil {
		t.Fatal(err)
	}
	if stop.Record.SessionID != "abc" || !stop.Persisted {
		t.Errorf("stop result = %+v", stop)
	}

	resp, body = do(t, "GET", srv.URL+"/v1/sessions/abc/report", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: status %d body %s", resp.StatusCode, body)
	}

	resp, body = do(t, "GET", srv.URL+"/v1/reports?limit=5", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var list []reportstore.Record
	_ = json.Unmarshal(body, &list)
	if len(list) != 1 {
		t.Errorf("list len = %d, want 1", len(list))
	}
}

func TestREST_PartialGoalsKeepOthersEnabled(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)

	resp, body := do(t, "POST", srv.URL+"/v1/sessions", map[string]any{
		"id":    "partial",
		"goals": map[string]bool{"posture": false},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: status %d body %s", resp.StatusCode, body)
	}
	var view struct {
		Goals feedback.Goals `json:"goals"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatal(err)
	}
	want := feedback.DefaultGoals()
	want.Posture = false
	if view.Goals != want {
		t.Errorf("start goals = %+v, want %+v", view.Goals, want)
	}

	tests := []struct {
		name string
		body string
		want func(*feedback.Goals)
	}{
		{"one key off", `{"smiling":false}`, func(g *feedback.Goals) { g.Smiling = false }},
		{"empty object", `{}`, func(*feedback.Goals) {}},
		{"explicit true", `{"posture":true,"filler_words":false}`, func(g *feedback.Goals) { g.FillerWords = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, "PUT", srv.URL+"/v1/sessions/partial/goals", json.RawMessage(tt.body))
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status %d body %s", resp.StatusCode, body)
			}
			var got feedback.Goals
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatal(err)
			}
			want := feedback.DefaultGoals()
			tt.want(&want)
			if got != want {
				t.Errorf("goals = %+v, want %+v", got, want)
			}
		})
	}
}

func TestREST_Errors(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"get unknown", "GET", "/v1/sessions/nope", "", http.StatusNotFound},
		{"stop unknown", "POST", "/v1/sessions/nope/stop", "", http.StatusNotFound},
		{"goals unknown", "PUT", "/v1/sessions/nope/goals", "{}", http.StatusNotFound},
		{"bad start body", "POST", "/v1/sessions", "{not json", http.StatusBadRequest},
		{"unknown start field", "POST", "/v1/sessions", `{"npc":"x"}`, http.StatusBadRequest},
		{"bad limit", "GET", "/v1/reports?limit=-1", "", http.StatusBadRequest},
		{"stream unknown", "GET", "/v1/sessions/nope/stream", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestREST_EmptyStartBody(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)
	resp, body := do(t, "POST", srv.URL+"/v1/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
}

// ── WebSocket ────────────────────────────────────────────────────────────────

func TestStream_SnapshotAndUpdates(t *testing.T) {
	t.Parallel()
	srv, mgr := newServer(t)
	if _, err := mgr.Start(context.Background(), ingest.StartRequest{ID: "ws"}); err != nil {
		t.Fatal(err)
	}
	conn := dial(t, srv, "ws")

	readUntil(t, conn, ingest.MsgVideoMetrics)
	readUntil(t, conn, ingest.MsgAudioMetrics)

	send(t, conn, map[string]any{"type": ingest.MsgAudioLevel, "rms": 0.2})
	msg := readUntil(t, conn, ingest.MsgAudioMetrics)
	if _, ok := msg["audio_metrics"]; !ok {
		t.Errorf("audio_metrics payload missing: %v", msg)
	}

	send(t, conn, map[string]any{"type": ingest.MsgFace, "face": nil})
	readUntil(t, conn, ingest.MsgVideoMetrics)
}

func TestStream_FillerInstancesSentOnce(t *testing.T) {
	t.Parallel()
	srv, mgr := newServer(t)
	if _, err := mgr.Start(context.Background(), ingest.StartRequest{ID: "fill"}); err != nil {
		t.Fatal(err)
	}
	conn := dial(t, srv, "fill")

	type audioMsg struct {
		Offset  *int               `json:"filler_offset"`
		Metrics types.AudioMetrics `json:"audio_metrics"`
	}
	decode := func(msg map[string]json.RawMessage) audioMsg {
		t.Helper()
		raw, err := json.Marshal(msg)
		if err != nil {
			t.Fatal(err)
		}
		var m audioMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	first := decode(readUntil(t, conn, ingest.MsgAudioMetrics))
	if first.Offset == nil || *first.Offset != 0 {
		t.Fatalf("snapshot filler_offset = %v, want 0", first.Offset)
	}

	steps := []struct {
		text       string
		wantOffset int
		wantWords  []string
		wantCount  int
	}{
		{"um well um", 0, []string{"um", "um"}, 2},
		{"uh okay", 2, []string{"uh"}, 3},
		{"that went well", 3, nil, 3},
	}
	for _, st := range steps {
		send(t, conn, map[string]any{
			"type":       ingest.MsgTranscript,
			"transcript": map[string]any{"text": st.text, "is_final": true},
		})
		got := decode(readUntil(t, conn, ingest.MsgAudioMetrics))
		if got.Offset == nil || *got.Offset != st.wantOffset {
			t.Errorf("%q: filler_offset = %v, want %d", st.text, got.Offset, st.wantOffset)
		}
		fw := got.Metrics.FillerWords
		if fw.Count != st.wantCount {
			t.Errorf("%q: count = %d, want %d", st.text, fw.Count, st.wantCount)
		}
		if len(fw.Instances) != len(st.wantWords) {
			t.Fatalf("%q: instances = %+v, want words %v", st.text, fw.Instances, st.wantWords)
		}
		for i, w := range st.wantWords {
			if fw.Instances[i].Word != w {
				t.Errorf("%q: instance %d = %q, want %q", st.text, i, fw.Instances[i].Word, w)
			}
		}
	}

	// A second client starts from the full log.
	late := decode(readUntil(t, dial(t, srv, "fill"), ingest.MsgAudioMetrics))
	if *late.Offset != 0 || len(late.Metrics.FillerWords.Instances) != 3 {
		t.Errorf("late snapshot offset %d with %d instances, want 0 and 3",
			*late.Offset, len(late.Metrics.FillerWords.Instances))
	}
}

func TestStream_RejectsBadMessages(t *testing.T) {
	t.Parallel()
	srv, mgr := newServer(t)
	if _, err := mgr.Start(context.Background(), ingest.StartRequest{ID: "bad"}); err != nil {
		t.Fatal(err)
	}
	conn := dial(t, srv, "bad")
	readUntil(t, conn, ingest.MsgAudioMetrics)

	tests := []struct {
		name string
		msg  any
		want string
	}{
		{"unknown type", map[string]any{"type": "wave"}, "unknown message type"},
		{"unknown dismiss", map[string]any{"type": ingest.MsgDismiss, "id": "x"}, "unknown feedback id"},
		{"transcript without payload", map[string]any{"type": ingest.MsgTranscript}, "missing transcript"},
		{"frame without capture", map[string]any{"type": ingest.MsgFrame, "frame": map[string]any{"data": []byte{1}}}, "server capture not enabled"},
	}
	for _, tt := range tests {
		send(t, conn, tt.msg)
		msg := readUntil(t, conn, ingest.MsgError)
		var errText string
		_ = json.Unmarshal(msg["error"], &errText)
		if !strings.Contains(errText, tt.want) {
			t.Errorf("%s: error = %q, want it to contain %q", tt.name, errText, tt.want)
		}
	}

	// Raw malformed JSON keeps the connection open.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{oops")); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, ingest.MsgError)
	send(t, conn, map[string]any{"type": ingest.MsgAudioLevel, "rms": 0.1})
	readUntil(t, conn, ingest.MsgAudioMetrics)
}

func TestStream_ServerCaptureFrames(t *testing.T) {
	t.Parallel()
	srv, mgr := newServer(t)
	live, err := mgr.Start(context.Background(), ingest.StartRequest{ID: "cap", ServerCapture: true})
	if err != nil {
		t.Fatal(err)
	}
	conn := dial(t, srv, "cap")
	readUntil(t, conn, ingest.MsgAudioMetrics)

	send(t, conn, map[string]any{"type": ingest.MsgFrame, "frame": map[string]any{"width": 640, "height": 480, "data": []byte{0xff, 0xd8}}})
	// A follow-up round trip guarantees the frame was applied.
	send(t, conn, map[string]any{"type": ingest.MsgAudioLevel, "rms": 0.1})
	readUntil(t, conn, ingest.MsgAudioMetrics)

	if n := live.(*fakeLive).frameCount(); n != 1 {
		t.Errorf("frames pushed = %d, want 1", n)
	}
}

func TestStream_ClosesWhenSessionStops(t *testing.T) {
	t.Parallel()
	srv, mgr := newServer(t)
	if _, err := mgr.Start(context.Background(), ingest.StartRequest{ID: "end"}); err != nil {
		t.Fatal(err)
	}
	conn := dial(t, srv, "end")
	readUntil(t, conn, ingest.MsgAudioMetrics)

	if _, err := mgr.Stop(context.Background(), "end"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
			t.Errorf("close status = %v (err %v), want normal closure", got, err)
		}
		return
	}
}
