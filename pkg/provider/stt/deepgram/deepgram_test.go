package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/poise/pkg/provider/stt"
	"github.com/MrWong99/poise/pkg/types"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "filler_words", "true", q.Get("filler_words"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_ProviderDefaultsAndOverrides(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name     string
		cfg      stt.StreamConfig
		wantLang string
		wantRate string
	}{
		{name: "provider defaults", cfg: stt.StreamConfig{}, wantLang: "de-DE", wantRate: "48000"},
		{name: "config wins", cfg: stt.StreamConfig{Language: "fr-FR", SampleRate: 16000}, wantLang: "fr-FR", wantRate: "16000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rawURL, err := p.buildURL(tt.cfg)
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			u, _ := url.Parse(rawURL)
			q := u.Query()
			assertEqual(t, "model", "base", q.Get("model"))
			assertEqual(t, "language", tt.wantLang, q.Get("language"))
			assertEqual(t, "sample_rate", tt.wantRate, q.Get("sample_rate"))
		})
	}
}

func TestBuildURL_Keywords(t *testing.T) {
	p, _ := New("key")
	rawURL, err := p.buildURL(stt.StreamConfig{Keywords: []string{"Kubernetes", "Acme"}})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	got := u.Query()["keyterm"]
	if len(got) != 2 || got[0] != "Kubernetes" || got[1] != "Acme" {
		t.Errorf("keyterm = %v", got)
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		wantFinal bool
		wantText  string
	}{
		{
			name:      "final",
			raw:       `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello world.","confidence":0.95}]}}`,
			wantOK:    true,
			wantFinal: true,
			wantText:  "Hello world.",
		},
		{
			name:     "partial",
			raw:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hello","confidence":0.7}]}}`,
			wantOK:   true,
			wantText: "Hello",
		},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc"}`},
		{name: "no alternatives", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{name: "empty transcript", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`},
		{name: "invalid json", raw: `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := parseDeepgramResponse([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.IsFinal != tt.wantFinal {
				t.Errorf("IsFinal = %v, want %v", ev.IsFinal, tt.wantFinal)
			}
			assertEqual(t, "text", tt.wantText, ev.Text)
		})
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", deepgramEndpoint, p.endpoint)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ---- streaming round trip ----

func TestStartStream_RoundTrip(t *testing.T) {
	gotAudio := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		typ, data, err := conn.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			return
		}
		gotAudio <- data
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"I think"}]}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"I think so.","confidence":0.9}]}}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p, _ := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	p.now = func() time.Time { return fixed }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{Role: types.RoleOther})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	if err := h.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case a := <-gotAudio:
		if len(a) != 4 {
			t.Errorf("server received %d bytes, want 4", len(a))
		}
	case <-ctx.Done():
		t.Fatal("server never received audio")
	}

	partial := <-h.Partials()
	assertEqual(t, "partial", "I think", partial.Text)

	final, ok := <-h.Finals()
	if !ok {
		t.Fatal("finals closed before the final arrived")
	}
	assertEqual(t, "final", "I think so.", final.Text)
	if final.Role != types.RoleOther {
		t.Errorf("role = %q, want other", final.Role)
	}
	if !final.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", final.Timestamp, fixed)
	}

	// Server hung up: both channels must close.
	for range h.Finals() {
	}
	for range h.Partials() {
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
