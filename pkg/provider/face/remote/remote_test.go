package remote_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/face/remote"
	"github.com/MrWong99/poise/pkg/types"
)

func TestNew_EmptyBaseURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := remote.New(""); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}

func TestDetect_DecodesFace(t *testing.T) {
	t.Parallel()
	var gotWidth, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/face" {
			http.NotFound(w, r)
			return
		}
		gotWidth = r.Header.Get("X-Frame-Width")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"face":{"box":{"x":10,"y":20,"width":100,"height":120},"expressions":{"happy":0.7},"score":0.95}}`)
	}))
	defer srv.Close()

	d, err := remote.New(srv.URL+"/", remote.WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	det, err := d.Detect(context.Background(), types.Frame{Width: 640, Height: 480, Data: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det == nil {
		t.Fatal("expected a detection")
	}
	if det.Box.Width != 100 || det.Expressions.Happy != 0.7 {
		t.Errorf("unexpected detection: %+v", det)
	}
	if gotWidth != "640" {
		t.Errorf("X-Frame-Width = %q, want 640", gotWidth)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(gotBody) != 3 {
		t.Errorf("body length = %d, want 3", len(gotBody))
	}
}

func TestDetect_NullFace(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"face":null}`)
	}))
	defer srv.Close()

	d, _ := remote.New(srv.URL)
	det, err := d.Detect(context.Background(), types.Frame{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det != nil {
		t.Errorf("expected nil detection, got %+v", det)
	}
}

func TestDetect_StatusCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		status          int
		wantUnavailable bool
	}{
		{name: "server error", status: http.StatusServiceUnavailable, wantUnavailable: true},
		{name: "bad request", status: http.StatusBadRequest, wantUnavailable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			d, _ := remote.New(srv.URL)
			_, err := d.Detect(context.Background(), types.Frame{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, face.ErrUnavailable); got != tt.wantUnavailable {
				t.Errorf("errors.Is(err, ErrUnavailable) = %v, want %v (err: %v)", got, tt.wantUnavailable, err)
			}
		})
	}
}

func TestDetect_ConnectionRefused_IsUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d, _ := remote.New(url)
	_, err := d.Detect(context.Background(), types.Frame{})
	if !errors.Is(err, face.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
