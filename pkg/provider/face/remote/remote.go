// Package remote provides a face.Detector backed by an HTTP inference server.
//
// The server exposes POST /v1/face with the raw frame bytes as the request
// body and the frame dimensions in the X-Frame-Width and X-Frame-Height
// headers. It answers with a JSON document of the form
//
//	{"face": {"box": {...}, "landmarks": {...}, "expressions": {...}, "score": 0.98}}
//
// where "face" is null when no face was found.
//
// Usage:
//
//	d, err := remote.New("http://localhost:8500", remote.WithTimeout(2*time.Second))
//	det, err := d.Detect(ctx, frame)
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/types"
)

const defaultTimeout = 2 * time.Second

var _ face.Detector = (*Detector)(nil)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithTimeout sets the per-request timeout. Defaults to 2 s.
func WithTimeout(d time.Duration) Option {
	return func(det *Detector) {
		det.httpClient.Timeout = d
	}
}

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(det *Detector) {
		det.apiKey = key
	}
}

// WithModel selects a named model on servers that host several.
func WithModel(model string) Option {
	return func(det *Detector) {
		det.model = model
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(det *Detector) {
		det.httpClient = c
	}
}

// Detector implements face.Detector over HTTP.
type Detector struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a Detector talking to the server at baseURL.
func New(baseURL string, opts ...Option) (*Detector, error) {
	if baseURL == "" {
		return nil, errors.New("face/remote: baseURL must not be empty")
	}
	d := &Detector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

type detectResponse struct {
	Face *types.FaceDetection `json:"face"`
}

// Detect posts frame to the inference server and decodes the result.
// Connection failures and 5xx responses wrap face.ErrUnavailable.
func (d *Detector) Detect(ctx context.Context, frame types.Frame) (*types.FaceDetection, error) {
	endpoint := d.baseURL + "/v1/face"
	if d.model != "" {
		endpoint += "?model=" + d.model
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("face/remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Frame-Width", strconv.Itoa(frame.Width))
	req.Header.Set("X-Frame-Height", strconv.Itoa(frame.Height))
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("face/remote: detect: %w", ctx.Err())
		}
		return nil, fmt.Errorf("face/remote: detect: %w: %w", face.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("face/remote: server returned HTTP %d: %w", resp.StatusCode, face.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("face/remote: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("face/remote: read response: %w", err)
	}
	var out detectResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("face/remote: decode response: %w", err)
	}
	return out.Face, nil
}
