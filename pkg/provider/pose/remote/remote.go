// Package remote provides a pose.Estimator backed by an HTTP inference
// server. The wire protocol mirrors the face remote: POST /v1/pose with the
// raw frame as body, answered by {"pose": {"keypoints": [...], "score": 0.9}}
// or {"pose": null}.
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

	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/types"
)

const defaultTimeout = 2 * time.Second

var _ pose.Estimator = (*Estimator)(nil)

// Option is a functional option for configuring an Estimator.
type Option func(*Estimator)

// WithTimeout sets the per-request timeout. Defaults to 2 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Estimator) {
		e.httpClient.Timeout = d
	}
}

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(e *Estimator) {
		e.apiKey = key
	}
}

// WithMinScore drops keypoints whose confidence is below s before returning.
func WithMinScore(s float64) Option {
	return func(e *Estimator) {
		e.minScore = s
	}
}

// Estimator implements pose.Estimator over HTTP.
type Estimator struct {
	baseURL    string
	apiKey     string
	minScore   float64
	httpClient *http.Client
}

// New creates an Estimator talking to the server at baseURL.
func New(baseURL string, opts ...Option) (*Estimator, error) {
	if baseURL == "" {
		return nil, errors.New("pose/remote: baseURL must not be empty")
	}
	e := &Estimator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

type estimateResponse struct {
	Pose *types.Pose `json:"pose"`
}

// Estimate posts frame to the inference server and decodes the result.
func (e *Estimator) Estimate(ctx context.Context, frame types.Frame) (*types.Pose, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/pose", bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("pose/remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Frame-Width", strconv.Itoa(frame.Width))
	req.Header.Set("X-Frame-Height", strconv.Itoa(frame.Height))
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pose/remote: estimate: %w", ctx.Err())
		}
		return nil, fmt.Errorf("pose/remote: estimate: %w: %w", pose.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("pose/remote: server returned HTTP %d: %w", resp.StatusCode, pose.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pose/remote: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pose/remote: read response: %w", err)
	}
	var out estimateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("pose/remote: decode response: %w", err)
	}
	if out.Pose != nil && e.minScore > 0 {
		kept := out.Pose.Keypoints[:0]
		for _, kp := range out.Pose.Keypoints {
			if kp.Score >= e.minScore {
				kept = append(kept, kp)
			}
		}
		out.Pose.Keypoints = kept
	}
	return out.Pose, nil
}
