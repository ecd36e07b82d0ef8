// Package mock provides a test double for face.Detector.
//
// Detector returns scripted detections in order. When the script runs out the
// last entry is repeated, so a single-entry script yields a constant result.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/types"
)

// Result is one scripted Detect outcome.
type Result struct {
	Detection *types.FaceDetection
	Err       error
}

// Detector is a mock implementation of face.Detector.
type Detector struct {
	mu sync.Mutex

	// Results is the script of outcomes returned by successive Detect calls.
	Results []Result

	// DetectCalls records the frames passed to Detect in order.
	DetectCalls []types.Frame

	next int
}

// Detect records the frame and returns the next scripted result.
func (d *Detector) Detect(_ context.Context, frame types.Frame) (*types.FaceDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = append(d.DetectCalls, frame)
	if len(d.Results) == 0 {
		return nil, nil
	}
	r := d.Results[min(d.next, len(d.Results)-1)]
	d.next++
	return r.Detection, r.Err
}

// CallCount returns the number of Detect calls. Thread-safe.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DetectCalls)
}

var _ face.Detector = (*Detector)(nil)
