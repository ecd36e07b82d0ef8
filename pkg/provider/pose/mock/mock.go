// Package mock provides a test double for pose.Estimator.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/types"
)

// Result is one scripted Estimate outcome.
type Result struct {
	Pose *types.Pose
	Err  error
}

// Estimator is a mock implementation of pose.Estimator. Results are returned
// in order and the last one repeats once the script is exhausted.
type Estimator struct {
	mu sync.Mutex

	Results []Result

	// EstimateCalls records the frames passed to Estimate.
	EstimateCalls []types.Frame

	next int
}

// Estimate records the frame and returns the next scripted result.
func (e *Estimator) Estimate(_ context.Context, frame types.Frame) (*types.Pose, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EstimateCalls = append(e.EstimateCalls, frame)
	if len(e.Results) == 0 {
		return nil, nil
	}
	r := e.Results[min(e.next, len(e.Results)-1)]
	e.next++
	return r.Pose, r.Err
}

// CallCount returns the number of Estimate calls. Thread-safe.
func (e *Estimator) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.EstimateCalls)
}

var _ pose.Estimator = (*Estimator)(nil)
