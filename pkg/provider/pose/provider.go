// Package pose defines the Estimator interface for body pose backends.
//
// An Estimator wraps a black-box single-person pose network and returns named
// keypoints (at least nose, leftShoulder and rightShoulder) with 2-D positions
// and confidences.
//
// Implementations must be safe for concurrent use.
package pose

import (
	"context"
	"errors"

	"github.com/MrWong99/poise/pkg/types"
)

// ErrUnavailable is returned when the estimator cannot run at all.
var ErrUnavailable = errors.New("pose estimator unavailable")

// Estimator is the abstraction over any pose estimation backend.
type Estimator interface {
	// Estimate returns the pose found in frame. A nil pose with a nil error
	// means no person was found.
	Estimate(ctx context.Context, frame types.Frame) (*types.Pose, error)
}
