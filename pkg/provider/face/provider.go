// Package face defines the Detector interface for face-landmark backends.
//
// A Detector wraps a black-box face detection model (for example a tiny face
// detector combined with a 68-point landmark network and an expression
// classifier) and returns at most one face per frame. The core never loads or
// selects models; it only consumes the structured geometric output.
//
// Implementations must be safe for concurrent use.
package face

import (
	"context"
	"errors"

	"github.com/MrWong99/poise/pkg/types"
)

// ErrUnavailable is returned when the detector cannot run at all, for example
// because its model failed to load or the backing service is down. Callers
// treat it as "no detection this tick" rather than a transient failure.
var ErrUnavailable = errors.New("face detector unavailable")

// Detector is the abstraction over any face-landmark backend.
type Detector interface {
	// Detect analyses frame and returns the most prominent face. A nil
	// detection with a nil error means no face was found.
	//
	// Returns an error wrapping ErrUnavailable when the detector cannot serve
	// requests, or any other error for a single-frame failure.
	Detect(ctx context.Context, frame types.Frame) (*types.FaceDetection, error)
}
