package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/types"
)

// FaceDetector implements [face.Detector] over a [FallbackGroup] of face
// backends. When no backend can serve the frame because every breaker is open
// or the last backend reported [face.ErrUnavailable], the returned error wraps
// [face.ErrUnavailable]. Any other failure is returned as a per-frame error.
type FaceDetector struct {
	group *FallbackGroup[face.Detector]
}

var _ face.Detector = (*FaceDetector)(nil)

// NewFaceDetector creates a [FaceDetector] with primary as the preferred backend.
func NewFaceDetector(primary face.Detector, primaryName string, cfg FallbackConfig) *FaceDetector {
	return &FaceDetector{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional face backend.
func (d *FaceDetector) AddFallback(name string, det face.Detector) {
	d.group.AddFallback(name, det)
}

// Detect runs the frame through the first healthy backend.
func (d *FaceDetector) Detect(ctx context.Context, frame types.Frame) (*types.FaceDetection, error) {
	det, err := ExecuteWithResult(d.group, func(fd face.Detector) (*types.FaceDetection, error) {
		return fd.Detect(ctx, frame)
	})
	if err != nil {
		if unavailable(err, face.ErrUnavailable) {
			return nil, fmt.Errorf("resilience: detect face: %w: %w", face.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("resilience: detect face: %w", err)
	}
	return det, nil
}

// Status reports the breaker state of every face backend.
func (d *FaceDetector) Status() []EntryStatus { return d.group.Status() }

// Healthy reports whether any face backend accepts calls.
func (d *FaceDetector) Healthy() bool { return d.group.Healthy() }

// PoseEstimator implements [pose.Estimator] with the same semantics as
// [FaceDetector].
type PoseEstimator struct {
	group *FallbackGroup[pose.Estimator]
}

var _ pose.Estimator = (*PoseEstimator)(nil)

// NewPoseEstimator creates a [PoseEstimator] with primary as the preferred backend.
func NewPoseEstimator(primary pose.Estimator, primaryName string, cfg FallbackConfig) *PoseEstimator {
	return &PoseEstimator{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional pose backend.
func (e *PoseEstimator) AddFallback(name string, est pose.Estimator) {
	e.group.AddFallback(name, est)
}

// Estimate runs the frame through the first healthy backend.
func (e *PoseEstimator) Estimate(ctx context.Context, frame types.Frame) (*types.Pose, error) {
	p, err := ExecuteWithResult(e.group, func(pe pose.Estimator) (*types.Pose, error) {
		return pe.Estimate(ctx, frame)
	})
	if err != nil {
		if unavailable(err, pose.ErrUnavailable) {
			return nil, fmt.Errorf("resilience: estimate pose: %w: %w", pose.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("resilience: estimate pose: %w", err)
	}
	return p, nil
}

// Status reports the breaker state of every pose backend.
func (e *PoseEstimator) Status() []EntryStatus { return e.group.Status() }

// Healthy reports whether any pose backend accepts calls.
func (e *PoseEstimator) Healthy() bool { return e.group.Healthy() }

func unavailable(err, sentinel error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, sentinel)
}
