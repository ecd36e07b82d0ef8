package video

import (
	"time"

	"github.com/MrWong99/poise/pkg/types"
)

// Aggregator merges face and pose analysis into the current VideoMetrics and
// keeps the session-wide in-frame counters.
//
// Face and pose results are applied independently. Fields owned by an
// analyzer that skipped the tick keep their previous value.
type Aggregator struct {
	face    *FaceAnalyzer
	posture *PostureAnalyzer

	current        types.VideoMetrics
	totalFrames    int
	framesWithFace int

	// Running sums over every OnFrame tick, for the session averages.
	eyeContactSum float64
	postureSum    float64
}

// NewAggregator creates an Aggregator seeded with the default metrics for a
// session starting at start.
func NewAggregator(face *FaceAnalyzer, posture *PostureAnalyzer, start time.Time) *Aggregator {
	if face == nil {
		face = NewFaceAnalyzer(nil)
	}
	if posture == nil {
		posture = NewPostureAnalyzer(nil)
	}
	return &Aggregator{
		face:    face,
		posture: posture,
		current: types.DefaultVideoMetrics(start),
	}
}

// OnFrame applies the face detector result for one sampled frame. A nil det
// means no face was found (or the detector is unavailable): the frame still
// counts towards the in-frame denominator and the candidate is marked as
// looking away. The updated snapshot is folded into the session averages and
// returned.
func (a *Aggregator) OnFrame(det *types.FaceDetection, at time.Time) types.VideoMetrics {
	a.totalFrames++

	if det == nil {
		a.current.IsLookingAway = true
	} else {
		a.framesWithFace++
		res := a.face.Analyze(*det)
		a.current.FacialExpressions = res.Expressions
		if res.EyeOK {
			a.current.EyeContact = res.EyeContact
			a.current.IsLookingAway = res.LookingAway
		}
		if res.RotationOK {
			a.current.HeadPosition = types.HeadPosition{Rotation: res.Rotation}
		}
		if res.Smiling && at.After(a.current.LastSmileTimestamp) {
			a.current.LastSmileTimestamp = at
		}
		a.current.IsFidgeting = a.posture.Track(det.Box.Origin())
	}

	a.current.InFramePercentage = float64(a.framesWithFace) / float64(a.totalFrames) * 100
	a.eyeContactSum += a.current.EyeContact
	a.postureSum += a.current.Posture
	return a.current
}

// OnPose applies the pose estimator result for one sampled frame. Poses
// missing the required keypoints leave posture untouched.
func (a *Aggregator) OnPose(pose *types.Pose) types.VideoMetrics {
	if pose == nil {
		return a.current
	}
	if score, bad, ok := a.posture.Score(pose); ok {
		a.current.Posture = score
		a.current.IsBadPosture = bad
	}
	return a.current
}

// Current returns the latest snapshot.
func (a *Aggregator) Current() types.VideoMetrics { return a.current }

// Averages returns the mean eye contact and posture scores over every
// OnFrame tick. Both are zero before the first frame.
func (a *Aggregator) Averages() (eyeContact, posture float64) {
	if a.totalFrames == 0 {
		return 0, 0
	}
	n := float64(a.totalFrames)
	return a.eyeContactSum / n, a.postureSum / n
}

// Coverage returns the session-wide frame counters.
func (a *Aggregator) Coverage() (framesWithFace, totalFrames int) {
	return a.framesWithFace, a.totalFrames
}
