// Package video turns per-frame face and pose detections into the rolling
// VideoMetrics snapshot.
//
// The package is split along ownership lines: FaceAnalyzer owns the window of
// raw face detections, PostureAnalyzer owns the window of head positions used
// for fidget scoring, and Aggregator owns the session-wide frame counters and
// the metrics history. None of them is safe for concurrent use; the session
// serialises all calls.
package video

import (
	"math"

	"github.com/MrWong99/poise/pkg/ring"
	"github.com/MrWong99/poise/pkg/types"
)

// WindowSize is the capacity of the rolling detection windows, roughly one
// second of video at 30 fps.
const WindowSize = 30

const (
	// eyeContactRatio is the eye aperture ratio below which eye contact is
	// scored as partial.
	eyeContactRatio = 0.28

	// lookingAwayRatio is the eye aperture ratio below which the candidate is
	// considered to be looking away.
	lookingAwayRatio = 0.25

	// frontalAspect is the jaw-width to nose-chin-height ratio of a face that
	// looks straight into the camera.
	frontalAspect = 1.3

	// degreesPerAspect converts the aspect deviation to degrees of rotation.
	degreesPerAspect = 45

	// smileThreshold is the happy probability that counts as a smile.
	smileThreshold = 0.5
)

// FaceResult is the outcome of analysing a single face detection. The *OK
// flags report whether the landmark geometry allowed the metric to be
// computed; a false flag means the metric must be left unchanged.
type FaceResult struct {
	EyeContact  float64
	LookingAway bool
	EyeOK       bool

	Rotation   float64
	RotationOK bool

	Smiling     bool
	Expressions types.Expressions
}

// FaceAnalyzer derives eye contact, head rotation and smile state from facial
// landmarks.
type FaceAnalyzer struct {
	history *ring.Buffer[types.FaceDetection]
}

// NewFaceAnalyzer returns a FaceAnalyzer that records detections in history.
// A nil history allocates a window of WindowSize.
func NewFaceAnalyzer(history *ring.Buffer[types.FaceDetection]) *FaceAnalyzer {
	if history == nil {
		history = ring.New[types.FaceDetection](WindowSize)
	}
	return &FaceAnalyzer{history: history}
}

// Analyze records det and derives the face metrics from it.
func (a *FaceAnalyzer) Analyze(det types.FaceDetection) FaceResult {
	a.history.Push(det)

	res := FaceResult{
		Expressions: det.Expressions,
		Smiling:     det.Expressions.Happy > smileThreshold,
	}
	if ratio, ok := eyeApertureRatio(det.Landmarks.LeftEye); ok {
		res.EyeOK = true
		res.LookingAway = ratio < lookingAwayRatio
		res.EyeContact = 100
		if ratio < eyeContactRatio {
			res.EyeContact = 50
		}
	}
	if rot, ok := headRotation(det.Landmarks); ok {
		res.Rotation = rot
		res.RotationOK = true
	}
	return res
}

// Recent returns the buffered detections, oldest first.
func (a *FaceAnalyzer) Recent() []types.FaceDetection {
	return a.history.Slice()
}

// eyeApertureRatio is the vertical eyelid distance over the horizontal eye
// width on a six-point eye contour.
func eyeApertureRatio(eye []types.Point) (float64, bool) {
	if len(eye) < 5 {
		return 0, false
	}
	width := math.Abs(eye[3].X - eye[0].X)
	if width == 0 {
		return 0, false
	}
	return math.Abs(eye[4].Y-eye[1].Y) / width, true
}

func headRotation(lm types.FaceLandmarks) (float64, bool) {
	if len(lm.Jaw) < 2 || len(lm.Nose) == 0 {
		return 0, false
	}
	faceWidth := math.Abs(lm.Jaw[len(lm.Jaw)-1].X - lm.Jaw[0].X)
	faceHeight := math.Abs(lm.Nose[0].Y - lm.Jaw[len(lm.Jaw)/2].Y)
	if faceWidth == 0 || faceHeight == 0 {
		return 0, false
	}
	return (faceWidth/faceHeight - frontalAspect) * degreesPerAspect, true
}
