package video

import (
	"math"

	"github.com/MrWong99/poise/pkg/ring"
	"github.com/MrWong99/poise/pkg/types"
)

const (
	// shoulderTolerance is the vertical shoulder offset in pixels tolerated
	// before posture is penalised.
	shoulderTolerance = 20

	// headClearance is the minimum distance in pixels the nose should sit
	// above the shoulder midline.
	headClearance = 50

	// badPostureScore is the score below which posture is flagged.
	badPostureScore = 70

	// minFidgetSamples is the number of positions needed before a fidget
	// score is produced.
	minFidgetSamples = 10

	fidgetGain = 5
)

// PostureAnalyzer scores upper-body posture from pose keypoints and tracks
// head movement for fidget detection.
type PostureAnalyzer struct {
	positions *ring.Buffer[types.Point]
}

// NewPostureAnalyzer returns a PostureAnalyzer that records positions in
// window. A nil window allocates one of WindowSize.
func NewPostureAnalyzer(window *ring.Buffer[types.Point]) *PostureAnalyzer {
	if window == nil {
		window = ring.New[types.Point](WindowSize)
	}
	return &PostureAnalyzer{positions: window}
}

// Score computes the posture score for pose. ok is false when the pose lacks
// the nose or either shoulder, in which case posture must not be updated.
func (p *PostureAnalyzer) Score(pose *types.Pose) (score float64, bad bool, ok bool) {
	nose, okN := pose.Find(types.KeypointNose)
	left, okL := pose.Find(types.KeypointLeftShoulder)
	right, okR := pose.Find(types.KeypointRightShoulder)
	if !okN || !okL || !okR {
		return 0, false, false
	}

	score = 100
	if diff := math.Abs(left.Position.Y - right.Position.Y); diff > shoulderTolerance {
		score -= diff / 2
	}
	midY := (left.Position.Y + right.Position.Y) / 2
	if above := midY - nose.Position.Y; above < headClearance {
		score -= headClearance - above
	}
	score = clamp(score, 0, 100)
	return score, score < badPostureScore, true
}

// Track records the head position and returns the current fidget score in
// [0, 100]. The score stays 0 until enough positions have been seen.
func (p *PostureAnalyzer) Track(pos types.Point) float64 {
	p.positions.Push(pos)
	n := p.positions.Len()
	if n < minFidgetSamples {
		return 0
	}

	displacements := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		displacements = append(displacements, p.positions.At(i-1).Distance(p.positions.At(i)))
	}
	return math.Min(100, stddev(displacements)*fidgetGain)
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
