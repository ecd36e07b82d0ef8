// Package types defines the shared types used across all poise packages.
//
// These types form the lingua franca between detectors, analyzers, the
// feedback engine and the report generator. Each package keeps its own
// domain types, but cross-cutting data structures live here to avoid
// circular imports.
package types

import (
	"math"
	"time"
)

// Point is a 2-D position in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Origin returns the top-left corner of the box.
func (b Box) Origin() Point { return Point{X: b.X, Y: b.Y} }

// Frame is a single decoded video frame handed to the detectors.
type Frame struct {
	// Seq is a monotonically increasing frame number within a session.
	Seq uint64

	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int

	// Data holds the encoded or raw image bytes. Its layout is agreed between
	// the frame source and the detectors; the core never inspects it.
	Data []byte

	// CapturedAt is when the frame was grabbed from the source.
	CapturedAt time.Time
}

// Expressions maps the five recognised facial expressions to probabilities in
// [0, 1]. The values usually sum to roughly 1 but this is not enforced.
type Expressions struct {
	Neutral   float64 `json:"neutral"`
	Happy     float64 `json:"happy"`
	Sad       float64 `json:"sad"`
	Angry     float64 `json:"angry"`
	Surprised float64 `json:"surprised"`
}

// FaceLandmarks holds the subset of the 68-point landmark model the analyzers
// consume. Eye contours are six points each, ordered clockwise from the outer
// corner. The jaw outline runs from the left ear to the right ear.
type FaceLandmarks struct {
	LeftEye  []Point `json:"left_eye"`
	RightEye []Point `json:"right_eye"`
	Jaw      []Point `json:"jaw"`
	Nose     []Point `json:"nose"`
}

// FaceDetection is the output of a face detector for one frame.
type FaceDetection struct {
	Box         Box           `json:"box"`
	Landmarks   FaceLandmarks `json:"landmarks"`
	Expressions Expressions   `json:"expressions"`
	Score       float64       `json:"score"`
}

// Well-known pose keypoint names.
const (
	KeypointNose          = "nose"
	KeypointLeftShoulder  = "leftShoulder"
	KeypointRightShoulder = "rightShoulder"
)

// Keypoint is a single named joint position returned by a pose estimator.
type Keypoint struct {
	Part     string  `json:"part"`
	Position Point   `json:"position"`
	Score    float64 `json:"score"`
}

// Pose is the output of a pose estimator for one frame.
type Pose struct {
	Keypoints []Keypoint `json:"keypoints"`
	Score     float64    `json:"score"`
}

// Find returns the keypoint with the given part name.
func (p *Pose) Find(part string) (Keypoint, bool) {
	if p == nil {
		return Keypoint{}, false
	}
	for _, kp := range p.Keypoints {
		if kp.Part == part {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// Role attributes a transcript or speaking signal to one side of the
// conversation.
type Role string

const (
	// RoleSelf is the candidate being coached.
	RoleSelf Role = "self"

	// RoleOther is the interviewer (human or voice agent).
	RoleOther Role = "other"
)

// TranscriptEvent is a single interim or final speech-to-text result.
type TranscriptEvent struct {
	// Text is the transcribed speech content.
	Text string `json:"text"`

	// IsFinal marks an authoritative result. Interim results are superseded by
	// later events and never counted.
	IsFinal bool `json:"is_final"`

	// Role identifies who spoke.
	Role Role `json:"role"`

	// Confidence is the provider confidence in [0, 1], zero if unreported.
	Confidence float64 `json:"confidence,omitempty"`

	// Timestamp is when the event was received.
	Timestamp time.Time `json:"timestamp"`
}

// HeadPosition is the estimated head orientation relative to camera-forward.
type HeadPosition struct {
	Rotation float64 `json:"rotation"`
	Tilt     float64 `json:"tilt"`
}

// VideoMetrics is the per-frame snapshot produced by the video pipeline.
type VideoMetrics struct {
	EyeContact         float64      `json:"eye_contact"`
	Posture            float64      `json:"posture"`
	FacialExpressions  Expressions  `json:"facial_expressions"`
	HeadPosition       HeadPosition `json:"head_position"`
	LastSmileTimestamp time.Time    `json:"last_smile_timestamp"`
	IsLookingAway      bool         `json:"is_looking_away"`
	IsBadPosture       bool         `json:"is_bad_posture"`
	IsFidgeting        float64      `json:"is_fidgeting"`
	InFramePercentage  float64      `json:"in_frame_percentage"`
}

// DefaultVideoMetrics returns the snapshot a session starts with before any
// frame has been analysed.
func DefaultVideoMetrics(start time.Time) VideoMetrics {
	return VideoMetrics{
		EyeContact:         100,
		Posture:            100,
		FacialExpressions:  Expressions{Neutral: 0.8, Happy: 0.2},
		LastSmileTimestamp: start,
		InFramePercentage:  100,
	}
}

// FillerInstance records a single filler word occurrence.
type FillerInstance struct {
	Word      string    `json:"word"`
	Timestamp time.Time `json:"timestamp"`
}

// FillerWords is the cumulative filler word log. In a session snapshot Count
// equals len(Instances); stream messages may carry only the newest
// instances.
type FillerWords struct {
	Count     int              `json:"count"`
	Instances []FillerInstance `json:"instances"`
}

// AudioMetrics is the per-tick snapshot produced by the audio pipeline.
// Durations and latencies are expressed in seconds.
type AudioMetrics struct {
	SpeechClarity          float64     `json:"speech_clarity"`
	SpeakingRate           float64     `json:"speaking_rate"`
	VolumeLevel            float64     `json:"volume_level"`
	TonalVariation         float64     `json:"tonal_variation"`
	FillerWords            FillerWords `json:"filler_words"`
	LongestPauseDuration   float64     `json:"longest_pause_duration"`
	AveragePauseDuration   float64     `json:"average_pause_duration"`
	ResponseLatency        float64     `json:"response_latency"`
	SpeakingPercentage     float64     `json:"speaking_percentage"`
	IsSpeakingTooFast      bool        `json:"is_speaking_too_fast"`
	IsSpeakingTooSlow      bool        `json:"is_speaking_too_slow"`
	IsSpeakingTooQuietly   bool        `json:"is_speaking_too_quietly"`
	IsSpeakingMonotonously bool        `json:"is_speaking_monotonously"`
}

// DefaultAudioMetrics returns the snapshot a session starts with before any
// audio has been analysed.
func DefaultAudioMetrics() AudioMetrics {
	return AudioMetrics{
		SpeechClarity:      90,
		SpeakingRate:       150,
		VolumeLevel:        70,
		TonalVariation:     75,
		FillerWords:        FillerWords{Instances: []FillerInstance{}},
		SpeakingPercentage: 60,
	}
}

// FeedbackType is one of the eight coaching categories.
type FeedbackType string

const (
	FeedbackPosture      FeedbackType = "posture"
	FeedbackEyeContact   FeedbackType = "eyeContact"
	FeedbackSmiling      FeedbackType = "smiling"
	FeedbackVolume       FeedbackType = "volume"
	FeedbackPace         FeedbackType = "pace"
	FeedbackFillerWords  FeedbackType = "fillerWords"
	FeedbackClarity      FeedbackType = "clarity"
	FeedbackResponseTime FeedbackType = "responseTime"
)

// FeedbackTypes lists every category in rule evaluation order.
var FeedbackTypes = []FeedbackType{
	FeedbackPosture,
	FeedbackEyeContact,
	FeedbackSmiling,
	FeedbackVolume,
	FeedbackPace,
	FeedbackFillerWords,
	FeedbackResponseTime,
	FeedbackClarity,
}

// Severity ranks how urgently a tip should be shown.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities: high > medium > low.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// FeedbackItem is a single coaching tip fired by the feedback engine. Once
// created it is only ever mutated to set Dismissed.
type FeedbackItem struct {
	ID        string       `json:"id"`
	Type      FeedbackType `json:"type"`
	Message   string       `json:"message"`
	Severity  Severity     `json:"severity"`
	Timestamp time.Time    `json:"timestamp"`
	Dismissed bool         `json:"dismissed,omitempty"`
}

// MetricCategory groups report metrics.
type MetricCategory string

const (
	CategoryCommunication MetricCategory = "communication"
	CategoryPresence      MetricCategory = "presence"
	CategoryContent       MetricCategory = "content"
	CategoryOverall       MetricCategory = "overall"
)

// PerformanceMetric is one scored category in the end-of-session report.
type PerformanceMetric struct {
	Name            string         `json:"name"`
	Score           float64        `json:"score"`
	Category        MetricCategory `json:"category"`
	Details         string         `json:"details"`
	ImprovementTips []string       `json:"improvement_tips"`
	Color           string         `json:"color"`
}

// SessionAverages are the per-tick means of the metric snapshots over a
// whole session. Video means cover face ticks, audio means cover level ticks.
type SessionAverages struct {
	EyeContact   float64 `json:"eye_contact"`
	Posture      float64 `json:"posture"`
	InFrame      float64 `json:"in_frame"`
	VideoTicks   int     `json:"video_ticks"`
	Volume       float64 `json:"volume"`
	SpeakingRate float64 `json:"speaking_rate"`
	AudioTicks   int     `json:"audio_ticks"`
}
