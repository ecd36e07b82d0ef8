package feedback

import (
	"time"

	"github.com/MrWong99/poise/pkg/types"
)

type rule struct {
	kind     types.FeedbackType
	cooldown time.Duration
	check    func(v types.VideoMetrics, a types.AudioMetrics, now time.Time) (types.Severity, string, bool)
}

const (
	smileGap = 90 * time.Second

	minResponseLatency = 5.0
	maxResponseLatency = 15.0
)

func defaultRules() []rule {
	return []rule{
		{
			kind:     types.FeedbackPosture,
			cooldown: 30 * time.Second,
			check: func(v types.VideoMetrics, _ types.AudioMetrics, _ time.Time) (types.Severity, string, bool) {
				if !v.IsBadPosture {
					return "", "", false
				}
				return severityBelow(v.Posture, 50), "Try to sit up straight and keep your shoulders back", true
			},
		},
		{
			kind:     types.FeedbackEyeContact,
			cooldown: 20 * time.Second,
			check: func(v types.VideoMetrics, _ types.AudioMetrics, _ time.Time) (types.Severity, string, bool) {
				if !v.IsLookingAway {
					return "", "", false
				}
				return severityBelow(v.EyeContact, 50), "Try to maintain eye contact with the interviewer", true
			},
		},
		{
			kind:     types.FeedbackSmiling,
			cooldown: 60 * time.Second,
			check: func(v types.VideoMetrics, _ types.AudioMetrics, now time.Time) (types.Severity, string, bool) {
				if now.Sub(v.LastSmileTimestamp) <= smileGap {
					return "", "", false
				}
				return types.SeverityLow, "Remember to smile occasionally to build rapport", true
			},
		},
		{
			kind:     types.FeedbackVolume,
			cooldown: 30 * time.Second,
			check: func(_ types.VideoMetrics, a types.AudioMetrics, _ time.Time) (types.Severity, string, bool) {
				if !a.IsSpeakingTooQuietly {
					return "", "", false
				}
				return types.SeverityMedium, "Try to speak a bit louder and more clearly", true
			},
		},
		{
			kind:     types.FeedbackPace,
			cooldown: 30 * time.Second,
			check: func(_ types.VideoMetrics, a types.AudioMetrics, _ time.Time) (types.Severity, string, bool) {
				switch {
				case a.IsSpeakingTooFast:
					return types.SeverityMedium, "Try to slow down your speaking pace a bit", true
				case a.IsSpeakingTooSlow:
					return types.SeverityMedium, "Try to speak a bit more quickly and energetically", true
				}
				return "", "", false
			},
		},
		{
			kind:     types.FeedbackFillerWords,
			cooldown: 45 * time.Second,
			check: func(_ types.VideoMetrics, a types.AudioMetrics, _ time.Time) (types.Severity, string, bool) {
				n := a.FillerWords.Count
				if n <= 5 {
					return "", "", false
				}
				sev := types.SeverityMedium
				if n > 10 {
					sev = types.SeverityHigh
				}
				return sev, `Try to reduce filler words like "um" and "uh"`, true
			},
		},
		{
			kind:     types.FeedbackResponseTime,
			cooldown: 60 * time.Second,
			check: func(_ types.VideoMetrics, a types.AudioMetrics, _ time.Time) (types.Severity, string, bool) {
				if a.ResponseLatency <= minResponseLatency || a.ResponseLatency >= maxResponseLatency {
					return "", "", false
				}
				return types.SeverityLow, "Try to respond a bit more promptly to questions", true
			},
		},
		{
			kind:     types.FeedbackClarity,
			cooldown: 45 * time.Second,
			check: func(_ types.VideoMetrics, a types.AudioMetrics, _ time.Time) (types.Severity, string, bool) {
				if a.SpeechClarity >= 70 {
					return "", "", false
				}
				return severityBelow(a.SpeechClarity, 50), "Try to articulate your words more clearly", true
			},
		},
	}
}

// severityBelow is high when score is strictly below limit, medium otherwise.
func severityBelow(score, limit float64) types.Severity {
	if score < limit {
		return types.SeverityHigh
	}
	return types.SeverityMedium
}
