// Package report builds the end-of-session performance report from the final
// metrics snapshots, the session averages, the feedback history and the
// transcript. Scores come from the final snapshots; the averages are carried
// into the report as they are.
//
// Generate is a pure function: the same Input always yields the same Report.
package report

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/poise/pkg/types"
)

// Category names as they appear in the report.
const (
	NameVerbal    = "Verbal Communication"
	NameNonverbal = "Nonverbal Communication"
	NameResponse  = "Response Quality"
)

// Score band colours.
const (
	ColorGood    = "#22c55e"
	ColorFair    = "#eab308"
	ColorWeak    = "#ef4444"
	strengthMin  = 80
	improveBelow = 70
)

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

// Input is everything the report is computed from.
type Input struct {
	Video      types.VideoMetrics
	Audio      types.AudioMetrics
	Feedback   []types.FeedbackItem
	Transcript string
	Duration   time.Duration
	Averages   types.SessionAverages
}

// Report is the scored end-of-session summary.
type Report struct {
	OverallScore   int                        `json:"overall_score"`
	Color          string                     `json:"color"`
	Summary        string                     `json:"summary"`
	Duration       time.Duration              `json:"duration"`
	DurationText   string                     `json:"duration_text"`
	Metrics        []types.PerformanceMetric  `json:"metrics"`
	Strengths      []string                   `json:"strengths"`
	Improvements   []string                   `json:"improvements"`
	FeedbackCounts map[types.FeedbackType]int `json:"feedback_counts"`
	FeedbackTotal  int                        `json:"feedback_total"`
	Averages       types.SessionAverages      `json:"averages"`
}

// Generate scores the session.
func Generate(in Input) Report {
	metrics := []types.PerformanceMetric{
		verbal(in.Audio),
		nonverbal(in.Video),
		responseQuality(in.Audio, in.Transcript),
	}

	var sum float64
	for _, m := range metrics {
		sum += m.Score
	}
	overall := int(math.Round(sum / float64(len(metrics))))

	strengths := []string{}
	improvements := []string{}
	for _, m := range metrics {
		if m.Score >= strengthMin {
			first, _, _ := strings.Cut(m.Details, ".")
			strengths = append(strengths, fmt.Sprintf("Strong %s: %s.", strings.ToLower(m.Name), first))
		}
		if m.Score < improveBelow {
			improvements = append(improvements, m.ImprovementTips...)
		}
	}
	if in.Audio.FillerWords.Count < 5 {
		strengths = append(strengths, "Minimal use of filler words.")
	}
	if in.Video.InFramePercentage > 95 {
		strengths = append(strengths, "Excellent camera presence throughout the interview.")
	}
	if in.Audio.VolumeLevel > 60 && !in.Audio.IsSpeakingTooQuietly {
		strengths = append(strengths, "Good voice projection and volume.")
	}

	counts := make(map[types.FeedbackType]int, len(types.FeedbackTypes))
	for _, t := range types.FeedbackTypes {
		counts[t] = 0
	}
	for _, it := range in.Feedback {
		counts[it.Type]++
	}

	return Report{
		OverallScore:   overall,
		Color:          Color(float64(overall)),
		Summary:        summary(overall),
		Duration:       in.Duration,
		DurationText:   FormatDuration(in.Duration),
		Metrics:        metrics,
		Strengths:      strengths,
		Improvements:   improvements,
		FeedbackCounts: counts,
		FeedbackTotal:  len(in.Feedback),
		Averages:       in.Averages,
	}
}

// Color maps a score to its band colour.
func Color(score float64) string {
	switch {
	case score > 80:
		return ColorGood
	case score > 60:
		return ColorFair
	}
	return ColorWeak
}

// FormatDuration renders d as minutes:seconds, e.g. "12:05".
func FormatDuration(d time.Duration) string {
	secs := int(max(0, d.Seconds()))
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func summary(overall int) string {
	switch {
	case overall > 80:
		return "Excellent performance! You demonstrated strong communication skills and interview presence."
	case overall > 60:
		return "Good performance with some areas for improvement."
	}
	return "This interview highlighted several areas where you can improve your performance."
}

func verbal(a types.AudioMetrics) types.PerformanceMetric {
	fillers := a.FillerWords.Count
	score := clamp(a.SpeechClarity - math.Min(30, float64(fillers)*2))

	var fillerText string
	switch {
	case fillers > 10:
		fillerText = fmt.Sprintf("You used %d filler words, which reduced your score.", fillers)
	case fillers > 0:
		fillerText = fmt.Sprintf("You used some filler words (%d), which slightly affected your score.", fillers)
	default:
		fillerText = "You used very few filler words, which is excellent."
	}

	return types.PerformanceMetric{
		Name:     NameVerbal,
		Score:    score,
		Category: types.CategoryCommunication,
		Details: fmt.Sprintf("Your speech clarity was %s. %s",
			band(a.SpeechClarity, "excellent", "good", "needs improvement"), fillerText),
		ImprovementTips: tips(
			tip(fillers > 5, `Practice speaking without filler words like "um" and "uh"`),
			tip(a.SpeechClarity < 70, "Work on articulating your words more clearly"),
			tip(a.IsSpeakingTooFast, "Slow down your speaking pace slightly"),
			tip(a.IsSpeakingTooSlow, "Try to speak with slightly more energy and pace"),
		),
		Color: Color(score),
	}
}

func nonverbal(v types.VideoMetrics) types.PerformanceMetric {
	score := clamp((v.EyeContact+v.Posture)/2 - math.Min(25, v.IsFidgeting/2))

	var fidget string
	switch {
	case v.IsFidgeting > 50:
		fidget = "You showed significant fidgeting during the interview."
	case v.IsFidgeting > 25:
		fidget = "You showed some fidgeting during the interview."
	default:
		fidget = "You maintained good stillness during the interview."
	}

	return types.PerformanceMetric{
		Name:     NameNonverbal,
		Score:    score,
		Category: types.CategoryPresence,
		Details: fmt.Sprintf("Your eye contact was %s. Your posture was %s. %s",
			band(v.EyeContact, "strong", "good", "inconsistent"),
			band(v.Posture, "excellent", "good", "needs improvement"),
			fidget),
		ImprovementTips: tips(
			tip(v.EyeContact < 70, "Practice maintaining more consistent eye contact"),
			tip(v.Posture < 70, "Work on maintaining a more upright posture"),
			tip(v.IsFidgeting > 40, "Try to reduce fidgeting and movement during interviews"),
		),
		Color: Color(score),
	}
}

func responseQuality(a types.AudioMetrics, transcript string) types.PerformanceMetric {
	balanced := !a.IsSpeakingTooFast && !a.IsSpeakingTooSlow
	rateScore := 70.0
	if balanced {
		rateScore = 100
	}

	words := len(strings.Fields(transcript))
	sentences := len(sentenceEnd.FindAllString(transcript, -1))
	var avg float64
	if sentences > 0 {
		avg = float64(words) / float64(sentences)
	}
	var structureScore float64
	var structureText string
	switch {
	case avg >= 10 && avg <= 25:
		structureScore, structureText = 100, "good"
	case avg < 10:
		structureScore, structureText = 60, "a bit brief"
	default:
		structureScore, structureText = 70, "a bit lengthy"
	}

	latency := a.ResponseLatency
	var latencyScore float64
	var latencyText string
	switch {
	case latency >= 1 && latency <= 3:
		latencyScore, latencyText = 100, "excellent"
	case latency < 1:
		latencyScore, latencyText = 80, "very quick"
	case latency <= 5:
		latencyScore, latencyText = 85, "good"
	default:
		latencyScore, latencyText = 70, "a bit slow"
	}

	score := math.Round((rateScore + structureScore + latencyScore) / 3)

	pace := "well-balanced"
	switch {
	case a.IsSpeakingTooFast:
		pace = "a bit fast"
	case a.IsSpeakingTooSlow:
		pace = "a bit slow"
	}

	return types.PerformanceMetric{
		Name:     NameResponse,
		Score:    score,
		Category: types.CategoryContent,
		Details: fmt.Sprintf("Your speaking pace was %s. Your responses had an average of %d words per sentence, which is %s. Your response time was %s.",
			pace, int(math.Round(avg)), structureText, latencyText),
		ImprovementTips: tips(
			tip(a.IsSpeakingTooFast, "Slow down your speaking pace to improve clarity"),
			tip(a.IsSpeakingTooSlow, "Try to speak with slightly more energy and pace"),
			tip(avg < 10, "Try to elaborate more in your responses"),
			tip(avg > 25, "Try to be more concise and break up long sentences"),
			tip(latency > 5, "Work on reducing your response time to questions"),
			tip(latency < 1, "Consider taking a moment to formulate your thoughts before responding"),
		),
		Color: Color(score),
	}
}

// band picks the wording for a score: above 80, above 60, otherwise.
func band(score float64, high, mid, low string) string {
	switch {
	case score > 80:
		return high
	case score > 60:
		return mid
	}
	return low
}

func tip(cond bool, text string) string {
	if cond {
		return text
	}
	return ""
}

// tips drops the empty entries.
func tips(all ...string) []string {
	out := []string{}
	for _, t := range all {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
