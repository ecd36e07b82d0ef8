package speech

import (
	"time"

	"github.com/MrWong99/poise/pkg/types"
)

const (
	quietVolume = 30
	fastRate    = 180
	slowRate    = 120

	// minWordsForSlow is the word count needed before a slow pace is judged.
	minWordsForSlow = 20
)

// Aggregator merges segmenter and level analyzer state into AudioMetrics.
type Aggregator struct {
	seg   *Segmenter
	level *LevelAnalyzer

	current types.AudioMetrics

	// Running sums over every OnLevel tick, for the session averages.
	ticks     int
	volumeSum float64
	rateSum   float64
}

// NewAggregator returns an Aggregator seeded with the default metrics.
func NewAggregator(seg *Segmenter, level *LevelAnalyzer) *Aggregator {
	return &Aggregator{
		seg:     seg,
		level:   level,
		current: types.DefaultAudioMetrics(),
	}
}

// OnTranscript applies a transcript event. Only the candidate's final
// segments change the metrics; ok reports whether they did.
func (a *Aggregator) OnTranscript(ev types.TranscriptEvent) (types.AudioMetrics, bool) {
	if ev.Role == types.RoleOther {
		return a.snapshot(), false
	}
	seg, ok := a.seg.OnTranscript(ev)
	if !ok {
		return a.snapshot(), false
	}
	fillers := a.seg.Fillers()
	a.current.FillerWords = types.FillerWords{Count: len(fillers), Instances: fillers}
	a.current.SpeechClarity = seg.Clarity
	return a.snapshot(), true
}

// OnLevel applies one sampling tick and recomputes every derived statistic.
func (a *Aggregator) OnLevel(rms float64, at time.Time) types.AudioMetrics {
	lvl := a.level.OnLevel(rms, at)
	m := &a.current

	m.VolumeLevel = lvl.Volume
	if lvl.HasLatency {
		m.ResponseLatency = lvl.Latency.Seconds()
	}

	longest, mean := a.level.PauseStats()
	m.LongestPauseDuration = longest.Seconds()
	m.AveragePauseDuration = mean.Seconds()

	speaking := a.level.SpeakingDuration()
	if total := speaking + a.level.SilenceDuration(); total > 0 {
		m.SpeakingPercentage = float64(speaking) / float64(total) * 100
	}
	if speaking > 0 {
		m.SpeakingRate = float64(a.seg.WordCount()) / speaking.Minutes()
	}

	m.IsSpeakingTooQuietly = m.VolumeLevel < quietVolume
	m.IsSpeakingTooFast = m.SpeakingRate > fastRate
	m.IsSpeakingTooSlow = m.SpeakingRate < slowRate && a.seg.WordCount() > minWordsForSlow
	// Tonal variation is not measured, so the monotone flag never fires.
	m.IsSpeakingMonotonously = false

	a.ticks++
	a.volumeSum += m.VolumeLevel
	a.rateSum += m.SpeakingRate
	return a.snapshot()
}

// SetOtherPartySpeaking forwards the interviewer's speaking state.
func (a *Aggregator) SetOtherPartySpeaking(speaking bool, at time.Time) {
	a.level.SetOtherPartySpeaking(speaking, at)
}

// Current returns the latest snapshot.
func (a *Aggregator) Current() types.AudioMetrics { return a.snapshot() }

// Averages returns the mean volume and speaking rate over every OnLevel
// tick. Both are zero before the first tick.
func (a *Aggregator) Averages() (volume, rate float64, ticks int) {
	if a.ticks == 0 {
		return 0, 0, 0
	}
	n := float64(a.ticks)
	return a.volumeSum / n, a.rateSum / n, a.ticks
}

// WordCount returns the cumulative candidate word count.
func (a *Aggregator) WordCount() int { return a.seg.WordCount() }

// Transcript returns the candidate's final transcript.
func (a *Aggregator) Transcript() string { return a.seg.Transcript() }

// Interim returns the candidate's pending interim text.
func (a *Aggregator) Interim() string { return a.seg.Interim() }

// snapshot shares the filler log with current instead of copying it. The
// log is append-only and the slice is capped, so later appends never touch a
// snapshot already handed out.
func (a *Aggregator) snapshot() types.AudioMetrics {
	s := a.current
	n := len(s.FillerWords.Instances)
	s.FillerWords.Instances = s.FillerWords.Instances[:n:n]
	return s
}
