package speech

import "time"

const (
	// volumeGain scales normalised RMS amplitude to the 0-100 volume range.
	volumeGain = 400

	// speakingVolume is the volume above which the candidate is speaking.
	speakingVolume = 15

	minPause = 500 * time.Millisecond
	maxPause = 20 * time.Second
)

// Level is the state reported after each sampling tick.
type Level struct {
	Volume   float64
	Speaking bool

	// Latency is set when this tick measured a response latency.
	Latency    time.Duration
	HasLatency bool
}

// LevelAnalyzer tracks speaking and silence from microphone levels. Ticks
// arrive at the capture cadence, so all durations are measured from wall
// time between ticks rather than assumed tick lengths.
type LevelAnalyzer struct {
	speaking     bool
	lastTick     time.Time
	silenceStart time.Time

	speakingDur time.Duration
	silenceDur  time.Duration
	pauses      []time.Duration

	otherSpeaking bool
	pendingStop   time.Time
}

// NewLevelAnalyzer returns an analyzer for a session that started at start.
// The candidate is considered silent since start.
func NewLevelAnalyzer(start time.Time) *LevelAnalyzer {
	return &LevelAnalyzer{lastTick: start, silenceStart: start}
}

// OnLevel processes one sampling tick with the given normalised RMS
// amplitude.
func (l *LevelAnalyzer) OnLevel(rms float64, at time.Time) Level {
	volume := max(0, min(100, rms*volumeGain))
	speaking := volume > speakingVolume
	res := Level{Volume: volume, Speaking: speaking}

	if elapsed := at.Sub(l.lastTick); elapsed > 0 {
		if speaking {
			l.speakingDur += elapsed
		} else {
			l.silenceDur += elapsed
		}
		l.lastTick = at
	}

	switch {
	case speaking && !l.speaking:
		if pause := at.Sub(l.silenceStart); pause > minPause && pause < maxPause {
			l.pauses = append(l.pauses, pause)
		}
		if !l.pendingStop.IsZero() {
			res.Latency = at.Sub(l.pendingStop)
			res.HasLatency = true
			l.pendingStop = time.Time{}
		}
	case !speaking && l.speaking:
		l.silenceStart = at
	}
	l.speaking = speaking
	return res
}

// SetOtherPartySpeaking records the interviewer's speaking state. When the
// interviewer starts talking the candidate's turn is over, so the candidate
// is reset to silent. When the interviewer stops, the next silence to speech
// transition measures the response latency.
func (l *LevelAnalyzer) SetOtherPartySpeaking(speaking bool, at time.Time) {
	if speaking == l.otherSpeaking {
		return
	}
	l.otherSpeaking = speaking
	if speaking {
		l.pendingStop = time.Time{}
		if l.speaking {
			l.speaking = false
			l.silenceStart = at
		}
		return
	}
	l.pendingStop = at
}

// SpeakingDuration returns the cumulative time spent speaking.
func (l *LevelAnalyzer) SpeakingDuration() time.Duration { return l.speakingDur }

// SilenceDuration returns the cumulative time spent silent.
func (l *LevelAnalyzer) SilenceDuration() time.Duration { return l.silenceDur }

// Pauses returns a copy of the recorded pauses.
func (l *LevelAnalyzer) Pauses() []time.Duration {
	return append([]time.Duration(nil), l.pauses...)
}

// PauseStats returns the longest and mean pause. Both are zero when no pause
// has been recorded.
func (l *LevelAnalyzer) PauseStats() (longest, mean time.Duration) {
	if len(l.pauses) == 0 {
		return 0, 0
	}
	var total time.Duration
	for _, p := range l.pauses {
		total += p
		longest = max(longest, p)
	}
	return longest, total / time.Duration(len(l.pauses))
}
