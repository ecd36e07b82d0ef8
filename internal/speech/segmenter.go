// Package speech turns transcript events and microphone levels into the
// rolling AudioMetrics snapshot.
//
// Segmenter owns the word count, filler log and transcript. LevelAnalyzer
// owns speaking/silence durations, the pause list and response latency.
// Aggregator combines both into AudioMetrics. None of them is safe for
// concurrent use; the session serialises all calls.
package speech

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/poise/pkg/types"
)

// fillerWords is the fixed filler vocabulary. "you know" is matched as a
// two-token phrase.
var fillerWords = map[string]struct{}{
	"um":        {},
	"uh":        {},
	"like":      {},
	"so":        {},
	"actually":  {},
	"basically": {},
	"literally": {},
}

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)

const (
	longSentenceWords  = 25
	shortSentenceWords = 5
	minTerseSentences  = 2
	fillerPenalty      = 200
)

// Segment is the result of processing one final transcript event.
type Segment struct {
	Words   int
	Fillers []types.FillerInstance
	Clarity float64
}

// Segmenter accumulates final transcript text and scores it.
type Segmenter struct {
	wordCount  int
	fillers    []types.FillerInstance
	transcript strings.Builder
	interim    string
}

// NewSegmenter returns an empty Segmenter.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// OnTranscript processes ev. Interim events only replace the pending interim
// text and return ok=false. Final events are tokenised, scanned for filler
// words and scored for clarity.
func (s *Segmenter) OnTranscript(ev types.TranscriptEvent) (seg Segment, ok bool) {
	if !ev.IsFinal {
		s.interim = ev.Text
		return Segment{}, false
	}
	s.interim = ""

	tokens := strings.Fields(ev.Text)
	if len(tokens) == 0 {
		return Segment{}, false
	}
	if s.transcript.Len() > 0 {
		s.transcript.WriteByte(' ')
	}
	s.transcript.WriteString(strings.TrimSpace(ev.Text))

	s.wordCount += len(tokens)
	seg.Words = len(tokens)
	seg.Fillers = matchFillers(tokens, ev.Timestamp)
	s.fillers = append(s.fillers, seg.Fillers...)
	seg.Clarity = s.clarity(ev.Text, len(tokens))
	return seg, true
}

// clarity scores a single segment. The filler ratio uses the cumulative
// counters, including fillers found in this segment.
func (s *Segmenter) clarity(text string, words int) float64 {
	score := 100.0
	sentences := len(sentencePattern.FindAllString(text, -1))
	if sentences > 0 {
		avg := float64(words) / float64(sentences)
		switch {
		case avg > longSentenceWords:
			score -= (avg - longSentenceWords) * 2
		case avg < shortSentenceWords && sentences >= minTerseSentences:
			score -= (shortSentenceWords - avg) * 5
		}
	}
	if s.wordCount > 0 {
		score -= float64(len(s.fillers)) / float64(s.wordCount) * fillerPenalty
	}
	return max(0, min(100, score))
}

// WordCount returns the cumulative number of words in final segments.
func (s *Segmenter) WordCount() int { return s.wordCount }

// Fillers returns the cumulative filler log. The returned slice must not be
// modified.
func (s *Segmenter) Fillers() []types.FillerInstance {
	return s.fillers[:len(s.fillers):len(s.fillers)]
}

// Transcript returns all final text joined by single spaces.
func (s *Segmenter) Transcript() string { return s.transcript.String() }

// Interim returns the latest not-yet-final text.
func (s *Segmenter) Interim() string { return s.interim }

func matchFillers(tokens []string, at time.Time) []types.FillerInstance {
	var out []types.FillerInstance
	for i := 0; i < len(tokens); i++ {
		w := normalize(tokens[i])
		if w == "you" && i+1 < len(tokens) && normalize(tokens[i+1]) == "know" {
			out = append(out, types.FillerInstance{Word: "you know", Timestamp: at})
			i++
			continue
		}
		if _, ok := fillerWords[w]; ok {
			out = append(out, types.FillerInstance{Word: w, Timestamp: at})
		}
	}
	return out
}

func normalize(token string) string {
	return strings.ToLower(strings.TrimFunc(token, func(r rune) bool {
		return unicode.IsPunct(r) && r != '\''
	}))
}
