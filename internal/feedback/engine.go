// Package feedback implements the real-time coaching rules: it watches the
// latest video and audio metrics, fires debounced tips per category and
// selects the single tip that is currently displayed.
//
// An Engine is not safe for concurrent use; the session serialises calls.
package feedback

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/poise/pkg/types"
)

// DefaultTipDuration is how long a tip stays displayed before it is
// dismissed automatically.
const DefaultTipDuration = 10 * time.Second

// Goals toggles the coaching categories the candidate wants feedback on.
// Volume and clarity tips are always enabled.
type Goals struct {
	EyeContact   bool `json:"eye_contact"`
	Posture      bool `json:"posture"`
	Smiling      bool `json:"smiling"`
	SpeakingPace bool `json:"speaking_pace"`
	FillerWords  bool `json:"filler_words"`
	ResponseTime bool `json:"response_time"`
}

// DefaultGoals enables every category.
func DefaultGoals() Goals {
	return Goals{
		EyeContact:   true,
		Posture:      true,
		Smiling:      true,
		SpeakingPace: true,
		FillerWords:  true,
		ResponseTime: true,
	}
}

// Enabled reports whether tips of type t may fire under g.
func (g Goals) Enabled(t types.FeedbackType) bool {
	switch t {
	case types.FeedbackEyeContact:
		return g.EyeContact
	case types.FeedbackPosture:
		return g.Posture
	case types.FeedbackSmiling:
		return g.Smiling
	case types.FeedbackPace:
		return g.SpeakingPace
	case types.FeedbackFillerWords:
		return g.FillerWords
	case types.FeedbackResponseTime:
		return g.ResponseTime
	}
	return true
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithIDFunc overrides the generator used for FeedbackItem IDs.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// WithTipDuration overrides DefaultTipDuration.
func WithTipDuration(d time.Duration) Option {
	return func(e *Engine) {
		e.tipDuration = d
	}
}

// Engine evaluates the coaching rules and keeps the feedback history.
type Engine struct {
	goals       Goals
	rules       []rule
	newID       func() string
	tipDuration time.Duration

	lastFired map[types.FeedbackType]time.Time
	items     []types.FeedbackItem
	lastStamp time.Time

	activeID    string
	activeSince time.Time
}

// New creates an Engine with the given goal settings.
func New(goals Goals, opts ...Option) *Engine {
	e := &Engine{
		goals:       goals,
		rules:       defaultRules(),
		newID:       uuid.NewString,
		tipDuration: DefaultTipDuration,
		lastFired:   make(map[types.FeedbackType]time.Time, len(types.FeedbackTypes)),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetGoals replaces the goal settings. Cooldowns are kept.
func (e *Engine) SetGoals(g Goals) { e.goals = g }

// Goals returns the current goal settings.
func (e *Engine) Goals() Goals { return e.goals }

// Evaluate runs every rule against the latest metrics and returns the items
// fired at now, in rule order. A rule fires when its condition holds, its
// goal is enabled and more than its cooldown has passed since it last fired.
func (e *Engine) Evaluate(v types.VideoMetrics, a types.AudioMetrics, now time.Time) []types.FeedbackItem {
	// Item timestamps never go backwards even if the caller's clock does.
	if now.Before(e.lastStamp) {
		now = e.lastStamp
	}

	var fired []types.FeedbackItem
	for _, r := range e.rules {
		if !e.goals.Enabled(r.kind) {
			continue
		}
		if last, ok := e.lastFired[r.kind]; ok && now.Sub(last) <= r.cooldown {
			continue
		}
		severity, message, ok := r.check(v, a, now)
		if !ok {
			continue
		}
		item := types.FeedbackItem{
			ID:        e.newID(),
			Type:      r.kind,
			Message:   message,
			Severity:  severity,
			Timestamp: now,
		}
		e.lastFired[r.kind] = now
		e.items = append(e.items, item)
		fired = append(fired, item)
	}
	e.lastStamp = now
	return fired
}

// Active returns the tip to display at now. The highest-severity undismissed
// item wins, newest first among equals. A tip that has been displayed for
// the tip duration is dismissed and the next candidate is returned.
func (e *Engine) Active(now time.Time) (types.FeedbackItem, bool) {
	for {
		idx := e.top()
		if idx < 0 {
			e.activeID = ""
			return types.FeedbackItem{}, false
		}
		item := e.items[idx]
		if item.ID != e.activeID {
			e.activeID = item.ID
			e.activeSince = now
			return item, true
		}
		if now.Sub(e.activeSince) < e.tipDuration {
			return item, true
		}
		e.items[idx].Dismissed = true
	}
}

// Dismiss marks the item with id as dismissed. It reports whether an
// undismissed item was found.
func (e *Engine) Dismiss(id string) bool {
	for i := range e.items {
		if e.items[i].ID == id && !e.items[i].Dismissed {
			e.items[i].Dismissed = true
			return true
		}
	}
	return false
}

// History returns a copy of every item fired so far, oldest first.
func (e *Engine) History() []types.FeedbackItem {
	return append([]types.FeedbackItem(nil), e.items...)
}

// Counts returns the number of fired items per category.
func (e *Engine) Counts() map[types.FeedbackType]int {
	out := make(map[types.FeedbackType]int, len(types.FeedbackTypes))
	for _, it := range e.items {
		out[it.Type]++
	}
	return out
}

// top returns the index of the best undismissed item, or -1.
func (e *Engine) top() int {
	idx := make([]int, 0, len(e.items))
	for i, it := range e.items {
		if !it.Dismissed {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return -1
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := e.items[idx[a]], e.items[idx[b]]
		if ra, rb := ia.Severity.Rank(), ib.Severity.Rank(); ra != rb {
			return ra > rb
		}
		if !ia.Timestamp.Equal(ib.Timestamp) {
			return ia.Timestamp.After(ib.Timestamp)
		}
		return idx[a] > idx[b]
	})
	return idx[0]
}
