package session

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/poise/pkg/types"
)

// EventKind identifies the payload of an [Event].
type EventKind string

const (
	EventVideoMetrics EventKind = "video_metrics"
	EventAudioMetrics EventKind = "audio_metrics"
	EventTip          EventKind = "tip"
	EventWarning      EventKind = "warning"
)

// Event is one pipeline output delivered to a [Hub] subscriber. Only the
// field matching Kind is set.
type Event struct {
	Kind    EventKind
	Video   types.VideoMetrics
	Audio   types.AudioMetrics
	Tip     types.FeedbackItem
	TipOK   bool
	Warning string
}

// Hub fans session callbacks out to any number of subscribers. Delivery is
// non-blocking: a subscriber whose buffer is full misses the event.
type Hub struct {
	buf int

	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to buf events.
func NewHub(buf int) *Hub {
	if buf <= 0 {
		buf = 16
	}
	return &Hub{buf: buf, subs: make(map[int]chan Event)}
}

// Callbacks returns session callbacks publishing into the hub.
func (h *Hub) Callbacks() Callbacks {
	return Callbacks{
		OnVideoMetrics: func(vm types.VideoMetrics) {
			h.Publish(Event{Kind: EventVideoMetrics, Video: vm})
		},
		OnAudioMetrics: func(am types.AudioMetrics) {
			h.Publish(Event{Kind: EventAudioMetrics, Audio: am})
		},
		OnActiveTip: func(item types.FeedbackItem, ok bool) {
			h.Publish(Event{Kind: EventTip, Tip: item, TipOK: ok})
		},
		OnWarning: func(msg string) {
			h.Publish(Event{Kind: EventWarning, Warning: msg})
		},
	}
}

// Subscribe registers a subscriber. The returned cancel func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buf)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("session hub: subscriber lagging, event dropped", "subscriber", id, "kind", ev.Kind)
		}
	}
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
