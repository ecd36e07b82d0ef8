package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/session"
	"github.com/MrWong99/poise/pkg/media"
	"github.com/MrWong99/poise/pkg/types"
)

// writeTimeout bounds a single outbound WebSocket write.
const writeTimeout = 5 * time.Second

// errUnknownType is reported back to the client for unrecognised messages.
var errUnknownType = errors.New("unknown message type")

// stream upgrades to a WebSocket and pumps messages in both directions until
// the client disconnects or the session stops.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	live, ok := h.mgr.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("ingest: websocket accept failed", "session_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(observe.WithSession(r.Context(), id))
	defer cancel()
	log := observe.Logger(ctx)
	log.Info("stream connected", "remote", r.RemoteAddr)

	events, unsubscribe := live.Subscribe()
	defer unsubscribe()

	sess := live.Session()
	var fillers fillerCursor
	if err := h.sendSnapshot(ctx, conn, sess, &fillers); err != nil {
		return
	}

	var ended atomic.Bool
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					// Session stopped.
					ended.Store(true)
					_ = conn.Close(websocket.StatusNormalClosure, "session stopped")
					return
				}
				out := toOutbound(ev)
				fillers.trim(&out)
				if err := write(ctx, conn, out); err != nil {
					return
				}
			}
		}
	}()

	err = h.readLoop(ctx, conn, live)
	cancel()
	<-writerDone

	switch {
	case ended.Load():
	case err == nil, errors.Is(err, session.ErrSessionStopped):
		_ = conn.Close(websocket.StatusNormalClosure, "session stopped")
	case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
	default:
		log.Warn("stream closed with error", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
	log.Info("stream disconnected")
}

// sendSnapshot sends the current metrics and tip so a late client does not
// start from a blank display.
func (h *Handler) sendSnapshot(ctx context.Context, conn *websocket.Conn, s *session.Session, fillers *fillerCursor) error {
	vm, am := s.VideoMetrics(), s.AudioMetrics()
	msgs := []outbound{
		{Type: MsgVideoMetrics, VideoMetrics: &vm},
		{Type: MsgAudioMetrics, AudioMetrics: &am},
	}
	if tip, ok := s.ActiveTip(); ok {
		msgs = append(msgs, outbound{Type: MsgTip, Tip: &tip})
	}
	for _, m := range msgs {
		fillers.trim(&m)
		if err := write(ctx, conn, m); err != nil {
			return err
		}
	}
	return nil
}

// readLoop applies client messages until the connection fails or the session
// stops. Malformed messages are answered with an error message and skipped.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, live Live) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			if werr := write(ctx, conn, outbound{Type: MsgError, Error: "binary messages are not supported"}); werr != nil {
				return werr
			}
			continue
		}

		var msg inbound
		err = json.Unmarshal(data, &msg)
		if err == nil {
			err = h.apply(live, msg)
		}
		switch {
		case err == nil:
		case errors.Is(err, session.ErrSessionStopped):
			return err
		default:
			if werr := write(ctx, conn, outbound{Type: MsgError, Error: err.Error()}); werr != nil {
				return werr
			}
		}
	}
}

// apply dispatches one inbound message to the session.
func (h *Handler) apply(live Live, msg inbound) error {
	s := live.Session()
	at := msg.At
	if at.IsZero() {
		at = h.now()
	}

	switch msg.Type {
	case MsgFace:
		return s.OnFrame(msg.Face, at)
	case MsgPose:
		return s.OnPoseResult(msg.Pose, at)
	case MsgAudioLevel:
		return s.OnAudioLevel(msg.RMS, at)
	case MsgTranscript:
		if msg.Transcript == nil {
			return fmt.Errorf("%s: missing transcript", msg.Type)
		}
		ev := *msg.Transcript
		if ev.Role == "" {
			ev.Role = types.RoleSelf
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = at
		}
		return s.OnTranscript(ev)
	case MsgOtherParty:
		return s.SetOtherPartySpeaking(msg.Speaking, at)
	case MsgDismiss:
		if !s.Dismiss(msg.ID) {
			return fmt.Errorf("%s: unknown feedback id %q", msg.Type, msg.ID)
		}
		return nil
	case MsgFrame:
		if msg.Frame == nil || len(msg.Frame.Data) == 0 {
			return fmt.Errorf("%s: missing frame data", msg.Type)
		}
		return live.PushFrame(types.Frame{
			Width:      msg.Frame.Width,
			Height:     msg.Frame.Height,
			Data:       msg.Frame.Data,
			CapturedAt: at,
		})
	case MsgAudio:
		if msg.Audio == nil || len(msg.Audio.Data) == 0 {
			return fmt.Errorf("%s: missing audio data", msg.Type)
		}
		return live.PushAudio(media.AudioFrame{
			Data:       msg.Audio.Data,
			SampleRate: msg.Audio.SampleRate,
			Channels:   msg.Audio.Channels,
			CapturedAt: at,
		})
	}
	return fmt.Errorf("%w %q", errUnknownType, msg.Type)
}

// fillerCursor remembers how much of the filler log a connection has been
// sent so audio messages only carry the new instances.
type fillerCursor struct {
	sent int
}

func (c *fillerCursor) trim(out *outbound) {
	if out.AudioMetrics == nil {
		return
	}
	am := *out.AudioMetrics
	inst := am.FillerWords.Instances
	from := min(c.sent, len(inst))
	am.FillerWords.Instances = inst[from:]
	if am.FillerWords.Instances == nil {
		am.FillerWords.Instances = []types.FillerInstance{}
	}
	c.sent = len(inst)
	out.AudioMetrics = &am
	out.FillerOffset = &from
}

func toOutbound(ev session.Event) outbound {
	switch ev.Kind {
	case session.EventVideoMetrics:
		return outbound{Type: MsgVideoMetrics, VideoMetrics: &ev.Video}
	case session.EventAudioMetrics:
		return outbound{Type: MsgAudioMetrics, AudioMetrics: &ev.Audio}
	case session.EventTip:
		out := outbound{Type: MsgTip}
		if ev.TipOK {
			out.Tip = &ev.Tip
		}
		return out
	}
	return outbound{Type: MsgWarning, Warning: ev.Warning}
}

func write(ctx context.Context, conn *websocket.Conn, v outbound) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
