package ingest

import (
	"time"

	"github.com/MrWong99/poise/pkg/types"
)

// Inbound message types.
const (
	MsgFace       = "face"
	MsgPose       = "pose"
	MsgAudioLevel = "audio_level"
	MsgTranscript = "transcript"
	MsgOtherParty = "other_party"
	MsgDismiss    = "dismiss"
	MsgFrame      = "frame"
	MsgAudio      = "audio"
)

// Outbound message types.
const (
	MsgVideoMetrics = "video_metrics"
	MsgAudioMetrics = "audio_metrics"
	MsgTip          = "tip"
	MsgWarning      = "warning"
	MsgError        = "error"
)

// inbound is the envelope of every client message. Only the field matching
// Type is read. At defaults to the receive time.
type inbound struct {
	Type string    `json:"type"`
	At   time.Time `json:"at,omitzero"`

	Face       *types.FaceDetection   `json:"face,omitempty"`
	Pose       *types.Pose            `json:"pose,omitempty"`
	RMS        float64                `json:"rms,omitempty"`
	Transcript *types.TranscriptEvent `json:"transcript,omitempty"`
	Speaking   bool                   `json:"speaking,omitempty"`
	ID         string                 `json:"id,omitempty"`
	Frame      *framePayload          `json:"frame,omitempty"`
	Audio      *audioPayload          `json:"audio,omitempty"`
}

// framePayload carries an encoded camera frame for server-side detection.
type framePayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}

// audioPayload carries little-endian 16-bit PCM for server-side analysis.
type audioPayload struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Data       []byte `json:"data"`
}

// outbound is the envelope of every server message.
type outbound struct {
	Type string `json:"type"`

	VideoMetrics *types.VideoMetrics `json:"video_metrics,omitempty"`
	AudioMetrics *types.AudioMetrics `json:"audio_metrics,omitempty"`

	// FillerOffset is the index in the session's filler log of the first
	// instance carried by AudioMetrics. Each connection receives every
	// instance once: the snapshot starts at 0 and later messages only carry
	// what was added since.
	FillerOffset *int `json:"filler_offset,omitempty"`

	// Tip is absent in a "tip" message when no tip is displayed any more.
	Tip *types.FeedbackItem `json:"tip,omitempty"`

	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}
