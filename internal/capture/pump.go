package capture

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/poise/internal/session"
	"github.com/MrWong99/poise/pkg/audio"
	"github.com/MrWong99/poise/pkg/media"
)

// AudioPump feeds microphone frames to the level analyzer and, when a
// transcript stream is attached, to speech-to-text.
type AudioPump struct {
	src    media.AudioSource
	sink   Sink
	stream *TranscriptStream
	conv   audio.Converter
}

// NewAudioPump creates a pump. stream may be nil, in which case only levels
// are analysed.
func NewAudioPump(src media.AudioSource, sink Sink, stream *TranscriptStream) *AudioPump {
	return &AudioPump{
		src:    src,
		sink:   sink,
		stream: stream,
		conv:   audio.Converter{Target: audio.STTFormat},
	}
}

// Run consumes frames until the source closes, ctx is done or the session
// stops.
func (p *AudioPump) Run(ctx context.Context) error {
	frames := p.src.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := p.handle(frame); err != nil {
				if errors.Is(err, session.ErrSessionStopped) {
					return nil
				}
				return err
			}
		}
	}
}

func (p *AudioPump) handle(frame media.AudioFrame) error {
	pcm := p.conv.Convert(frame)
	if len(pcm.Data) == 0 {
		return nil
	}
	at := frame.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := p.sink.OnAudioLevel(audio.RMS(pcm.Data), at); err != nil {
		return err
	}
	if p.stream != nil {
		p.stream.SendAudio(pcm.Data)
	}
	return nil
}
