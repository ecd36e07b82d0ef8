// Package audio holds the PCM helpers shared by the capture layer: format
// conversion towards the speech-to-text input format and signal level
// measurement for the audio level analyzer.
//
// All PCM is 16-bit signed little-endian.
package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/poise/pkg/media"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// STTFormat is the format streamed to speech-to-text providers.
var STTFormat = Format{SampleRate: 16000, Channels: 1}

// Converter downmixes and resamples microphone frames to a mono target
// format. It logs once on the first format mismatch and once on the first
// misaligned frame. Create one per stream.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned unchanged. Misaligned frames come back with empty Data
// and should be dropped.
func (c *Converter) Convert(frame media.AudioFrame) media.AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return media.AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, CapturedAt: frame.CapturedAt}
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio converter: converting microphone input",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	if frame.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)

	return media.AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   1,
		CapturedAt: frame.CapturedAt,
	}
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sample(pcm, i*2))
		r := int32(sample(pcm, i*2+1))
		// The mean of two int16 values always fits in int16.
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match, or either is invalid, pcm is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

func sample(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, v int16) {
	pcm[i*2] = byte(v)
	pcm[i*2+1] = byte(v >> 8)
}

// formatString returns e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
