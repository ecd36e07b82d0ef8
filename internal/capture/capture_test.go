package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/session"
	"github.com/MrWong99/poise/pkg/media"
	"github.com/MrWong99/poise/pkg/provider/face"
	facemock "github.com/MrWong99/poise/pkg/provider/face/mock"
	"github.com/MrWong99/poise/pkg/provider/pose"
	posemock "github.com/MrWong99/poise/pkg/provider/pose/mock"
	"github.com/MrWong99/poise/pkg/provider/stt"
	sttmock "github.com/MrWong99/poise/pkg/provider/stt/mock"
	"github.com/MrWong99/poise/pkg/types"
)

// recordingSink captures everything the capture loops deliver.
type recordingSink struct {
	mu          sync.Mutex
	frames      []*types.FaceDetection
	poses       []*types.Pose
	levels      []float64
	transcripts []types.TranscriptEvent
	warnings    []string
	stopped     bool
}

func (s *recordingSink) OnFrame(det *types.FaceDetection, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return session.ErrSessionStopped
	}
	s.frames = append(s.frames, det)
	return nil
}

func (s *recordingSink) OnPoseResult(p *types.Pose, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return session.ErrSessionStopped
	}
	s.poses = append(s.poses, p)
	return nil
}

func (s *recordingSink) OnAudioLevel(rms float64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return session.ErrSessionStopped
	}
	s.levels = append(s.levels, rms)
	return nil
}

func (s *recordingSink) OnTranscript(ev types.TranscriptEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return session.ErrSessionStopped
	}
	s.transcripts = append(s.transcripts, ev)
	return nil
}

func (s *recordingSink) Warn(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, msg)
}

func (s *recordingSink) snapshot() recordingSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordingSink{
		frames:      append([]*types.FaceDetection(nil), s.frames...),
		poses:       append([]*types.Pose(nil), s.poses...),
		levels:      append([]float64(nil), s.levels...),
		transcripts: append([]types.TranscriptEvent(nil), s.transcripts...),
		warnings:    append([]string(nil), s.warnings...),
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestInputs_Validate(t *testing.T) {
	t.Parallel()

	frames := NewLatestFrameSource()
	audioSrc := NewChanAudioSource(1)
	det := &facemock.Detector{}

	tests := []struct {
		name    string
		in      Inputs
		wantErr bool
	}{
		{name: "nothing", in: Inputs{}, wantErr: true},
		{name: "video without detectors", in: Inputs{Frames: frames}, wantErr: true},
		{name: "audio only", in: Inputs{Audio: audioSrc}},
		{name: "video with face", in: Inputs{Frames: frames, Face: det}},
		{name: "video with pose only", in: Inputs{Frames: frames, Pose: &posemock.Estimator{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.in.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, session.ErrCannotProceed) {
				t.Errorf("err = %v, want ErrCannotProceed", err)
			}
		})
	}
}

func TestLatestFrameSource(t *testing.T) {
	t.Parallel()

	src := NewLatestFrameSource()
	src.Push(types.Frame{Width: 1})
	src.Push(types.Frame{Width: 2})

	f, err := src.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if f.Width != 2 || f.Seq != 2 {
		t.Errorf("frame = %+v, want the newest with seq 2", f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := src.NextFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("NextFrame without new frame: err = %v, want deadline exceeded", err)
	}

	src.Close()
	src.Push(types.Frame{Width: 3})
	if _, err := src.NextFrame(context.Background()); !errors.Is(err, media.ErrSourceClosed) {
		t.Errorf("NextFrame after Close: err = %v, want ErrSourceClosed", err)
	}
}

func TestChanAudioSource_DropsWhenFull(t *testing.T) {
	t.Parallel()

	src := NewChanAudioSource(1)
	if !src.Push(media.AudioFrame{}) {
		t.Fatal("first push dropped")
	}
	if src.Push(media.AudioFrame{}) {
		t.Error("push into full buffer accepted")
	}
	src.Close()
	src.Close()
	if src.Push(media.AudioFrame{}) {
		t.Error("push after close accepted")
	}
}

func TestVideoSampler_DetectorOutcomes(t *testing.T) {
	t.Parallel()

	errGlitch := errors.New("glitch")
	faceDet := &types.FaceDetection{Score: 0.9}
	body := &types.Pose{Score: 0.8}

	tests := []struct {
		name       string
		faceResult facemock.Result
		poseResult posemock.Result
		wantFrames []*types.FaceDetection
		wantPoses  int
	}{
		{
			name:       "both succeed",
			faceResult: facemock.Result{Detection: faceDet},
			poseResult: posemock.Result{Pose: body},
			wantFrames: []*types.FaceDetection{faceDet},
			wantPoses:  1,
		},
		{
			name:       "face unavailable counts as no face",
			faceResult: facemock.Result{Err: face.ErrUnavailable},
			poseResult: posemock.Result{Pose: body},
			wantFrames: []*types.FaceDetection{nil},
			wantPoses:  1,
		},
		{
			name:       "transient face error skips face only",
			faceResult: facemock.Result{Err: errGlitch},
			poseResult: posemock.Result{Pose: body},
			wantFrames: nil,
			wantPoses:  1,
		},
		{
			name:       "pose failure leaves face untouched",
			faceResult: facemock.Result{Detection: faceDet},
			poseResult: posemock.Result{Err: pose.ErrUnavailable},
			wantFrames: []*types.FaceDetection{faceDet},
			wantPoses:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sink := &recordingSink{}
			s := NewVideoSampler(nil,
				&facemock.Detector{Results: []facemock.Result{tt.faceResult}},
				&posemock.Estimator{Results: []posemock.Result{tt.poseResult}},
				sink,
				WithSamplerMetrics(testMetrics(t)),
			)
			if err := s.process(context.Background(), types.Frame{Seq: 1, CapturedAt: time.Now()}); err != nil {
				t.Fatalf("process: %v", err)
			}

			got := sink.snapshot()
			if len(got.frames) != len(tt.wantFrames) {
				t.Fatalf("frames = %v, want %v", got.frames, tt.wantFrames)
			}
			for i := range got.frames {
				if got.frames[i] != tt.wantFrames[i] {
					t.Errorf("frame %d = %v, want %v", i, got.frames[i], tt.wantFrames[i])
				}
			}
			if len(got.poses) != tt.wantPoses {
				t.Errorf("poses = %d, want %d", len(got.poses), tt.wantPoses)
			}
		})
	}
}

func TestVideoSampler_RunStopsWhenSourceCloses(t *testing.T) {
	t.Parallel()

	src := NewLatestFrameSource()
	det := &facemock.Detector{Results: []facemock.Result{{Detection: &types.FaceDetection{}}}}
	sink := &recordingSink{}
	s := NewVideoSampler(src, det, nil, sink,
		WithSampleInterval(time.Millisecond),
		WithSamplerMetrics(testMetrics(t)),
	)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	src.Push(types.Frame{})
	eventually(t, func() bool { return len(sink.snapshot().frames) == 1 })
	src.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after source closed")
	}
}

func TestVideoSampler_RunStopsWithSession(t *testing.T) {
	t.Parallel()

	src := NewLatestFrameSource()
	sink := &recordingSink{stopped: true}
	s := NewVideoSampler(src, &facemock.Detector{}, nil, sink,
		WithSampleInterval(time.Millisecond),
		WithSamplerMetrics(testMetrics(t)),
	)
	src.Push(types.Frame{})
	if err := s.Run(context.Background()); err != nil {
		t.Errorf("Run: %v, want nil after session stop", err)
	}
}

func pcmTone(samples int, amplitude int16) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestAudioPump_LevelsAndSTT(t *testing.T) {
	t.Parallel()

	sttSess := sttmock.NewSession()
	provider := &sttmock.Provider{Sessions: []*sttmock.Session{sttSess}}
	sink := &recordingSink{}
	stream := NewTranscriptStream(TranscriptStreamConfig{
		Provider: provider,
		Stream:   stt.StreamConfig{SampleRate: 16000, Channels: 1, Role: types.RoleSelf},
		Sink:     sink,
		Metrics:  testMetrics(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stream.Run(ctx) }()
	eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.handle != nil
	})

	src := NewChanAudioSource(4)
	pump := NewAudioPump(src, sink, stream)
	src.Push(media.AudioFrame{Data: pcmTone(160, 16384), SampleRate: 16000, Channels: 1, CapturedAt: time.Now()})
	src.Push(media.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	src.Close()

	if err := pump.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := sink.snapshot()
	if len(got.levels) != 1 {
		t.Fatalf("levels = %v, want one (misaligned frame dropped)", got.levels)
	}
	if got.levels[0] < 0.49 || got.levels[0] > 0.51 {
		t.Errorf("rms = %v, want 0.5", got.levels[0])
	}
	if n := sttSess.SendAudioCallCount(); n != 1 {
		t.Errorf("stt chunks = %d, want 1", n)
	}
}

func TestTranscriptStream_ForwardsAndRestarts(t *testing.T) {
	t.Parallel()

	first, second := sttmock.NewSession(), sttmock.NewSession()
	provider := &sttmock.Provider{Sessions: []*sttmock.Session{first, second}}
	sink := &recordingSink{}
	ts := NewTranscriptStream(TranscriptStreamConfig{
		Provider: provider,
		Stream:   stt.StreamConfig{Role: types.RoleSelf},
		Sink:     sink,
		Backoff:  time.Millisecond,
		Metrics:  testMetrics(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ts.Run(ctx)
		close(done)
	}()

	first.PartialsCh <- types.TranscriptEvent{Text: "hel"}
	first.FinalsCh <- types.TranscriptEvent{Text: "hello", IsFinal: true}
	eventually(t, func() bool { return len(sink.snapshot().transcripts) == 2 })

	// Remote ends the stream.
	close(first.PartialsCh)
	close(first.FinalsCh)
	eventually(t, func() bool { return provider.CallCount() == 2 })

	second.FinalsCh <- types.TranscriptEvent{Text: "again", IsFinal: true, Role: types.RoleOther}
	eventually(t, func() bool { return len(sink.snapshot().transcripts) == 3 })

	got := sink.snapshot().transcripts
	if got[0].Role != types.RoleSelf {
		t.Errorf("role = %q, want self filled in from stream config", got[0].Role)
	}
	if got[2].Role != types.RoleOther {
		t.Errorf("role = %q, want provider role kept", got[2].Role)
	}
	if !first.Closed() {
		t.Error("ended session not closed")
	}

	cancel()
	<-done
	if !second.Closed() {
		t.Error("current session not closed on shutdown")
	}
	if ts.Failed() {
		t.Error("Failed() = true")
	}
}

func TestTranscriptStream_GivesUp(t *testing.T) {
	t.Parallel()

	provider := &sttmock.Provider{StartStreamErr: errors.New("503")}
	sink := &recordingSink{}
	ts := NewTranscriptStream(TranscriptStreamConfig{
		Provider:   provider,
		Sink:       sink,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
		Metrics:    testMetrics(t),
	})

	if err := ts.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := provider.CallCount(); got != 3 {
		t.Errorf("StartStream calls = %d, want 3", got)
	}
	if !ts.Failed() {
		t.Error("Failed() = false")
	}
	if w := sink.snapshot().warnings; len(w) != 1 {
		t.Errorf("warnings = %v, want one", w)
	}
	// Audio after giving up is discarded without panicking.
	ts.SendAudio([]byte{0, 0})
}

func TestTranscriptStream_RecoversAfterFailedStarts(t *testing.T) {
	t.Parallel()

	provider := &sttmock.Provider{StartStreamErr: errors.New("503"), FailFirst: 2}
	sink := &recordingSink{}
	ts := NewTranscriptStream(TranscriptStreamConfig{
		Provider: provider,
		Sink:     sink,
		Backoff:  time.Millisecond,
		Metrics:  testMetrics(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ts.Run(ctx) }()

	eventually(t, func() bool { return provider.CallCount() == 3 })
	if ts.Failed() {
		t.Error("Failed() = true after recovery")
	}
	if w := sink.snapshot().warnings; len(w) != 0 {
		t.Errorf("warnings = %v, want none", w)
	}
}
