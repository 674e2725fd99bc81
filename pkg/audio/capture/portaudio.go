package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/polyglot-labs/polyglot/pkg/audio"
)

// framesPerBuffer is the portaudio read granularity. Small enough to keep
// capture latency well under a chunk block.
const framesPerBuffer = 1024

// MicSource captures the default input device through portaudio.
// One portaudio.Initialize call is held for the lifetime of the source.
type MicSource struct {
	initOnce sync.Once
	initErr  error
}

// NewMicSource creates a microphone source. Portaudio host initialisation is
// deferred to the first Open so constructing the source never touches the
// device.
func NewMicSource() *MicSource {
	return &MicSource{}
}

// Kind implements [Source].
func (s *MicSource) Kind() SourceKind { return Microphone }

// Open implements [Source]. Host errors are mapped onto the package
// sentinels so callers can distinguish denial from absence.
func (s *MicSource) Open(ctx context.Context, cfg Config) (Stream, error) {
	s.initOnce.Do(func() {
		s.initErr = portaudio.Initialize()
	})
	if s.initErr != nil {
		return nil, fmt.Errorf("capture: portaudio init: %w: %v", ErrDeviceUnavailable, s.initErr)
	}

	ms := &micStream{
		buffer: make([]int16, framesPerBuffer*cfg.Channels),
		frames: make(chan audio.Frame, 16),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		cfg:    cfg,
	}

	stream, err := portaudio.OpenDefaultStream(
		cfg.Channels,
		0,
		float64(cfg.SampleRate),
		framesPerBuffer,
		ms.buffer,
	)
	if err != nil {
		return nil, mapPortaudioErr(err)
	}
	ms.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, mapPortaudioErr(err)
	}

	slog.Info("microphone capture started",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	go ms.readLoop()
	return ms, nil
}

// mapPortaudioErr folds host-API failures into the capture sentinels.
func mapPortaudioErr(err error) error {
	if errors.Is(err, portaudio.DeviceUnavailable) {
		return fmt.Errorf("capture: open input stream: %w", ErrDeviceUnavailable)
	}
	return fmt.Errorf("capture: open input stream: %w: %v", ErrDeviceUnavailable, err)
}

type micStream struct {
	stream *portaudio.Stream
	buffer []int16
	frames chan audio.Frame
	cfg    Config

	mu     sync.Mutex
	err    error
	closed bool

	done chan struct{} // closed on device-side termination
	stop chan struct{} // closed by Close
	once sync.Once
}

func (m *micStream) Frames() <-chan audio.Frame { return m.frames }
func (m *micStream) Done() <-chan struct{}      { return m.done }

func (m *micStream) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close stops and closes the portaudio stream. Idempotent.
func (m *micStream) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.stop)
		_ = m.stream.Stop()
		_ = m.stream.Close()
	})
	return nil
}

// readLoop pulls buffers from portaudio and publishes them as frames.
// A read failure while the stream is still wanted is treated as
// device-initiated termination.
func (m *micStream) readLoop() {
	defer close(m.frames)
	start := time.Now()

	for {
		select {
		case <-m.stop:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			m.mu.Lock()
			closed := m.closed
			if !closed {
				m.err = fmt.Errorf("capture: device read: %w", err)
			}
			m.mu.Unlock()
			if !closed {
				slog.Warn("microphone stream ended by device", "err", err)
				close(m.done)
			}
			return
		}

		data := audio.Int16ToPCM16(m.buffer)
		frame := audio.Frame{
			Data:       data,
			SampleRate: m.cfg.SampleRate,
			Channels:   m.cfg.Channels,
			Timestamp:  time.Since(start),
		}

		select {
		case m.frames <- frame:
		case <-m.stop:
			return
		}
	}
}

// DisplayGrab is the result of a display/tab share handed over by the
// embedding presentation layer. The video track only exists to satisfy the
// permission prompt.
type DisplayGrab struct {
	// Audio is the shared audio stream, or nil when the user did not tick
	// "share audio".
	Audio Stream

	// StopVideo stops the video track acquired alongside the audio. May be
	// nil when the grab carried no video.
	StopVideo func()
}

// GrabFunc performs the user-facing display share prompt and returns the
// resulting tracks. Implemented by the embedding layer.
type GrabFunc func(ctx context.Context, cfg Config) (DisplayGrab, error)

// DisplaySource adapts an embedding-layer display grab into a [Source],
// enforcing the acquisition rules: the video track is stopped immediately,
// and a grab without audio fails with [ErrNoAudioTrack].
type DisplaySource struct {
	grab GrabFunc
}

// NewDisplaySource wraps grab into a display-audio source.
func NewDisplaySource(grab GrabFunc) *DisplaySource {
	return &DisplaySource{grab: grab}
}

// Kind implements [Source].
func (s *DisplaySource) Kind() SourceKind { return DisplayAudio }

// Open implements [Source].
func (s *DisplaySource) Open(ctx context.Context, cfg Config) (Stream, error) {
	res, err := s.grab(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Video exists only to satisfy the permission prompt.
	if res.StopVideo != nil {
		res.StopVideo()
	}

	if res.Audio == nil {
		return nil, fmt.Errorf("capture: display grab: %w", ErrNoAudioTrack)
	}
	return res.Audio, nil
}
