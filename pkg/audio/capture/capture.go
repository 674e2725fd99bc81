// Package capture acquires raw audio streams from capture sources and
// manages their lifecycle.
//
// A [Source] produces a live [Stream] of PCM frames. The [Manager] enforces
// the single-active-session rule: at most one [Session] may be active at a
// time, and a second Acquire while one is live is rejected rather than
// queued. Device-initiated termination (the user revoking a share from the
// browser chrome, a microphone being unplugged) is surfaced through the
// stream's Done channel and transitions the session to released without any
// caller involvement.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/polyglot-labs/polyglot/pkg/audio"
)

// Sentinel errors distinguishing why a source could not be acquired.
// Permission denial must surface as an error, never a silent no-op.
var (
	ErrPermissionDenied  = errors.New("capture: permission denied")
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
	ErrNoAudioTrack      = errors.New("capture: no audio track shared")
	ErrCaptureActive     = errors.New("capture: a session is already active")
)

// SourceKind identifies where audio is captured from.
type SourceKind string

const (
	// Microphone captures the user's microphone with echo cancellation and
	// noise suppression requested.
	Microphone SourceKind = "microphone"

	// DisplayAudio captures shared tab or system audio. The permission
	// prompt requires a video grab; the video track is discarded
	// immediately after acquisition.
	DisplayAudio SourceKind = "displayAudio"
)

// Config describes the stream a source should open.
type Config struct {
	// SampleRate in Hz. The speech pipeline expects 16000.
	SampleRate int

	// Channels requested from the device.
	Channels int

	// EchoCancellation and NoiseSuppression are requested for microphone
	// capture; sources apply what the host supports.
	EchoCancellation bool
	NoiseSuppression bool
}

// Stream is a live audio stream from a capture source.
type Stream interface {
	// Frames delivers captured PCM frames. The channel is closed when the
	// stream ends for any reason.
	Frames() <-chan audio.Frame

	// Done is closed when the device terminates the stream on its own
	// (e.g. the user stops sharing). Callers must treat this as a released
	// session, not an error.
	Done() <-chan struct{}

	// Err returns the terminal error, if any, after Frames is closed.
	Err() error

	// Close stops every underlying track. Idempotent.
	Close() error
}

// Source opens streams of a particular kind. Implementations map host
// failures onto the package sentinel errors.
type Source interface {
	Kind() SourceKind
	Open(ctx context.Context, cfg Config) (Stream, error)
}

// Session is one active capture. Exactly one may be live per Manager.
type Session struct {
	Kind       SourceKind
	SampleRate int
	Channels   int

	stream      Stream
	mu          sync.Mutex
	released    bool
	releaseOnce sync.Once
}

// Frames exposes the underlying stream's frames.
func (s *Session) Frames() <-chan audio.Frame { return s.stream.Frames() }

// Active reports whether the session still owns the device.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.released
}

// Release stops every underlying track. Safe to call on an already-released
// session.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
		_ = s.stream.Close()
	})
}

// Manager owns the single-active-session invariant and reacts to
// device-initiated termination.
type Manager struct {
	mu      sync.Mutex
	sources map[SourceKind]Source
	active  *Session

	// OnEnded is invoked (from a background goroutine) when the device
	// terminates the active session on its own. May be nil.
	OnEnded func(*Session)
}

// NewManager creates a Manager serving the given sources.
func NewManager(sources ...Source) *Manager {
	m := &Manager{sources: make(map[SourceKind]Source, len(sources))}
	for _, src := range sources {
		m.sources[src.Kind()] = src
	}
	return m
}

// Acquire opens a capture session of the given kind. It fails with
// [ErrCaptureActive] if a session is already live, and with one of the
// sentinel errors if the device cannot be acquired. Acquiring triggers a
// user-facing permission prompt on browser-backed sources.
func (m *Manager) Acquire(ctx context.Context, kind SourceKind) (*Session, error) {
	m.mu.Lock()
	if m.active != nil && m.active.Active() {
		m.mu.Unlock()
		return nil, ErrCaptureActive
	}
	src, ok := m.sources[kind]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("capture: no source registered for kind %q: %w", kind, ErrDeviceUnavailable)
	}

	cfg := Config{
		SampleRate: audio.PipelineFormat.SampleRate,
		Channels:   audio.PipelineFormat.Channels,
	}
	if kind == Microphone {
		cfg.EchoCancellation = true
		cfg.NoiseSuppression = true
	}

	stream, err := src.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		Kind:       kind,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		stream:     stream,
	}

	m.mu.Lock()
	m.active = sess
	m.mu.Unlock()

	go m.watchEnded(sess)
	return sess, nil
}

// Active returns the live session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.Active() {
		return m.active
	}
	return nil
}

// Release releases the active session if any. Idempotent.
func (m *Manager) Release() {
	m.mu.Lock()
	sess := m.active
	m.active = nil
	m.mu.Unlock()
	if sess != nil {
		sess.Release()
	}
}

// watchEnded transitions the session to released when the device ends the
// stream itself and notifies the controller via OnEnded.
func (m *Manager) watchEnded(sess *Session) {
	<-sess.stream.Done()
	if !sess.Active() {
		// Caller-initiated release; nothing to report.
		return
	}
	sess.Release()

	m.mu.Lock()
	if m.active == sess {
		m.active = nil
	}
	onEnded := m.OnEnded
	m.mu.Unlock()

	if onEnded != nil {
		onEnded(sess)
	}
}
