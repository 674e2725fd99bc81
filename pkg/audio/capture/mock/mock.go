// Package mock provides scripted capture sources and streams for tests.
package mock

import (
	"context"
	"sync"

	"github.com/polyglot-labs/polyglot/pkg/audio"
	"github.com/polyglot-labs/polyglot/pkg/audio/capture"
)

// Stream is a controllable capture.Stream. Feed frames with Emit, simulate
// device-side termination with EndFromDevice.
type Stream struct {
	frames chan audio.Frame
	done   chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	doneOnce  sync.Once
	closeOnce sync.Once

	// CloseCalls counts Close invocations, for idempotency assertions.
	CloseCalls int
}

// NewStream creates a Stream with a buffered frame channel.
func NewStream() *Stream {
	return &Stream{
		frames: make(chan audio.Frame, 64),
		done:   make(chan struct{}),
	}
}

// Emit delivers a frame to the consumer. Returns false once closed.
func (s *Stream) Emit(frame audio.Frame) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	s.frames <- frame
	return true
}

// EndFromDevice simulates the device terminating the stream (e.g. the user
// revoking a share).
func (s *Stream) EndFromDevice() {
	s.doneOnce.Do(func() { close(s.done) })
	s.closeFrames()
}

func (s *Stream) closeFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

func (s *Stream) Frames() <-chan audio.Frame { return s.frames }
func (s *Stream) Done() <-chan struct{}      { return s.done }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	s.closeOnce.Do(func() {})
	s.closeFrames()
	return nil
}

// Source is a capture.Source returning pre-arranged streams or errors.
type Source struct {
	SourceKind capture.SourceKind

	// OpenErr, when set, is returned by Open.
	OpenErr error

	mu        sync.Mutex
	streams   []*Stream
	OpenCalls int
}

// NewSource creates a Source of the given kind.
func NewSource(kind capture.SourceKind) *Source {
	return &Source{SourceKind: kind}
}

// Kind implements capture.Source.
func (s *Source) Kind() capture.SourceKind { return s.SourceKind }

// Open implements capture.Source. Each call hands out a fresh Stream, which
// is also recorded for later inspection via Streams.
func (s *Source) Open(ctx context.Context, cfg capture.Config) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	st := NewStream()
	s.streams = append(s.streams, st)
	return st, nil
}

// Streams returns every stream handed out so far.
func (s *Source) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Stream, len(s.streams))
	copy(out, s.streams)
	return out
}
