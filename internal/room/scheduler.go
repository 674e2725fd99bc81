package room

import (
	"log/slog"
	"sync"

	"github.com/polyglot-labs/polyglot/pkg/types"
)

// Player voices one audio reference at a time. Implementations are provided
// by the embedding application (speaker output, a headless sink in tests).
// Play must not block for the duration of playback; Stop halts whatever is
// currently playing and discards its position.
type Player interface {
	Play(audioRef string) error
	Stop()
}

// Scheduler decides which incoming translation is voiced. Policy:
// newest-only autoplay — when a new message with audio for the listener's
// hear language arrives, whatever is currently playing is stopped first and
// the newest starts from the beginning. Messages that arrive while another
// is being voiced are not queued; the transcript view is the catch-up
// mechanism, not audio replay.
//
// Messages without audio for the hear language update the transcript only
// and never stall the scheduler.
type Scheduler struct {
	player       Player
	hearLanguage string
	selfName     string

	mu      sync.Mutex
	enabled bool
	current types.MessageKey
	playing bool
}

// NewScheduler creates a scheduler voicing translations in hearLanguage.
// selfName suppresses echo: this user's own messages are never autoplayed.
func NewScheduler(player Player, hearLanguage, selfName string) *Scheduler {
	return &Scheduler{
		player:       player,
		hearLanguage: hearLanguage,
		selfName:     selfName,
		enabled:      true,
	}
}

// SetEnabled toggles autoplay. Disabling stops the current playback.
func (s *Scheduler) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	stop := !on && s.playing
	s.playing = false
	s.mu.Unlock()
	if stop {
		s.player.Stop()
	}
}

// OnMessage is the reconciler's new-message hook. Fires at most one Play per
// unique message, always preempting the previous one first.
func (s *Scheduler) OnMessage(m types.Message) {
	if m.Speaker == s.selfName {
		return
	}
	ref, ok := m.AudioRefs[s.hearLanguage]
	if !ok || ref == "" {
		// Text-only for this listener; nothing to voice.
		return
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	key := m.Key()
	if s.playing && s.current == key {
		s.mu.Unlock()
		return
	}
	preempt := s.playing
	s.current = key
	s.playing = true
	s.mu.Unlock()

	if preempt {
		s.player.Stop()
	}
	if err := s.player.Play(ref); err != nil {
		slog.Warn("playback failed", "speaker", m.Speaker, "audio_ref", ref, "err", err)
		s.mu.Lock()
		if s.current == key {
			s.playing = false
		}
		s.mu.Unlock()
	}
}

// PlayOnDemand voices a historical message explicitly, regardless of the
// autoplay policy. The current playback, if any, is preempted. Returns false
// when the message has no audio for the hear language.
func (s *Scheduler) PlayOnDemand(m types.Message) bool {
	ref, ok := m.AudioRefs[s.hearLanguage]
	if !ok || ref == "" {
		return false
	}

	s.mu.Lock()
	preempt := s.playing
	s.current = m.Key()
	s.playing = true
	s.mu.Unlock()

	if preempt {
		s.player.Stop()
	}
	if err := s.player.Play(ref); err != nil {
		slog.Warn("on-demand playback failed", "speaker", m.Speaker, "err", err)
		s.mu.Lock()
		s.playing = false
		s.mu.Unlock()
		return false
	}
	return true
}

// OnPlaybackDone tells the scheduler the current item finished on its own.
// The player calls this; without it a finished item would still count as
// "playing" and be preempted instead of simply succeeded.
func (s *Scheduler) OnPlaybackDone() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

// Stop halts playback without disabling autoplay.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop := s.playing
	s.playing = false
	s.mu.Unlock()
	if stop {
		s.player.Stop()
	}
}
