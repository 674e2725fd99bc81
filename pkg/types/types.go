// Package types defines the shared types used across the session core.
//
// These types form the lingua franca between the transport channel, the
// state reconciler, and the store clients. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Identity is the per-membership identity presented in the streaming
// handshake and in heartbeats.
type Identity struct {
	// SessionID uniquely identifies this membership instance.
	SessionID string `json:"sessionId"`

	// UserName is the display name, unique within a room.
	UserName string `json:"userName"`

	// SpeakLanguage is the language this user speaks.
	SpeakLanguage string `json:"speakLanguage"`

	// HearLanguage is the language this user wants translations in.
	HearLanguage string `json:"hearLanguage"`
}

// Participant is one member of a room's live roster. Upserted by roster
// deltas and snapshots, keyed by UserName.
type Participant struct {
	UserName      string `json:"userName"`
	SpeakLanguage string `json:"speakLanguage"`
	HearLanguage  string `json:"hearLanguage"`
	IsRecording   bool   `json:"isRecording"`

	// LastSeenAt is maintained locally by the reconciler for staleness
	// eviction; it does not travel on the wire.
	LastSeenAt time.Time `json:"-"`
}

// Message is one transcript entry in a room's canonical log. Immutable once
// created: translations and audio references arrive as part of the same
// creation event, never as later patches.
type Message struct {
	Speaker         string `json:"speaker"`
	SpeakerLanguage string `json:"speakerLanguage"`
	Original        string `json:"original"`

	// Translations maps language code to translated text. Includes the
	// original under SpeakerLanguage.
	Translations map[string]string `json:"translations"`

	// AudioRefs maps language code to a playable audio reference.
	// A language with no synthesised voice is simply absent.
	AudioRefs map[string]string `json:"audioUrls"`

	// Timestamp is the creation time in Unix milliseconds. Together with
	// Speaker it forms the dedupe key.
	Timestamp int64 `json:"timestamp"`
}

// Key returns the stable dedupe key for this message. The same entry
// arriving twice (push plus poll) maps to the same key.
func (m Message) Key() MessageKey {
	return MessageKey{Speaker: m.Speaker, Timestamp: m.Timestamp}
}

// MessageKey is the comparable dedupe key of a [Message].
type MessageKey struct {
	Speaker   string
	Timestamp int64
}
