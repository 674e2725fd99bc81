package transport

import (
	"encoding/json"
	"fmt"

	"github.com/polyglot-labs/polyglot/pkg/types"
)

// EventKind tags the closed set of server-pushed event types. Adding a kind
// means adding a struct below and a case to [ParseEvent] — a
// compile-time-visible change, not a stringly-typed branch.
type EventKind string

const (
	KindTranscript        EventKind = "transcript"
	KindParticipants      EventKind = "participants"
	KindNewMessage        EventKind = "newMessage"
	KindParticipantUpdate EventKind = "participantUpdate"
	KindAllMessages       EventKind = "allMessages"
	KindChunkReceived     EventKind = "chunkReceived"
)

// Event is one tagged inbound message from the streaming endpoint.
type Event interface {
	Kind() EventKind
}

// TranscriptEvent is a live transcript targeted at this user: the server has
// already selected the translation and audio for the hear-language given in
// the handshake.
type TranscriptEvent struct {
	Speaker         string `json:"speaker"`
	SpeakerLanguage string `json:"speakerLanguage"`
	Original        string `json:"original"`
	SourceLanguage  string `json:"sourceLanguage"`
	Translation     string `json:"translation"`
	AudioURL        string `json:"audioUrl"`
	Timestamp       int64  `json:"timestamp"`
}

func (TranscriptEvent) Kind() EventKind { return KindTranscript }

// ParticipantsEvent replaces the full roster.
type ParticipantsEvent struct {
	Participants []types.Participant `json:"participants"`
}

func (ParticipantsEvent) Kind() EventKind { return KindParticipants }

// NewMessageEvent appends one message, carrying the full translation and
// audio maps.
type NewMessageEvent struct {
	Message types.Message `json:"message"`
}

func (NewMessageEvent) Kind() EventKind { return KindNewMessage }

// ParticipantUpdateEvent upserts a single roster entry.
type ParticipantUpdateEvent struct {
	Participant types.Participant `json:"participant"`
}

func (ParticipantUpdateEvent) Kind() EventKind { return KindParticipantUpdate }

// AllMessagesEvent replaces the message log wholesale (sent on (re)join or
// explicit refresh).
type AllMessagesEvent struct {
	Messages []types.Message `json:"messages"`
}

func (AllMessagesEvent) Kind() EventKind { return KindAllMessages }

// ChunkReceivedEvent acknowledges an uploaded chunk. Observational only —
// used for diagnostics, not required for correctness.
type ChunkReceivedEvent struct {
	ChunkID string `json:"chunkId"`
	Seq     uint64 `json:"seq"`
}

func (ChunkReceivedEvent) Kind() EventKind { return KindChunkReceived }

// ParseEvent decodes a raw inbound frame into its tagged event. Unknown or
// malformed payloads return an error; callers log and drop them without
// disturbing the channel.
func ParseEvent(data []byte) (Event, error) {
	var env struct {
		Type EventKind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("transport: malformed event: %w", err)
	}

	switch env.Type {
	case KindTranscript:
		var ev TranscriptEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("transport: decode transcript: %w", err)
		}
		return ev, nil
	case KindParticipants:
		var ev ParticipantsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("transport: decode participants: %w", err)
		}
		return ev, nil
	case KindNewMessage:
		var ev NewMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("transport: decode newMessage: %w", err)
		}
		return ev, nil
	case KindParticipantUpdate:
		var ev ParticipantUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("transport: decode participantUpdate: %w", err)
		}
		return ev, nil
	case KindAllMessages:
		var ev AllMessagesEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("transport: decode allMessages: %w", err)
		}
		return ev, nil
	case KindChunkReceived:
		var ev ChunkReceivedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("transport: decode chunkReceived: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("transport: unknown event kind %q", env.Type)
	}
}
