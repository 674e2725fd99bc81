package transport

import (
	"errors"
	"testing"
)

func TestParseEventTranscript(t *testing.T) {
	raw := []byte(`{
		"type": "transcript",
		"speaker": "Ana",
		"speakerLanguage": "es",
		"original": "Hola",
		"sourceLanguage": "es",
		"translation": "Hello",
		"audioUrl": "https://blobs/msg-1.mp3",
		"timestamp": 1700000000000
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	tr, ok := ev.(TranscriptEvent)
	if !ok {
		t.Fatalf("ParseEvent() returned %T, want TranscriptEvent", ev)
	}
	if tr.Speaker != "Ana" {
		t.Errorf("Speaker = %q, want %q", tr.Speaker, "Ana")
	}
	if tr.Translation != "Hello" {
		t.Errorf("Translation = %q, want %q", tr.Translation, "Hello")
	}
	if tr.Kind() != KindTranscript {
		t.Errorf("Kind() = %q, want %q", tr.Kind(), KindTranscript)
	}
}

func TestParseEventParticipants(t *testing.T) {
	raw := []byte(`{
		"type": "participants",
		"participants": [
			{"userName": "Ana", "speakLanguage": "es", "hearLanguage": "en", "isRecording": true},
			{"userName": "Bo", "speakLanguage": "en", "hearLanguage": "fr"}
		]
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	ps, ok := ev.(ParticipantsEvent)
	if !ok {
		t.Fatalf("ParseEvent() returned %T, want ParticipantsEvent", ev)
	}
	if len(ps.Participants) != 2 {
		t.Fatalf("got %d participants, want 2", len(ps.Participants))
	}
	if !ps.Participants[0].IsRecording {
		t.Error("Participants[0].IsRecording = false, want true")
	}
}

func TestParseEventNewMessage(t *testing.T) {
	raw := []byte(`{
		"type": "newMessage",
		"message": {
			"speaker": "Ana",
			"speakerLanguage": "es",
			"original": "Hola",
			"translations": {"es": "Hola", "en": "Hello"},
			"audioUrls": {"en": "https://blobs/m.mp3"},
			"timestamp": 1700000000000
		}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	nm, ok := ev.(NewMessageEvent)
	if !ok {
		t.Fatalf("ParseEvent() returned %T, want NewMessageEvent", ev)
	}
	if nm.Message.Translations["en"] != "Hello" {
		t.Errorf("Translations[en] = %q, want %q", nm.Message.Translations["en"], "Hello")
	}
	if nm.Message.AudioRefs["en"] != "https://blobs/m.mp3" {
		t.Errorf("AudioRefs[en] = %q", nm.Message.AudioRefs["en"])
	}
}

func TestParseEventChunkReceived(t *testing.T) {
	raw := []byte(`{"type": "chunkReceived", "chunkId": "abc", "seq": 7}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	cr, ok := ev.(ChunkReceivedEvent)
	if !ok {
		t.Fatalf("ParseEvent() returned %T, want ChunkReceivedEvent", ev)
	}
	if cr.Seq != 7 {
		t.Errorf("Seq = %d, want 7", cr.Seq)
	}
}

func TestParseEventErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"type": "transcript",`},
		{"unknown kind", `{"type": "dance"}`},
		{"missing kind", `{"speaker": "Ana"}`},
		{"not an object", `[1, 2, 3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.raw))
			if err == nil {
				t.Fatalf("ParseEvent(%q) = %v, want error", tt.raw, ev)
			}
		})
	}
}

func TestSendChunkNotOpen(t *testing.T) {
	c := New(Config{URL: "ws://localhost:1"})
	err := c.SendChunk(t.Context(), testChunk(0))
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SendChunk() error = %v, want ErrNotOpen", err)
	}
	if got := c.ChunksSent(); got != 0 {
		t.Errorf("ChunksSent() = %d, want 0", got)
	}
}
