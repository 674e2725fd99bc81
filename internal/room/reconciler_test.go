package room

import (
	"testing"
	"time"

	"github.com/polyglot-labs/polyglot/internal/transport"
	"github.com/polyglot-labs/polyglot/pkg/types"
)

func msg(speaker string, ts int64, original string) types.Message {
	return types.Message{
		Speaker:         speaker,
		SpeakerLanguage: "es",
		Original:        original,
		Translations:    map[string]string{"es": original},
		Timestamp:       ts,
	}
}

func TestAppendDedupesAcrossPushAndPoll(t *testing.T) {
	var fired []types.MessageKey
	r := NewReconciler(WithNewMessageHook(func(m types.Message) {
		fired = append(fired, m.Key())
	}))

	m := msg("Ana", 100, "Hola")
	r.Apply(transport.NewMessageEvent{Message: m})
	r.Apply(transport.NewMessageEvent{Message: m}) // poll replay

	if got := r.MessagesOldestFirst(); len(got) != 1 {
		t.Fatalf("log has %d messages, want 1", len(got))
	}
	if len(fired) != 1 {
		t.Fatalf("new-message hook fired %d times, want 1", len(fired))
	}
}

func TestAllMessagesReplacesWholesale(t *testing.T) {
	r := NewReconciler()
	r.Apply(transport.NewMessageEvent{Message: msg("Ana", 100, "Hola")})
	r.Apply(transport.NewMessageEvent{Message: msg("Bo", 200, "Hi")})

	snapshot := []types.Message{msg("Bo", 200, "Hi"), msg("Cy", 300, "Salut")}
	r.Apply(transport.AllMessagesEvent{Messages: snapshot})

	got := r.MessagesOldestFirst()
	if len(got) != 2 {
		t.Fatalf("log has %d messages after snapshot, want 2", len(got))
	}
	if got[0].Speaker != "Bo" || got[1].Speaker != "Cy" {
		t.Errorf("snapshot order = %q, %q", got[0].Speaker, got[1].Speaker)
	}

	// Snapshot members pushed again stay duplicates.
	r.Apply(transport.NewMessageEvent{Message: msg("Cy", 300, "Salut")})
	if got := r.MessagesOldestFirst(); len(got) != 2 {
		t.Errorf("log has %d messages after replay, want 2", len(got))
	}
}

func TestSnapshotFiresHookForNewEntries(t *testing.T) {
	var fired []types.Message
	r := NewReconciler(WithNewMessageHook(func(m types.Message) {
		fired = append(fired, m)
	}))

	// The restore snapshot is history, never news.
	r.Apply(transport.AllMessagesEvent{Messages: []types.Message{msg("Ana", 100, "Hola")}})
	if len(fired) != 0 {
		t.Fatalf("hook fired %d times on restore snapshot, want 0", len(fired))
	}

	// A later snapshot carrying unseen entries fires once, for the newest.
	r.Apply(transport.AllMessagesEvent{Messages: []types.Message{
		msg("Ana", 100, "Hola"),
		msg("Bo", 200, "Hi"),
		msg("Cy", 300, "Salut"),
	}})
	if len(fired) != 1 {
		t.Fatalf("hook fired %d times, want 1", len(fired))
	}
	if fired[0].Original != "Salut" {
		t.Errorf("hook got %q, want the newest entry %q", fired[0].Original, "Salut")
	}

	// Replaying the same snapshot is a duplicate, not news.
	r.Apply(transport.AllMessagesEvent{Messages: []types.Message{
		msg("Ana", 100, "Hola"),
		msg("Bo", 200, "Hi"),
		msg("Cy", 300, "Salut"),
	}})
	if len(fired) != 1 {
		t.Errorf("hook fired on snapshot replay, total %d", len(fired))
	}

	// After a reset the first snapshot is a restore again.
	r.Reset()
	r.Apply(transport.AllMessagesEvent{Messages: []types.Message{msg("Dee", 400, "Hei")}})
	if len(fired) != 1 {
		t.Errorf("hook fired on post-reset restore, total %d", len(fired))
	}
}

func TestMessagesNewestFirst(t *testing.T) {
	r := NewReconciler()
	r.Apply(transport.NewMessageEvent{Message: msg("Ana", 100, "uno")})
	r.Apply(transport.NewMessageEvent{Message: msg("Ana", 200, "dos")})
	r.Apply(transport.NewMessageEvent{Message: msg("Ana", 300, "tres")})

	got := r.MessagesNewestFirst()
	if len(got) != 3 || got[0].Original != "tres" || got[2].Original != "uno" {
		t.Errorf("newest-first order wrong: %+v", got)
	}
	// Oldest-first view is untouched.
	if old := r.MessagesOldestFirst(); old[0].Original != "uno" {
		t.Errorf("oldest-first order wrong: %+v", old)
	}
}

func TestTranscriptFoldsIntoLog(t *testing.T) {
	r := NewReconciler()
	r.Apply(transport.TranscriptEvent{
		Speaker:         "Ana",
		SpeakerLanguage: "es",
		Original:        "Hola",
		SourceLanguage:  "en",
		Translation:     "Hello",
		AudioURL:        "https://blobs/m.mp3",
		Timestamp:       100,
	})

	got := r.MessagesOldestFirst()
	if len(got) != 1 {
		t.Fatalf("log has %d messages, want 1", len(got))
	}
	m := got[0]
	if m.Translations["es"] != "Hola" {
		t.Errorf("Translations[es] = %q, want %q", m.Translations["es"], "Hola")
	}
	if m.Translations["en"] != "Hello" {
		t.Errorf("Translations[en] = %q, want %q", m.Translations["en"], "Hello")
	}
	if m.AudioRefs["en"] != "https://blobs/m.mp3" {
		t.Errorf("AudioRefs[en] = %q", m.AudioRefs["en"])
	}
}

func TestRosterUpsertByUserName(t *testing.T) {
	r := NewReconciler()
	r.Apply(transport.ParticipantUpdateEvent{Participant: types.Participant{
		UserName: "Ana", SpeakLanguage: "es", HearLanguage: "en",
	}})
	r.Apply(transport.ParticipantUpdateEvent{Participant: types.Participant{
		UserName: "Ana", SpeakLanguage: "es", HearLanguage: "fr", IsRecording: true,
	}})

	roster := r.Roster()
	if len(roster) != 1 {
		t.Fatalf("roster has %d entries, want 1", len(roster))
	}
	if roster[0].HearLanguage != "fr" || !roster[0].IsRecording {
		t.Errorf("upsert did not replace entry: %+v", roster[0])
	}
}

func TestRosterSnapshotReplaces(t *testing.T) {
	r := NewReconciler()
	r.Apply(transport.ParticipantUpdateEvent{Participant: types.Participant{UserName: "Gone"}})
	r.Apply(transport.ParticipantsEvent{Participants: []types.Participant{
		{UserName: "Ana"}, {UserName: "Bo"},
	}})

	roster := r.Roster()
	if len(roster) != 2 {
		t.Fatalf("roster has %d entries, want 2", len(roster))
	}
	if _, ok := r.Participant("Gone"); ok {
		t.Error("snapshot did not evict absent participant")
	}
	if roster[0].UserName != "Ana" || roster[1].UserName != "Bo" {
		t.Errorf("roster not sorted: %+v", roster)
	}
}

func TestSweepEvictsStaleOnly(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewReconciler(
		WithStaleAfter(15*time.Second),
		WithClock(func() time.Time { return now }),
	)

	r.Apply(transport.ParticipantUpdateEvent{Participant: types.Participant{UserName: "Old"}})
	now = now.Add(10 * time.Second)
	r.Apply(transport.ParticipantUpdateEvent{Participant: types.Participant{UserName: "Fresh"}})

	now = now.Add(6 * time.Second) // Old is 16s stale, Fresh 6s
	evicted := r.Sweep()
	if len(evicted) != 1 || evicted[0] != "Old" {
		t.Fatalf("Sweep() = %v, want [Old]", evicted)
	}
	if _, ok := r.Participant("Fresh"); !ok {
		t.Error("Sweep evicted a fresh participant")
	}
}

func TestHeartbeatRefreshesStaleness(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewReconciler(
		WithStaleAfter(15*time.Second),
		WithClock(func() time.Time { return now }),
	)

	p := types.Participant{UserName: "Ana"}
	r.Apply(transport.ParticipantUpdateEvent{Participant: p})
	now = now.Add(14 * time.Second)
	r.Apply(transport.ParticipantUpdateEvent{Participant: p}) // presence refresh
	now = now.Add(14 * time.Second)

	if evicted := r.Sweep(); len(evicted) != 0 {
		t.Errorf("Sweep() = %v, want none (presence was refreshed)", evicted)
	}
}

func TestResetClearsEverything(t *testing.T) {
	r := NewReconciler()
	r.Apply(transport.ParticipantUpdateEvent{Participant: types.Participant{UserName: "Ana"}})
	r.Apply(transport.NewMessageEvent{Message: msg("Ana", 100, "Hola")})

	r.Reset()

	if got := r.Roster(); len(got) != 0 {
		t.Errorf("roster not cleared: %+v", got)
	}
	if got := r.MessagesOldestFirst(); len(got) != 0 {
		t.Errorf("log not cleared: %+v", got)
	}
	// Dedupe memory is gone too: the same message is new again.
	r.Apply(transport.NewMessageEvent{Message: msg("Ana", 100, "Hola")})
	if got := r.MessagesOldestFirst(); len(got) != 1 {
		t.Errorf("message not re-appendable after reset, log = %+v", got)
	}
}
