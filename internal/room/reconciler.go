// Package room implements the session core of a Polyglot room membership:
// the state reconciler that folds inbound events into a canonical local view,
// the playback scheduler that voices incoming translations, and the
// controller that ties capture, transport, and state into one lifecycle.
package room

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/polyglot-labs/polyglot/internal/transport"
	"github.com/polyglot-labs/polyglot/pkg/types"
)

// DefaultStaleAfter is how long a participant may go without a presence
// signal before the reconciler evicts them, expressed as a multiple of the
// heartbeat period elsewhere in the system.
const DefaultStaleAfter = 15 * time.Second

// Reconciler folds inbound streaming events into the canonical local room
// state: a roster keyed by user name and an append-only, deduplicated
// message log. It is the single writer of that state; readers get copies.
//
// Events may arrive from both the push channel and the poll fallback, in any
// interleaving. The reconciler makes replay harmless: a message that arrives
// twice is appended once, a roster entry seen again is refreshed in place.
type Reconciler struct {
	staleAfter time.Duration
	now        func() time.Time

	// onNewMessage fires once per message the first time it enters the log.
	// Duplicates never re-fire it.
	onNewMessage func(types.Message)

	mu       sync.Mutex
	roster   map[string]types.Participant
	messages []types.Message
	seen     map[types.MessageKey]struct{}

	// primed distinguishes live updates from the initial restore: the first
	// message activity after a reset is history, not news.
	primed bool
}

// ReconcilerOption configures a [Reconciler].
type ReconcilerOption func(*Reconciler)

// WithStaleAfter sets the staleness threshold for roster eviction.
func WithStaleAfter(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithClock overrides the time source. Tests use this to drive eviction
// deterministically.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithNewMessageHook registers a callback fired exactly once per unique
// message on first entry into the log. The playback scheduler hangs off this.
func WithNewMessageHook(fn func(types.Message)) ReconcilerOption {
	return func(r *Reconciler) { r.onNewMessage = fn }
}

// NewReconciler creates an empty reconciler.
func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		roster:     make(map[string]types.Participant),
		seen:       make(map[types.MessageKey]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply folds one inbound event into the state. The switch over event types
// is exhaustive: an event kind the reconciler does not know is a programming
// error in the transport layer, logged and ignored.
func (r *Reconciler) Apply(ev transport.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev := ev.(type) {
	case transport.ParticipantsEvent:
		r.replaceRosterLocked(ev.Participants)
	case transport.ParticipantUpdateEvent:
		r.upsertParticipantLocked(ev.Participant)
	case transport.NewMessageEvent:
		r.appendMessageLocked(ev.Message)
	case transport.AllMessagesEvent:
		r.replaceMessagesLocked(ev.Messages)
	case transport.TranscriptEvent:
		// Targeted live transcript: fold it into the canonical log in the
		// same shape a full message would take.
		r.appendMessageLocked(types.Message{
			Speaker:         ev.Speaker,
			SpeakerLanguage: ev.SpeakerLanguage,
			Original:        ev.Original,
			Translations:    transcriptTranslations(ev),
			AudioRefs:       transcriptAudioRefs(ev),
			Timestamp:       ev.Timestamp,
		})
	case transport.ChunkReceivedEvent:
		// Observational acknowledgement, no state to fold.
		slog.Debug("chunk acknowledged", "chunk_id", ev.ChunkID, "seq", ev.Seq)
	default:
		slog.Warn("reconciler: unhandled event kind", "kind", ev.Kind())
	}
}

func transcriptTranslations(ev transport.TranscriptEvent) map[string]string {
	t := make(map[string]string, 2)
	if ev.SpeakerLanguage != "" {
		t[ev.SpeakerLanguage] = ev.Original
	}
	if ev.Translation != "" && ev.SourceLanguage != ev.SpeakerLanguage {
		// The server resolved this user's hear-language; key it by the
		// source it reported.
		t[ev.SourceLanguage] = ev.Translation
	}
	return t
}

func transcriptAudioRefs(ev transport.TranscriptEvent) map[string]string {
	if ev.AudioURL == "" {
		return nil
	}
	return map[string]string{ev.SourceLanguage: ev.AudioURL}
}

func (r *Reconciler) replaceRosterLocked(ps []types.Participant) {
	now := r.now()
	roster := make(map[string]types.Participant, len(ps))
	for _, p := range ps {
		p.LastSeenAt = now
		roster[p.UserName] = p
	}
	r.roster = roster
}

func (r *Reconciler) upsertParticipantLocked(p types.Participant) {
	p.LastSeenAt = r.now()
	r.roster[p.UserName] = p
}

func (r *Reconciler) appendMessageLocked(m types.Message) {
	key := m.Key()
	if _, dup := r.seen[key]; dup {
		return
	}
	r.seen[key] = struct{}{}
	r.messages = append(r.messages, m)
	r.primed = true
	if r.onNewMessage != nil {
		r.onNewMessage(m)
	}
}

// replaceMessagesLocked swaps the log wholesale for an authoritative
// snapshot. The dedupe set is rebuilt so later pushes of snapshot members
// stay duplicates.
//
// Snapshots are the only delivery path while the poll fallback is active, so
// a snapshot entry whose key was never seen before counts as a new message:
// the hook fires once, for the newest such entry. The first snapshot after a
// reset is the join-time restore and never fires — history is not news.
func (r *Reconciler) replaceMessagesLocked(ms []types.Message) {
	prevSeen := r.seen
	primed := r.primed
	r.primed = true

	r.messages = slices.Clone(ms)
	r.seen = make(map[types.MessageKey]struct{}, len(ms))

	var newest *types.Message
	for i := range r.messages {
		key := r.messages[i].Key()
		r.seen[key] = struct{}{}
		if _, known := prevSeen[key]; !known {
			newest = &r.messages[i]
		}
	}

	if primed && newest != nil && r.onNewMessage != nil {
		r.onNewMessage(*newest)
	}
}

// Sweep evicts roster entries whose last presence signal is older than the
// staleness threshold. Returns the evicted user names. The controller calls
// this on a timer.
func (r *Reconciler) Sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.staleAfter)
	var evicted []string
	for name, p := range r.roster {
		if p.LastSeenAt.Before(cutoff) {
			delete(r.roster, name)
			evicted = append(evicted, name)
		}
	}
	if len(evicted) > 0 {
		slog.Info("evicted stale participants", "users", evicted)
	}
	return evicted
}

// Roster returns a copy of the current roster, sorted by user name.
func (r *Reconciler) Roster() []types.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Participant, 0, len(r.roster))
	for _, p := range r.roster {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b types.Participant) int {
		if a.UserName < b.UserName {
			return -1
		}
		if a.UserName > b.UserName {
			return 1
		}
		return 0
	})
	return out
}

// Participant looks up one roster entry by user name.
func (r *Reconciler) Participant(userName string) (types.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.roster[userName]
	return p, ok
}

// MessagesOldestFirst returns a copy of the log in arrival order.
func (r *Reconciler) MessagesOldestFirst() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// MessagesNewestFirst returns a copy of the log newest-first, the order a
// transcript view renders in.
func (r *Reconciler) MessagesNewestFirst() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.messages)
	slices.Reverse(out)
	return out
}

// Reset clears all state. Called on leave so a later join starts clean.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster = make(map[string]types.Participant)
	r.messages = nil
	r.seen = make(map[types.MessageKey]struct{})
	r.primed = false
}
