package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyglot-labs/polyglot/internal/observe"
	"github.com/polyglot-labs/polyglot/internal/store"
	"github.com/polyglot-labs/polyglot/internal/translate"
	"github.com/polyglot-labs/polyglot/internal/transport"
	"github.com/polyglot-labs/polyglot/pkg/audio"
	"github.com/polyglot-labs/polyglot/pkg/audio/capture"
	"github.com/polyglot-labs/polyglot/pkg/audio/chunker"
	"github.com/polyglot-labs/polyglot/pkg/types"
)

// flushGrace bounds how long a capture stop waits for the pipeline to drain
// and emit its final chunk. Variable so tests can shorten the wait.
var flushGrace = 5 * time.Second

// ErrAlreadyJoined is returned by Join on a controller that is already in a
// room.
var ErrAlreadyJoined = errors.New("room: already joined")

// RoomStore persists and restores room state.
type RoomStore interface {
	Get(ctx context.Context, roomID string) (store.RoomState, error)
	Save(ctx context.Context, roomID string, state store.RoomState) error
	Clear(ctx context.Context, roomID string) error
	Heartbeat(ctx context.Context, roomID, userName string, isRecording bool) error
}

// BlobStore uploads container chunks.
type BlobStore interface {
	Upload(ctx context.Context, ch chunker.Chunk) (string, error)
}

// Translator resolves an uploaded utterance into its translations.
type Translator interface {
	Translate(ctx context.Context, req translate.Request) (translate.Result, error)
}

// Options configures a [Controller].
type Options struct {
	RoomID        string
	UserName      string
	SpeakLanguage string
	HearLanguage  string

	// StreamURL is the websocket streaming endpoint.
	StreamURL string

	HeartbeatPeriod time.Duration
	ReconnectDelay  time.Duration

	// PollInterval is the fallback poll period used while the streaming
	// channel is not open. Zero disables polling.
	PollInterval time.Duration

	// BlockSamples sizes the streaming-path PCM blocks.
	BlockSamples int

	// ContainerInterval and ContainerEncoding shape the upload-path chunks.
	ContainerInterval time.Duration
	ContainerEncoding chunker.Encoding

	// Player voices incoming translations. Nil disables autoplay.
	Player Player

	Capture    *capture.Manager
	Rooms      RoomStore
	Blobs      BlobStore
	Translator Translator

	// Metrics defaults to the process-wide instance.
	Metrics *observe.Metrics
}

// streamAudioAction announces an uploaded container chunk on the channel so
// the backend picks it up for streaming translation.
type streamAudioAction struct {
	Action   string `json:"action"`
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
	AudioURL string `json:"audioUrl"`
	ChunkID  string `json:"chunkId"`
	Seq      uint64 `json:"seq"`
	Final    bool   `json:"final"`
}

// Controller owns one room membership end to end: it connects the streaming
// channel, folds events through the reconciler, schedules playback, pumps
// captured audio through the chunkers, and keeps presence and persisted
// state current. All exported methods are safe for concurrent use.
type Controller struct {
	opts     Options
	identity types.Identity
	metrics  *observe.Metrics

	channel    *transport.Channel
	reconciler *Reconciler
	scheduler  *Scheduler

	mu         sync.Mutex
	joined     bool
	left       bool
	runCtx     context.Context
	loopCancel context.CancelFunc
	capturing  bool
	pumpDone   chan struct{}
	rosterSize int
}

// NewController assembles a controller from Options. A Controller is one
// membership lifecycle: Join once, Leave once. Rejoining a room means a new
// Controller with a fresh session ID.
func NewController(opts Options) *Controller {
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	c := &Controller{
		opts:    opts,
		metrics: m,
		identity: types.Identity{
			SessionID:     uuid.NewString(),
			UserName:      opts.UserName,
			SpeakLanguage: opts.SpeakLanguage,
			HearLanguage:  opts.HearLanguage,
		},
	}

	if opts.Player != nil {
		c.scheduler = NewScheduler(opts.Player, opts.HearLanguage, opts.UserName)
	}

	staleAfter := 3 * opts.HeartbeatPeriod
	recOpts := []ReconcilerOption{WithStaleAfter(staleAfter)}
	if c.scheduler != nil {
		recOpts = append(recOpts, WithNewMessageHook(c.scheduler.OnMessage))
	}
	c.reconciler = NewReconciler(recOpts...)

	c.channel = transport.New(transport.Config{
		URL:             opts.StreamURL,
		RoomID:          opts.RoomID,
		Identity:        c.identity,
		OnEvent:         c.onEvent,
		ReconnectDelay:  opts.ReconnectDelay,
		HeartbeatPeriod: opts.HeartbeatPeriod,
		Metrics:         m,
	})

	if opts.Capture != nil {
		opts.Capture.OnEnded = c.onCaptureEnded
	}
	return c
}

// Identity returns the membership identity presented in the handshake.
func (c *Controller) Identity() types.Identity { return c.identity }

// Roster returns the current roster view.
func (c *Controller) Roster() []types.Participant { return c.reconciler.Roster() }

// Messages returns the transcript newest-first, the order a room view
// renders in.
func (c *Controller) Messages() []types.Message { return c.reconciler.MessagesNewestFirst() }

// ChannelState reports the streaming connection state.
func (c *Controller) ChannelState() transport.State { return c.channel.State() }

// Join restores persisted room state, opens the streaming channel, and
// starts the background timers (presence heartbeat, staleness sweep, poll
// fallback). Joining an already-joined or already-left controller is an
// error.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	if c.left {
		c.mu.Unlock()
		return errors.New("room: controller is single-use, create a new one to rejoin")
	}
	c.joined = true
	c.mu.Unlock()

	c.reconciler.Reset()

	// Persisted state first, so the view is populated even if the socket
	// takes a while (or fails and waits out the reconnect delay).
	if state, err := c.opts.Rooms.Get(ctx, c.opts.RoomID); err != nil {
		slog.Warn("restore room state failed", "room_id", c.opts.RoomID, "err", err)
	} else {
		c.reconciler.Apply(transport.AllMessagesEvent{Messages: state.Messages})
		c.reconciler.Apply(transport.ParticipantsEvent{Participants: state.Participants})
		c.updateRosterGauge(ctx)
	}

	if err := c.channel.Connect(ctx); err != nil {
		// The poll fallback keeps the membership usable; the caller may
		// retry Connect, so the join itself does not fail.
		slog.Warn("streaming connect failed, continuing on poll fallback",
			"room_id", c.opts.RoomID, "err", err)
	}
	c.channel.StartHeartbeat()

	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.runCtx = loopCtx
	c.loopCancel = cancel
	c.mu.Unlock()
	go c.backgroundLoop(loopCtx)

	c.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("joined room",
		"room_id", c.opts.RoomID,
		"user", c.opts.UserName,
		"speak", c.opts.SpeakLanguage,
		"hear", c.opts.HearLanguage,
	)
	return nil
}

// Leave tears the membership down: capture stops with a bounded-grace final
// flush, the current state is persisted, the channel closes deliberately
// (which never triggers reconnection), and local state is cleared so a later
// Join starts clean. Idempotent.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil
	}
	c.joined = false
	c.left = true
	cancel := c.loopCancel
	c.loopCancel = nil
	c.mu.Unlock()

	c.StopCapture(ctx)
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if cancel != nil {
		cancel()
	}
	c.channel.StopHeartbeat()

	state := store.RoomState{
		Messages:     c.reconciler.MessagesOldestFirst(),
		Participants: c.reconciler.Roster(),
	}
	if err := c.opts.Rooms.Save(ctx, c.opts.RoomID, state); err != nil {
		slog.Warn("persist room state on leave failed", "room_id", c.opts.RoomID, "err", err)
	}

	if err := c.channel.Close(); err != nil {
		slog.Warn("channel close failed", "err", err)
	}
	c.reconciler.Reset()

	c.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("left room", "room_id", c.opts.RoomID, "user", c.opts.UserName)
	return nil
}

// StartCapture acquires an audio source and starts the capture pipeline:
// frames are converted to the pipeline format, framed into streaming blocks
// for the channel, and accumulated into container chunks for upload.
// Starting while already capturing is a no-op.
func (c *Controller) StartCapture(ctx context.Context, kind capture.SourceKind) error {
	// Claim the capturing slot before touching the device so a concurrent
	// StartCapture sees the no-op path, never ErrCaptureActive.
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return nil
	}
	c.capturing = true
	c.mu.Unlock()

	rollback := func() {
		c.mu.Lock()
		c.capturing = false
		c.mu.Unlock()
	}

	if c.opts.Capture == nil {
		rollback()
		return capture.ErrDeviceUnavailable
	}
	sess, err := c.opts.Capture.Acquire(ctx, kind)
	if err != nil {
		rollback()
		return err
	}

	containerEnc := c.opts.ContainerEncoding
	if containerEnc == "" {
		containerEnc = chunker.EncodingOpus
	}
	container, err := chunker.NewContainerChunker(containerEnc,
		chunker.WithInterval(c.opts.ContainerInterval))
	if err != nil {
		c.opts.Capture.Release()
		rollback()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.pumpDone = done
	c.mu.Unlock()

	c.channel.SetRecording(true)
	go c.pumpFrames(sess, container, done)

	slog.Info("capture started", "kind", kind, "room_id", c.opts.RoomID)
	return nil
}

// StopCapture releases the capture source and waits, up to a bounded grace
// period, for the pipeline to drain and emit its final chunks. Stopping
// while not capturing is a no-op.
func (c *Controller) StopCapture(ctx context.Context) {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return
	}
	c.capturing = false
	done := c.pumpDone
	c.pumpDone = nil
	c.mu.Unlock()

	c.channel.SetRecording(false)
	c.opts.Capture.Release()

	if done != nil {
		select {
		case <-done:
		case <-time.After(flushGrace):
			slog.Warn("capture pipeline did not drain within grace period")
		case <-ctx.Done():
		}
	}
	slog.Info("capture stopped", "room_id", c.opts.RoomID)
}

// ToggleCapture starts capture when idle and stops it when live, so a single
// push-to-talk control can drive both transitions.
func (c *Controller) ToggleCapture(ctx context.Context, kind capture.SourceKind) error {
	c.mu.Lock()
	capturing := c.capturing
	c.mu.Unlock()
	if capturing {
		c.StopCapture(ctx)
		return nil
	}
	return c.StartCapture(ctx, kind)
}

// pumpFrames is the capture pipeline goroutine: one per capture session. It
// exits when the source's frame channel closes (caller release or
// device-side termination), flushing both chunkers on the way out.
func (c *Controller) pumpFrames(sess *capture.Session, container *chunker.ContainerChunker, done chan struct{}) {
	defer close(done)

	// The frame loop runs on the membership context: a capture session lives
	// as long as the room does.
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	conv := &audio.FormatConverter{Target: audio.PipelineFormat}
	pcm := chunker.NewPCMChunker(c.opts.BlockSamples)

	for frame := range sess.Frames() {
		frame = conv.Convert(frame)
		for _, ch := range pcm.Push(frame) {
			if err := c.channel.SendChunk(ctx, ch); err != nil && !errors.Is(err, transport.ErrNotOpen) {
				slog.Warn("stream chunk failed", "seq", ch.Seq, "err", err)
			}
		}
		cuts, err := container.Push(frame)
		if err != nil {
			slog.Error("container encode failed", "err", err)
			continue
		}
		for _, ch := range cuts {
			c.handleContainerChunk(ctx, ch)
		}
	}

	// The final flush must finish even though the stop that triggered it may
	// be tearing the membership down; it gets its own grace-bounded context.
	flushCtx, cancel := context.WithTimeout(context.Background(), flushGrace)
	defer cancel()

	if tail, ok := pcm.Flush(); ok {
		if err := c.channel.SendChunk(flushCtx, tail); err != nil && !errors.Is(err, transport.ErrNotOpen) {
			slog.Warn("final stream chunk failed", "seq", tail.Seq, "err", err)
		}
	}
	if tail, ok := container.Flush(); ok {
		c.handleContainerChunk(flushCtx, tail)
	}
}

// handleContainerChunk uploads one container chunk and routes it onward:
// through the channel when it is open, or through the one-shot translation
// path when it is not.
func (c *Controller) handleContainerChunk(ctx context.Context, ch chunker.Chunk) {
	ref, err := c.opts.Blobs.Upload(ctx, ch)
	if err != nil {
		slog.Error("container chunk upload failed", "chunk_id", ch.ID, "err", err)
		return
	}

	err = c.channel.SendAction(ctx, streamAudioAction{
		Action:   "streamAudio",
		RoomID:   c.opts.RoomID,
		UserName: c.opts.UserName,
		AudioURL: ref,
		ChunkID:  ch.ID,
		Seq:      ch.Seq,
		Final:    ch.Final,
	})
	if err == nil {
		return
	}
	if !errors.Is(err, transport.ErrNotOpen) {
		slog.Warn("streamAudio announce failed", "chunk_id", ch.ID, "err", err)
		return
	}

	// Channel down: resolve the utterance directly and fold the result into
	// local and persisted state.
	if c.opts.Translator == nil {
		return
	}
	res, err := c.opts.Translator.Translate(ctx, translate.Request{
		AudioRef:        ref,
		SourceLanguage:  c.opts.SpeakLanguage,
		TargetLanguages: c.targetLanguages(),
		Speaker:         c.opts.UserName,
	})
	if err != nil {
		slog.Error("one-shot translation failed", "chunk_id", ch.ID, "err", err)
		return
	}

	msg := types.Message{
		Speaker:         c.opts.UserName,
		SpeakerLanguage: c.opts.SpeakLanguage,
		Original:        res.Original,
		Translations:    res.Translations,
		AudioRefs:       res.AudioRefs,
		Timestamp:       res.Timestamp,
	}
	c.reconciler.Apply(transport.NewMessageEvent{Message: msg})
	state := store.RoomState{
		Messages:     c.reconciler.MessagesOldestFirst(),
		Participants: c.reconciler.Roster(),
	}
	if err := c.opts.Rooms.Save(ctx, c.opts.RoomID, state); err != nil {
		slog.Warn("persist translated message failed", "err", err)
	}
}

// ClearHistory wipes the room's persisted state and resets the local view.
// The next snapshot from the backend (or an empty poll round) confirms the
// wipe; other participants converge through their own polls.
func (c *Controller) ClearHistory(ctx context.Context) error {
	if err := c.opts.Rooms.Clear(ctx, c.opts.RoomID); err != nil {
		return err
	}
	c.reconciler.Reset()
	c.updateRosterGauge(ctx)
	slog.Info("room history cleared", "room_id", c.opts.RoomID)
	return nil
}

// targetLanguages collects the hear-languages currently present in the room,
// always including this user's own.
func (c *Controller) targetLanguages() []string {
	seen := map[string]bool{c.opts.HearLanguage: true}
	out := []string{c.opts.HearLanguage}
	for _, p := range c.reconciler.Roster() {
		if p.HearLanguage != "" && !seen[p.HearLanguage] {
			seen[p.HearLanguage] = true
			out = append(out, p.HearLanguage)
		}
	}
	return out
}

// onEvent is the channel's dispatch callback.
func (c *Controller) onEvent(ev transport.Event) {
	c.reconciler.Apply(ev)
	c.updateRosterGauge(context.Background())
}

// onCaptureEnded reacts to device-side termination (unplugged microphone,
// share revoked): recording state is corrected without caller involvement.
func (c *Controller) onCaptureEnded(sess *capture.Session) {
	slog.Info("capture ended by device", "kind", sess.Kind)
	c.mu.Lock()
	c.capturing = false
	c.pumpDone = nil
	c.mu.Unlock()
	c.channel.SetRecording(false)
}

// backgroundLoop runs the membership's timers: the roster staleness sweep
// and the poll fallback that keeps state flowing while the channel is down.
func (c *Controller) backgroundLoop(ctx context.Context) {
	sweepPeriod := c.opts.HeartbeatPeriod
	if sweepPeriod <= 0 {
		sweepPeriod = transport.DefaultHeartbeatPeriod
	}
	sweep := time.NewTicker(sweepPeriod)
	defer sweep.Stop()

	pollPeriod := c.opts.PollInterval
	var poll <-chan time.Time
	if pollPeriod > 0 {
		t := time.NewTicker(pollPeriod)
		defer t.Stop()
		poll = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			c.reconciler.Sweep()
			c.updateRosterGauge(ctx)
		case <-poll:
			if c.channel.State() == transport.StateOpen {
				continue
			}
			c.pollOnce(ctx)
		}
	}
}

// pollOnce is one fallback round: refresh state from the store and keep
// presence alive out of band.
func (c *Controller) pollOnce(ctx context.Context) {
	state, err := c.opts.Rooms.Get(ctx, c.opts.RoomID)
	if err != nil {
		slog.Warn("poll fallback fetch failed", "room_id", c.opts.RoomID, "err", err)
		return
	}
	c.reconciler.Apply(transport.AllMessagesEvent{Messages: state.Messages})
	c.reconciler.Apply(transport.ParticipantsEvent{Participants: state.Participants})
	c.updateRosterGauge(ctx)

	c.mu.Lock()
	recording := c.capturing
	c.mu.Unlock()
	if err := c.opts.Rooms.Heartbeat(ctx, c.opts.RoomID, c.opts.UserName, recording); err != nil {
		slog.Warn("poll fallback heartbeat failed", "room_id", c.opts.RoomID, "err", err)
	}
}

// updateRosterGauge moves the participants gauge to the current roster size.
func (c *Controller) updateRosterGauge(ctx context.Context) {
	size := len(c.reconciler.Roster())
	c.mu.Lock()
	delta := int64(size - c.rosterSize)
	c.rosterSize = size
	c.mu.Unlock()
	if delta != 0 {
		c.metrics.ActiveParticipants.Add(ctx, delta)
	}
}
