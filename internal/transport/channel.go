// Package transport owns the persistent bidirectional connection to the
// streaming endpoint: connect/reconnect with a fixed backoff, the join
// handshake, heartbeat presence signaling, and dispatch of tagged inbound
// events.
//
// One Channel exists per room membership. Each reconnect re-creates the
// underlying socket; the prior socket is unconditionally closed before a new
// one is opened, so two live sockets for the same membership cannot exist.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/polyglot-labs/polyglot/internal/observe"
	"github.com/polyglot-labs/polyglot/pkg/audio/chunker"
	"github.com/polyglot-labs/polyglot/pkg/types"
)

// ErrNotOpen is returned by SendChunk and SendAction when the channel is not
// open. Chunks are time-sensitive: they are dropped with a warning, never
// queued for later delivery.
var ErrNotOpen = errors.New("transport: channel is not open")

// State is the connection state of a [Channel].
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultReconnectDelay is the fixed backoff before the single reconnect
// attempt after an abnormal close.
const DefaultReconnectDelay = 5 * time.Second

// DefaultHeartbeatPeriod is the presence-update interval.
const DefaultHeartbeatPeriod = 5 * time.Second

// Config configures a [Channel].
type Config struct {
	// URL is the websocket streaming endpoint.
	URL string

	// RoomID scopes this membership.
	RoomID string

	// Identity is sent in the join handshake.
	Identity types.Identity

	// OnEvent receives every parsed inbound event. Called from the read
	// goroutine; must not block for extended periods.
	OnEvent func(Event)

	// OnStateChange is invoked on every state transition. May be nil.
	OnStateChange func(State)

	// ReconnectDelay overrides [DefaultReconnectDelay] when positive.
	ReconnectDelay time.Duration

	// HeartbeatPeriod overrides [DefaultHeartbeatPeriod] when positive.
	HeartbeatPeriod time.Duration

	// Metrics records transport instrumentation. Nil selects the
	// process-wide default.
	Metrics *observe.Metrics
}

// handshake is the first client frame: it identifies the room, the user, and
// both language preferences. This is the explicit-handshake profile; the
// channel never relies on connection establishment alone.
type handshake struct {
	SessionID     string `json:"sessionId"`
	RoomID        string `json:"roomId"`
	UserName      string `json:"userName"`
	SpeakLanguage string `json:"speakLanguage"`
	HearLanguage  string `json:"hearLanguage"`
}

// heartbeatMsg is the periodic presence update carrying recording status.
type heartbeatMsg struct {
	Action      string `json:"action"`
	RoomID      string `json:"roomId"`
	UserName    string `json:"userName"`
	IsRecording bool   `json:"isRecording"`
}

// Channel is a persistent connection to the streaming endpoint. All exported
// methods are safe for concurrent use.
type Channel struct {
	cfg     Config
	delay   time.Duration
	metrics *observe.Metrics

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	connecting     bool
	closed         bool
	lifecycleCtx   context.Context
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}

	chunksSent atomic.Uint64
	recording  atomic.Bool
}

// New creates a Channel. Call [Channel.Connect] to open it.
func New(cfg Config) *Channel {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Channel{
		cfg:     cfg,
		delay:   delay,
		metrics: m,
		state:   StateIdle,
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChunksSent returns the monotonic count of chunks written since creation.
func (c *Channel) ChunksSent() uint64 { return c.chunksSent.Load() }

// SetRecording sets the recording status carried in heartbeats.
func (c *Channel) SetRecording(on bool) { c.recording.Store(on) }

// Connect opens the socket and sends the join handshake. If a connection
// attempt is already in flight the call is a no-op — duplicate concurrent
// attempts are rejected, not queued. Any existing non-closed socket is
// forcibly closed before the new one is dialed.
//
// ctx bounds the whole membership: it is retained for reconnects and the
// read loop.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("transport: channel is closed")
	}
	if c.connecting {
		c.mu.Unlock()
		slog.Debug("connect ignored: attempt already in flight", "room_id", c.cfg.RoomID)
		return nil
	}
	c.connecting = true
	c.lifecycleCtx = ctx
	old := c.conn
	c.conn = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	// Never two live sockets for one membership.
	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "superseded")
	}

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return fmt.Errorf("transport: dial %s: %w", c.cfg.URL, err)
	}

	hs, err := json.Marshal(handshake{
		SessionID:     c.cfg.Identity.SessionID,
		RoomID:        c.cfg.RoomID,
		UserName:      c.cfg.Identity.UserName,
		SpeakLanguage: c.cfg.Identity.SpeakLanguage,
		HearLanguage:  c.cfg.Identity.HearLanguage,
	})
	if err == nil {
		err = conn.Write(ctx, websocket.MessageText, hs)
	}
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "handshake failed")
		c.mu.Lock()
		c.connecting = false
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return fmt.Errorf("transport: handshake: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		// Torn down while dialing.
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client leaving")
		return errors.New("transport: channel is closed")
	}
	c.conn = conn
	c.connecting = false
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	slog.Info("streaming channel open",
		"room_id", c.cfg.RoomID,
		"user", c.cfg.Identity.UserName,
	)

	go c.readLoop(ctx, conn)
	return nil
}

// SendChunk writes an audio chunk as a binary frame. When the channel is not
// open the chunk is dropped with a warning and [ErrNotOpen] — audio is
// time-sensitive and is never queued.
func (c *Channel) SendChunk(ctx context.Context, ch chunker.Chunk) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		slog.Warn("dropping chunk: channel not open",
			"chunk_id", ch.ID,
			"seq", ch.Seq,
			"state", c.State().String(),
		)
		c.metrics.ChunksDropped.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", "not_open")))
		return ErrNotOpen
	}

	start := time.Now()
	if err := conn.Write(ctx, websocket.MessageBinary, ch.Payload); err != nil {
		return fmt.Errorf("transport: send chunk %s: %w", ch.ID, err)
	}
	c.chunksSent.Add(1)
	c.metrics.ChunksSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("encoding", string(ch.Encoding))))
	c.metrics.ChunkSendDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// SendAction writes a tagged action message (e.g. a streamAudio announcement
// for an uploaded container chunk) as a text frame. Requires the channel to
// be open.
func (c *Channel) SendAction(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return ErrNotOpen
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal action: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: send action: %w", err)
	}
	return nil
}

// StartHeartbeat begins the periodic presence update carrying current
// recording status. This is how other participants learn this user is
// present and speaking. A second call while running is a no-op.
func (c *Channel) StartHeartbeat() {
	period := c.cfg.HeartbeatPeriod
	if period <= 0 {
		period = DefaultHeartbeatPeriod
	}

	c.mu.Lock()
	if c.heartbeatStop != nil || c.closed {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.heartbeatStop = stop
	ctx := c.lifecycleCtx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := c.SendAction(ctx, heartbeatMsg{
					Action:      "heartbeat",
					RoomID:      c.cfg.RoomID,
					UserName:    c.cfg.Identity.UserName,
					IsRecording: c.recording.Load(),
				})
				if err != nil && !errors.Is(err, ErrNotOpen) {
					slog.Warn("heartbeat send failed", "err", err)
				}
			}
		}
	}()
}

// StopHeartbeat stops the presence loop. Idempotent.
func (c *Channel) StopHeartbeat() {
	c.mu.Lock()
	stop := c.heartbeatStop
	c.heartbeatStop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// Close tears the channel down deliberately: pending reconnect timers are
// cancelled, the socket is closed with a normal-closure code (which never
// triggers reconnection), and the channel transitions to Closed. Safe to
// call multiple times.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.setStateLocked(StateClosing)
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.StopHeartbeat()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client leaving")
	}

	c.mu.Lock()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()
	return nil
}

// readLoop parses and dispatches inbound frames until the socket fails.
// Malformed payloads are logged and dropped; they never crash the channel.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		ev, perr := ParseEvent(data)
		if perr != nil {
			slog.Warn("dropping inbound payload", "err", perr)
			c.metrics.EventsDropped.Add(ctx, 1)
			continue
		}

		c.metrics.EventsReceived.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(ev.Kind()))))
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(ev)
		}
	}
}

// handleDisconnect classifies a socket failure. Deliberate teardown and
// normal closure end the channel; an abnormal close schedules exactly one
// reconnect attempt after the fixed delay.
func (c *Channel) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		// Deliberate teardown, or a stale socket superseded by a newer
		// Connect. Either way this failure is not actionable.
		c.mu.Unlock()
		return
	}
	c.conn = nil

	status := websocket.CloseStatus(err)
	// 1000 (normal) and 1005 (no status, "going away" without a reason) are
	// deliberate ends; everything else is abnormal termination.
	if status == websocket.StatusNormalClosure || status == websocket.StatusNoStatusRcvd {
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		slog.Info("streaming channel closed by peer", "room_id", c.cfg.RoomID)
		return
	}

	c.setStateLocked(StateReconnecting)
	ctx := c.lifecycleCtx

	// At most one pending reconnect timer at a time.
	if c.reconnectTimer == nil {
		c.reconnectTimer = time.AfterFunc(c.delay, func() {
			c.mu.Lock()
			c.reconnectTimer = nil
			closed := c.closed
			c.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}
			if err := c.Connect(ctx); err != nil {
				slog.Warn("reconnect attempt failed", "room_id", c.cfg.RoomID, "err", err)
			}
		})
	}
	c.mu.Unlock()

	c.metrics.Reconnects.Add(context.Background(), 1)
	slog.Warn("streaming channel lost, reconnect scheduled",
		"room_id", c.cfg.RoomID,
		"close_status", int(status),
		"delay", c.delay,
		"err", err,
	)
}

// setStateLocked transitions state and fires the callback. Caller holds mu;
// the callback is invoked without the lock.
func (c *Channel) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if cb := c.cfg.OnStateChange; cb != nil {
		go cb(s)
	}
}
