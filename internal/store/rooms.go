// Package store contains the HTTP clients for the persistence tier: the
// room-state control endpoint and the presigned blob store.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/polyglot-labs/polyglot/pkg/types"
)

// RoomState is the persisted snapshot of a room: its message log and roster.
type RoomState struct {
	Messages     []types.Message     `json:"messages"`
	Participants []types.Participant `json:"participants"`
}

// RoomClient talks to the room-state control endpoint. All operations go to
// a single URL multiplexed on the "action" field of the request body.
type RoomClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// RoomClientOption configures a [RoomClient].
type RoomClientOption func(*RoomClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) RoomClientOption {
	return func(rc *RoomClient) { rc.http = c }
}

// NewRoomClient creates a client for the control endpoint at baseURL. The
// API key, when set, travels in the Authorization header.
func NewRoomClient(baseURL, apiKey string, opts ...RoomClientOption) *RoomClient {
	rc := &RoomClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

type controlRequest struct {
	Action string `json:"action"`
	RoomID string `json:"roomId"`

	// Save payload.
	State *RoomState `json:"state,omitempty"`

	// Heartbeat payload.
	UserName    string `json:"userName,omitempty"`
	IsRecording bool   `json:"isRecording,omitempty"`
}

// Get fetches the persisted state of a room. A room that has never been
// saved comes back empty, not as an error.
func (rc *RoomClient) Get(ctx context.Context, roomID string) (RoomState, error) {
	var state RoomState
	err := rc.do(ctx, controlRequest{Action: "get", RoomID: roomID}, &state)
	if err != nil {
		return RoomState{}, fmt.Errorf("store: get room %s: %w", roomID, err)
	}
	return state, nil
}

// Save persists the full room state, replacing whatever was stored.
func (rc *RoomClient) Save(ctx context.Context, roomID string, state RoomState) error {
	err := rc.do(ctx, controlRequest{Action: "save", RoomID: roomID, State: &state}, nil)
	if err != nil {
		return fmt.Errorf("store: save room %s: %w", roomID, err)
	}
	return nil
}

// Clear deletes the persisted state of a room.
func (rc *RoomClient) Clear(ctx context.Context, roomID string) error {
	err := rc.do(ctx, controlRequest{Action: "clear", RoomID: roomID}, nil)
	if err != nil {
		return fmt.Errorf("store: clear room %s: %w", roomID, err)
	}
	return nil
}

// Heartbeat records out-of-band presence for a user. The streaming channel
// is the primary presence signal; this path keeps presence alive when only
// the poll fallback is active.
func (rc *RoomClient) Heartbeat(ctx context.Context, roomID, userName string, isRecording bool) error {
	err := rc.do(ctx, controlRequest{
		Action:      "heartbeat",
		RoomID:      roomID,
		UserName:    userName,
		IsRecording: isRecording,
	}, nil)
	if err != nil {
		return fmt.Errorf("store: heartbeat room %s: %w", roomID, err)
	}
	return nil
}

func (rc *RoomClient) do(ctx context.Context, reqBody controlRequest, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if rc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+rc.apiKey)
	}

	resp, err := rc.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
