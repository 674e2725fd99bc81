// Package translate is the client for the one-shot translation endpoint:
// hand it an uploaded audio reference and it returns the transcription plus
// translations and synthesised voices for the room's languages.
//
// The streaming path is the primary translation mechanism; this client
// covers the container-chunk path, where audio reaches the backend as an
// uploaded blob rather than a live stream.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request identifies one uploaded utterance to translate.
type Request struct {
	// AudioRef is the blob store reference produced by the upload.
	AudioRef string `json:"audioUrl"`

	// SourceLanguage is the speaker's declared language.
	SourceLanguage string `json:"sourceLanguage"`

	// TargetLanguages are the hear-languages present in the room.
	TargetLanguages []string `json:"targetLanguages"`

	// Speaker attributes the resulting message.
	Speaker string `json:"speaker"`
}

// Result is the completed translation of one utterance. Immutable: partial
// results are never returned, the endpoint answers only when every target
// language is resolved.
type Result struct {
	// Original is the transcription in the source language.
	Original string `json:"original"`

	// Translations maps language code to translated text, including the
	// original under the source language.
	Translations map[string]string `json:"translations"`

	// AudioRefs maps language code to a synthesised voice reference.
	// Languages without synthesis are absent.
	AudioRefs map[string]string `json:"audioUrls"`

	// Timestamp is the server-assigned creation time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Client calls the translation endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(tc *Client) { tc.http = c }
}

// NewClient creates a translation client. Translation of a full container
// chunk can take a while, so the default timeout is generous.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	tc := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Translate submits one utterance and blocks until the full result is
// available or ctx expires.
func (tc *Client) Translate(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("translate: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.baseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if tc.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+tc.apiKey)
	}

	resp, err := tc.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("translate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("translate: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("translate: decode result: %w", err)
	}
	if out.Original == "" {
		return Result{}, fmt.Errorf("translate: empty transcription for %s", req.AudioRef)
	}
	return out, nil
}
