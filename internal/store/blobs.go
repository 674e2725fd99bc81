package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/polyglot-labs/polyglot/internal/observe"
	"github.com/polyglot-labs/polyglot/pkg/audio/chunker"
)

// BlobClient uploads container chunks to the blob store via presigned URLs:
// first a POST to the upload-url endpoint yields a short-lived PUT target,
// then the payload goes directly to storage.
type BlobClient struct {
	baseURL string
	apiKey  string
	bucket  string
	http    *http.Client
	metrics *observe.Metrics
	now     func() time.Time
}

// BlobClientOption configures a [BlobClient].
type BlobClientOption func(*BlobClient)

// WithBlobHTTPClient overrides the underlying HTTP client.
func WithBlobHTTPClient(c *http.Client) BlobClientOption {
	return func(bc *BlobClient) { bc.http = c }
}

// WithBlobMetrics overrides the metrics sink.
func WithBlobMetrics(m *observe.Metrics) BlobClientOption {
	return func(bc *BlobClient) { bc.metrics = m }
}

// NewBlobClient creates a client against the upload-url endpoint at baseURL,
// placing objects in the given bucket.
func NewBlobClient(baseURL, apiKey, bucket string, opts ...BlobClientOption) *BlobClient {
	bc := &BlobClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		bucket:  bucket,
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(bc)
	}
	if bc.metrics == nil {
		bc.metrics = observe.DefaultMetrics()
	}
	return bc
}

type uploadURLRequest struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
}

type uploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
}

// Upload stores one container chunk and returns its public reference.
// Objects are named recordings/<unix-ms>-<random>.<ext> so uploads from
// concurrent speakers never collide.
func (bc *BlobClient) Upload(ctx context.Context, ch chunker.Chunk) (string, error) {
	key := bc.objectKey(ch.Encoding)
	contentType := contentTypeFor(ch.Encoding)

	target, err := bc.presign(ctx, key, contentType)
	if err != nil {
		return "", fmt.Errorf("store: presign %s: %w", key, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, bytes.NewReader(ch.Payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := bc.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("store: upload %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("store: upload %s: unexpected status %d: %s", key, resp.StatusCode, snippet)
	}

	bc.metrics.UploadDuration.Record(ctx, time.Since(start).Seconds())
	return target.PublicURL, nil
}

func (bc *BlobClient) presign(ctx context.Context, key, contentType string) (uploadURLResponse, error) {
	body, err := json.Marshal(uploadURLRequest{
		Bucket:      bc.bucket,
		Key:         key,
		ContentType: contentType,
	})
	if err != nil {
		return uploadURLResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bc.baseURL, bytes.NewReader(body))
	if err != nil {
		return uploadURLResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+bc.apiKey)
	}

	resp, err := bc.http.Do(req)
	if err != nil {
		return uploadURLResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return uploadURLResponse{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var out uploadURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uploadURLResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if out.UploadURL == "" {
		return uploadURLResponse{}, fmt.Errorf("endpoint returned no upload URL")
	}
	return out, nil
}

func (bc *BlobClient) objectKey(enc chunker.Encoding) string {
	var suffix [4]byte
	rand.Read(suffix[:])
	return fmt.Sprintf("recordings/%d-%s.%s",
		bc.now().UnixMilli(), hex.EncodeToString(suffix[:]), extensionFor(enc))
}

func extensionFor(enc chunker.Encoding) string {
	switch enc {
	case chunker.EncodingWAV:
		return "wav"
	case chunker.EncodingOpus:
		return "opus"
	default:
		return "bin"
	}
}

func contentTypeFor(enc chunker.Encoding) string {
	switch enc {
	case chunker.EncodingWAV:
		return "audio/wav"
	case chunker.EncodingOpus:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
