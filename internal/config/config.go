// Package config provides the configuration schema and loader for the
// Polyglot session core.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ContainerEncoding selects the container-mode chunk format.
type ContainerEncoding string

const (
	ContainerOpus ContainerEncoding = "opus"
	ContainerWAV  ContainerEncoding = "wav"
)

// IsValid reports whether e is a recognised container encoding.
func (e ContainerEncoding) IsValid() bool {
	return e == ContainerOpus || e == ContainerWAV
}

// Duration wraps time.Duration with YAML decoding of strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel LogLevel      `yaml:"log_level"`
	Control  ControlConfig `yaml:"control"`
	Stream   StreamConfig  `yaml:"stream"`
	Capture  CaptureConfig `yaml:"capture"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Room     RoomConfig    `yaml:"room"`
}

// ControlConfig points at the room store / control endpoint.
type ControlConfig struct {
	// BaseURL is the HTTP base of the control endpoint
	// (e.g., "https://api.example.com/prod").
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates control calls. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`

	// Bucket names the blob store bucket used for audio uploads.
	Bucket string `yaml:"bucket"`
}

// StreamConfig tunes the persistent streaming connection.
type StreamConfig struct {
	// URL is the websocket streaming endpoint (e.g., "wss://...").
	URL string `yaml:"url"`

	// HeartbeatPeriod is the presence-update interval. Default 5s.
	HeartbeatPeriod Duration `yaml:"heartbeat_period"`

	// ReconnectDelay is the fixed delay before the single reconnect
	// attempt after an abnormal close. Default 5s.
	ReconnectDelay Duration `yaml:"reconnect_delay"`

	// PollInterval is the message-poll fallback period used while the
	// channel is not open. Default 3s.
	PollInterval Duration `yaml:"poll_interval"`
}

// CaptureConfig tunes the chunk encoder.
type CaptureConfig struct {
	// BlockSamples is the raw-mode block size in samples. Default 8192.
	BlockSamples int `yaml:"block_samples"`

	// ContainerInterval is the container-mode boundary period. Default 15s.
	ContainerInterval Duration `yaml:"container_interval"`

	// ContainerEncoding selects opus or wav container chunks. Default opus.
	ContainerEncoding ContainerEncoding `yaml:"container_encoding"`
}

// MetricsConfig configures the demo binary's /metrics endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address to serve Prometheus metrics on.
	// Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// RoomConfig is the membership the demo binary joins on start.
type RoomConfig struct {
	ID            string `yaml:"id"`
	UserName      string `yaml:"user_name"`
	SpeakLanguage string `yaml:"speak_language"`
	HearLanguage  string `yaml:"hear_language"`
}

// knownLanguages lists the language codes the hosted pipeline synthesises
// voices for. Other codes are accepted with a warning.
var knownLanguages = map[string]bool{
	"en": true,
	"es": true,
	"fr": true,
	"hi": true,
}
