package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when fields are unset.
const (
	DefaultHeartbeatPeriod   = 5 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
	DefaultPollInterval      = 3 * time.Second
	DefaultContainerInterval = 15 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	// Secrets may reference the environment.
	cfg.Control.APIKey = os.ExpandEnv(cfg.Control.APIKey)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults. It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Stream.URL == "" {
		errs = append(errs, errors.New("stream.url must be set"))
	} else if u, err := url.Parse(cfg.Stream.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("stream.url %q must be a ws:// or wss:// URL", cfg.Stream.URL))
	}

	if cfg.Control.BaseURL == "" {
		errs = append(errs, errors.New("control.base_url must be set"))
	}

	if cfg.Stream.HeartbeatPeriod <= 0 {
		cfg.Stream.HeartbeatPeriod = Duration(DefaultHeartbeatPeriod)
	}
	if cfg.Stream.ReconnectDelay <= 0 {
		cfg.Stream.ReconnectDelay = Duration(DefaultReconnectDelay)
	}
	if cfg.Stream.PollInterval <= 0 {
		cfg.Stream.PollInterval = Duration(DefaultPollInterval)
	}
	if cfg.Capture.ContainerInterval <= 0 {
		cfg.Capture.ContainerInterval = Duration(DefaultContainerInterval)
	}
	if cfg.Capture.BlockSamples < 0 {
		errs = append(errs, fmt.Errorf("capture.block_samples must not be negative, got %d", cfg.Capture.BlockSamples))
	}
	if cfg.Capture.ContainerEncoding == "" {
		cfg.Capture.ContainerEncoding = ContainerOpus
	} else if !cfg.Capture.ContainerEncoding.IsValid() {
		errs = append(errs, fmt.Errorf("capture.container_encoding %q is invalid; valid values: opus, wav", cfg.Capture.ContainerEncoding))
	}

	if cfg.Room.ID != "" {
		if cfg.Room.UserName == "" {
			errs = append(errs, errors.New("room.user_name must be set when room.id is set"))
		}
		warnUnknownLanguage("room.speak_language", cfg.Room.SpeakLanguage)
		warnUnknownLanguage("room.hear_language", cfg.Room.HearLanguage)
	}

	return errors.Join(errs...)
}

func warnUnknownLanguage(field, code string) {
	if code != "" && !knownLanguages[code] {
		slog.Warn("language code has no hosted voice; playback will be text-only",
			"field", field,
			"code", code,
		)
	}
}
