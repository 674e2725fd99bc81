package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
log_level: info
control:
  base_url: https://api.example.com/prod
  api_key: secret
  bucket: polyglot-audio
stream:
  url: wss://stream.example.com
  heartbeat_period: 5s
  reconnect_delay: 5s
  poll_interval: 3s
capture:
  block_samples: 8192
  container_interval: 15s
  container_encoding: opus
room:
  id: demo-123
  user_name: Ana
  speak_language: es
  hear_language: en
`

func TestLoadFromReader(t *testing.T) {
	t.Run("parses a complete config", func(t *testing.T) {
		cfg, err := LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Stream.URL != "wss://stream.example.com" {
			t.Errorf("stream url = %q", cfg.Stream.URL)
		}
		if cfg.Stream.HeartbeatPeriod.Std() != 5*time.Second {
			t.Errorf("heartbeat period = %v", cfg.Stream.HeartbeatPeriod.Std())
		}
		if cfg.Room.UserName != "Ana" || cfg.Room.SpeakLanguage != "es" {
			t.Errorf("room = %+v", cfg.Room)
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		yaml := validYAML + "\nbogus_field: 1\n"
		if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
			t.Error("expected an error for unknown field")
		}
	})

	t.Run("rejects malformed durations", func(t *testing.T) {
		yaml := strings.Replace(validYAML, "5s", "five seconds", 1)
		if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
			t.Error("expected an error for bad duration")
		}
	})

	t.Run("expands environment in api_key", func(t *testing.T) {
		t.Setenv("POLYGLOT_TEST_KEY", "from-env")
		yaml := strings.Replace(validYAML, "api_key: secret", "api_key: ${POLYGLOT_TEST_KEY}", 1)
		cfg, err := LoadFromReader(strings.NewReader(yaml))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Control.APIKey != "from-env" {
			t.Errorf("api_key = %q, want from-env", cfg.Control.APIKey)
		}
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Control: ControlConfig{BaseURL: "https://api.example.com"},
			Stream:  StreamConfig{URL: "wss://stream.example.com"},
		}
	}

	t.Run("fills defaults", func(t *testing.T) {
		cfg := base()
		if err := Validate(cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Stream.HeartbeatPeriod.Std() != DefaultHeartbeatPeriod {
			t.Errorf("heartbeat default = %v", cfg.Stream.HeartbeatPeriod.Std())
		}
		if cfg.Stream.ReconnectDelay.Std() != DefaultReconnectDelay {
			t.Errorf("reconnect default = %v", cfg.Stream.ReconnectDelay.Std())
		}
		if cfg.Capture.ContainerEncoding != ContainerOpus {
			t.Errorf("container encoding default = %q", cfg.Capture.ContainerEncoding)
		}
	})

	t.Run("collects multiple failures", func(t *testing.T) {
		cfg := &Config{
			LogLevel: "verbose",
			Stream:   StreamConfig{URL: "http://not-a-ws-url"},
		}
		err := Validate(cfg)
		if err == nil {
			t.Fatal("expected validation errors")
		}
		msg := err.Error()
		for _, want := range []string{"log_level", "stream.url", "control.base_url"} {
			if !strings.Contains(msg, want) {
				t.Errorf("error %q missing %q", msg, want)
			}
		}
	})

	t.Run("room id requires user name", func(t *testing.T) {
		cfg := base()
		cfg.Room.ID = "demo"
		if err := Validate(cfg); err == nil {
			t.Error("expected an error for missing room.user_name")
		}
	})

	t.Run("invalid container encoding", func(t *testing.T) {
		cfg := base()
		cfg.Capture.ContainerEncoding = "mp3"
		if err := Validate(cfg); err == nil {
			t.Error("expected an error for mp3 encoding")
		}
	})
}
