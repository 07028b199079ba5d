package config_test

import (
	"strings"
	"testing"

	"github.com/susurrus-chat/susurrus/internal/config"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

backend:
  base_url: https://api.example.com/v1
  api_key: sk-test
  timeout_seconds: 30

widget:
  language_code: de
  welcome_message: "Hallo!"
  vad_enabled: true
  silence_threshold: 10
  silence_duration_ms: 1500

audio:
  sample_rate: 16000
  frame_size: 128
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Backend.BaseURL != "https://api.example.com/v1" {
		t.Errorf("backend.base_url: got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.APIKey != "sk-test" {
		t.Errorf("backend.api_key: got %q", cfg.Backend.APIKey)
	}
	if cfg.Backend.TimeoutSeconds != 30 {
		t.Errorf("backend.timeout_seconds: got %d, want 30", cfg.Backend.TimeoutSeconds)
	}
	if cfg.Widget.LanguageCode != "de" {
		t.Errorf("widget.language_code: got %q, want %q", cfg.Widget.LanguageCode, "de")
	}
	if !cfg.Widget.VadEnabled {
		t.Error("widget.vad_enabled: got false, want true")
	}
	if cfg.Widget.SilenceThreshold != 10 {
		t.Errorf("widget.silence_threshold: got %.2f, want 10", cfg.Widget.SilenceThreshold)
	}
	if cfg.Widget.SilenceDurationMs != 1500 {
		t.Errorf("widget.silence_duration_ms: got %d, want 1500", cfg.Widget.SilenceDurationMs)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("audio.sample_rate: got %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameSize != 128 {
		t.Errorf("audio.frame_size: got %d, want 128", cfg.Audio.FrameSize)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
backend:
  base_url: https://api.example.com
  api_key: sk-test
  banana: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server: ["))
	if err == nil {
		t.Fatal("expected error for malformed yaml, got nil")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("IsValid(%q) = false, want true", l)
		}
	}
	if config.LogLevel("bananas").IsValid() {
		t.Error(`IsValid("bananas") = true, want false`)
	}
	if config.LogLevel("").IsValid() {
		t.Error(`IsValid("") = true, want false`)
	}
}
