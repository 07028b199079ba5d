package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] for fields left unset.
const (
	DefaultListenAddr        = ":8080"
	DefaultLanguageCode      = "en"
	DefaultSilenceThreshold  = 10
	DefaultSilenceDurationMs = 1500
	DefaultSampleRate        = 16000
	DefaultFrameSize         = 128
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for optional fields left unset. It returns a joined error listing
// all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Backend
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if cfg.Backend.APIKey == "" {
		errs = append(errs, errors.New("backend.api_key is required"))
	}
	if cfg.Backend.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout_seconds %d must not be negative", cfg.Backend.TimeoutSeconds))
	}

	// Widget defaults
	if cfg.Widget.LanguageCode == "" {
		cfg.Widget.LanguageCode = DefaultLanguageCode
	}
	if cfg.Widget.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("widget.silence_threshold %.2f must not be negative", cfg.Widget.SilenceThreshold))
	}
	if cfg.Widget.SilenceThreshold == 0 && cfg.Widget.VadEnabled {
		slog.Warn("widget.silence_threshold is 0; every frame counts as speech and recordings will not auto-stop on ambient noise alone")
		cfg.Widget.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.Widget.SilenceDurationMs < 0 {
		errs = append(errs, fmt.Errorf("widget.silence_duration_ms %d must not be negative", cfg.Widget.SilenceDurationMs))
	}
	if cfg.Widget.SilenceDurationMs == 0 {
		cfg.Widget.SilenceDurationMs = DefaultSilenceDurationMs
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}

	return errors.Join(errs...)
}
