// Package config provides the configuration schema, loader, and hot-reload
// watcher for the Susurrus widget server.
package config

// LogLevel controls log verbosity for the Susurrus server.
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

// Config is the root configuration structure for Susurrus.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Widget  WidgetConfig  `yaml:"widget"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the Susurrus server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// BackendConfig describes the chatbot backend every widget session talks to.
type BackendConfig struct {
	// BaseURL is the backend's API root (e.g., "https://api.example.com/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates widget requests against the backend.
	APIKey string `yaml:"api_key"`

	// TimeoutSeconds bounds each backend round trip. 0 uses the client default.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// OpusUpload compresses voice clips with Opus before upload. The backend
	// must accept the length-prefixed Opus packet format.
	OpusUpload bool `yaml:"opus_upload"`
}

// WidgetConfig holds the defaults applied when a widget has no
// backend-provided configuration of its own.
type WidgetConfig struct {
	// LanguageCode is the default BCP-47 language for transcripts and replies.
	LanguageCode string `yaml:"language_code"`

	// WelcomeMessage is shown as the first assistant message, if set.
	WelcomeMessage string `yaml:"welcome_message"`

	// VadEnabled turns silence-based auto-stop on for recordings.
	VadEnabled bool `yaml:"vad_enabled"`

	// SilenceThreshold is the scaled RMS amplitude treated as speech.
	// The scale runs roughly 0-300 for full-scale input; typical value: 10.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDurationMs is how long sustained silence must last, in
	// milliseconds, before a recording auto-stops. Typical value: 1500.
	SilenceDurationMs int `yaml:"silence_duration_ms"`
}

// AudioConfig holds the analysis format for voice activity detection.
type AudioConfig struct {
	// SampleRate is the sample rate, in Hz, frames are converted to before
	// analysis (e.g., 16000).
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per analysis frame (e.g., 128).
	FrameSize int `yaml:"frame_size"`
}
