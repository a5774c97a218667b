// Package config provides the configuration schema and loader for the sales
// copilot client.
package config

import "time"

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

// TranscriptMode selects which transcript events are recorded.
type TranscriptMode string

const (
	// TranscriptAll records partial and final events.
	TranscriptAll TranscriptMode = "all"

	// TranscriptFinal records final events only.
	TranscriptFinal TranscriptMode = "final"
)

// IsValid reports whether m is a recognised transcript mode.
func (m TranscriptMode) IsValid() bool {
	return m == TranscriptAll || m == TranscriptFinal
}

// MatchMode selects how the trigger phrase is compared against utterances.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchPhonetic MatchMode = "phonetic"
)

// IsValid reports whether m is a recognised match mode.
func (m MatchMode) IsValid() bool {
	return m == MatchExact || m == MatchPhonetic
}

// Quality selects the bulk resampler used for file playback.
type Quality string

const (
	QualityNearest Quality = "nearest"
	QualityHigh    Quality = "high"
)

// IsValid reports whether q is a recognised quality.
func (q Quality) IsValid() bool {
	return q == QualityNearest || q == QualityHigh
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Transport  TransportConfig  `yaml:"transport"`
	Session    SessionConfig    `yaml:"session"`
	Capture    CaptureConfig    `yaml:"capture"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Trigger    TriggerConfig    `yaml:"trigger"`
	Copilot    CopilotConfig    `yaml:"copilot"`
}

// ServerConfig holds logging and the ops HTTP server settings.
type ServerConfig struct {
	// OpsAddr is the TCP address of the ops server serving /healthz, /readyz
	// and /metrics (e.g., ":9090"). Empty disables the ops server.
	OpsAddr string `yaml:"ops_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the ops server. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// TransportConfig describes the transcription service connection.
type TransportConfig struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8000/ws/audio.
	URL string `yaml:"url"`

	// Engine selects the transcription backend on the service. Optional.
	Engine string `yaml:"engine"`

	// Headers are sent with the opening handshake.
	Headers map[string]string `yaml:"headers"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	CloseTimeout     time.Duration `yaml:"close_timeout"`
}

// Identity names one participant.
type Identity struct {
	Name string `yaml:"name"`
	ID   string `yaml:"id"`
}

// SessionConfig identifies the call.
type SessionConfig struct {
	Language string   `yaml:"language"`
	Agent    Identity `yaml:"agent"`
	Lead     Identity `yaml:"lead"`
}

// CaptureConfig configures the microphone path.
type CaptureConfig struct {
	// Device is a substring of the capture device name. Empty selects the
	// system default.
	Device string `yaml:"device"`

	// SampleRate requests a device rate. Zero uses the device default.
	SampleRate int `yaml:"sample_rate"`

	// PeriodMillis is the device callback period. Zero uses the backend
	// default.
	PeriodMillis int `yaml:"period_ms"`

	// ChunkSamples is the PCM16 samples per transport frame.
	ChunkSamples int `yaml:"chunk_samples"`

	// QueueDepth bounds the chunks waiting between the audio callback and the
	// send loop.
	QueueDepth int `yaml:"queue_depth"`
}

// PlaybackConfig configures the file playback simulator.
type PlaybackConfig struct {
	ChunkSamples int `yaml:"chunk_samples"`

	// Interval is the pause between chunks. Zero paces at real time.
	Interval time.Duration `yaml:"interval"`

	Quality Quality `yaml:"quality"`

	// DrainTimeout is how long to wait for final transcripts after the last
	// chunk.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// TranscriptConfig configures the transcript consumer.
type TranscriptConfig struct {
	// Mode applies to live sessions; playback always records final events
	// only.
	Mode TranscriptMode `yaml:"mode"`
}

// TriggerConfig configures the trigger detector. It is hot-reloadable.
type TriggerConfig struct {
	// Phrase is matched case-insensitively. Empty disables the trigger.
	Phrase string `yaml:"phrase"`

	// Speaker is the numeric speaker channel that has to say the phrase.
	// 0 is the agent.
	Speaker int `yaml:"speaker"`

	// SpeakerName matches by display name instead when set.
	SpeakerName string `yaml:"speaker_name"`

	Match MatchMode `yaml:"match"`

	// AutoAssist sends an assistance request for every match.
	AutoAssist bool `yaml:"auto_assist"`
}

// CopilotConfig configures the REST backend client.
type CopilotConfig struct {
	// APIURL is the backend base URL, e.g. http://localhost:8000.
	APIURL string `yaml:"api_url"`

	Timeout time.Duration `yaml:"timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker guarding the REST backend.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Transport: TransportConfig{
			URL:              "ws://localhost:8000/ws/audio",
			HandshakeTimeout: 20 * time.Second,
			CloseTimeout:     5 * time.Second,
		},
		Session: SessionConfig{Language: "en"},
		Capture: CaptureConfig{
			ChunkSamples: 4096,
			QueueDepth:   64,
		},
		Playback: PlaybackConfig{
			ChunkSamples: 4096,
			Quality:      QualityNearest,
			DrainTimeout: 10 * time.Second,
		},
		Transcript: TranscriptConfig{Mode: TranscriptAll},
		Trigger: TriggerConfig{
			Phrase:     "let me check",
			Match:      MatchExact,
			AutoAssist: true,
		},
		Copilot: CopilotConfig{
			APIURL:  "http://localhost:8000",
			Timeout: 30 * time.Second,
			Breaker: BreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
		},
	}
}
