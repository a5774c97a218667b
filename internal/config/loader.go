package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. COPILOT_API_URL.
const EnvPrefix = "COPILOT_"

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config]. An empty path loads the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return finish(Default(), os.Environ())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return finish(cfg, os.Environ())
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

func finish(cfg *Config, environ []string) (*Config, error) {
	if err := ApplyEnv(cfg, environ); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides lists the settings that can be overridden from the
// environment. Unset variables leave the file value alone.
type envOverrides struct {
	LogLevel     string        `env:"LOG_LEVEL"`
	OpsAddr      string        `env:"OPS_ADDR"`
	TransportURL string        `env:"TRANSPORT_URL"`
	Engine       string        `env:"ENGINE"`
	Language     string        `env:"LANGUAGE"`
	AgentName    string        `env:"AGENT_NAME"`
	AgentID      string        `env:"AGENT_ID"`
	LeadName     string        `env:"LEAD_NAME"`
	LeadID       string        `env:"LEAD_ID"`
	Device       string        `env:"CAPTURE_DEVICE"`
	Phrase       string        `env:"TRIGGER_PHRASE"`
	APIURL       string        `env:"API_URL"`
	APITimeout   time.Duration `env:"API_TIMEOUT"`
}

// ApplyEnv overrides cfg with the COPILOT_* variables found in environ
// (KEY=value pairs, as returned by [os.Environ]).
func ApplyEnv(cfg *Config, environ []string) error {
	var o envOverrides
	err := env.ParseWithOptions(&o, env.Options{
		Prefix:      EnvPrefix,
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	set(&o.LogLevel, (*string)(&cfg.Server.LogLevel))
	set(&o.OpsAddr, &cfg.Server.OpsAddr)
	set(&o.TransportURL, &cfg.Transport.URL)
	set(&o.Engine, &cfg.Transport.Engine)
	set(&o.Language, &cfg.Session.Language)
	set(&o.AgentName, &cfg.Session.Agent.Name)
	set(&o.AgentID, &cfg.Session.Agent.ID)
	set(&o.LeadName, &cfg.Session.Lead.Name)
	set(&o.LeadID, &cfg.Session.Lead.ID)
	set(&o.Device, &cfg.Capture.Device)
	set(&o.Phrase, &cfg.Trigger.Phrase)
	set(&o.APIURL, &cfg.Copilot.APIURL)
	if o.APITimeout > 0 {
		cfg.Copilot.Timeout = o.APITimeout
	}
	return nil
}

func set(from, to *string) {
	if *from != "" {
		*to = *from
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if err := checkURL(cfg.Transport.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("transport.url: %w", err))
	}
	errs = appendNonNegative(errs, "transport.handshake_timeout", cfg.Transport.HandshakeTimeout)
	errs = appendNonNegative(errs, "transport.close_timeout", cfg.Transport.CloseTimeout)

	if cfg.Capture.ChunkSamples < 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_samples %d must not be negative", cfg.Capture.ChunkSamples))
	}
	if cfg.Capture.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_depth %d must not be negative", cfg.Capture.QueueDepth))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}

	if cfg.Playback.ChunkSamples < 0 {
		errs = append(errs, fmt.Errorf("playback.chunk_samples %d must not be negative", cfg.Playback.ChunkSamples))
	}
	errs = appendNonNegative(errs, "playback.interval", cfg.Playback.Interval)
	errs = appendNonNegative(errs, "playback.drain_timeout", cfg.Playback.DrainTimeout)
	if cfg.Playback.Quality != "" && !cfg.Playback.Quality.IsValid() {
		errs = append(errs, fmt.Errorf("playback.quality %q is invalid; valid values: nearest, high", cfg.Playback.Quality))
	}

	if cfg.Transcript.Mode != "" && !cfg.Transcript.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("transcript.mode %q is invalid; valid values: all, final", cfg.Transcript.Mode))
	}

	if cfg.Trigger.Match != "" && !cfg.Trigger.Match.IsValid() {
		errs = append(errs, fmt.Errorf("trigger.match %q is invalid; valid values: exact, phonetic", cfg.Trigger.Match))
	}
	if cfg.Trigger.Speaker < 0 {
		errs = append(errs, fmt.Errorf("trigger.speaker %d must not be negative", cfg.Trigger.Speaker))
	}

	if cfg.Copilot.APIURL != "" {
		if err := checkURL(cfg.Copilot.APIURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("copilot.api_url: %w", err))
		}
	}
	errs = appendNonNegative(errs, "copilot.timeout", cfg.Copilot.Timeout)
	errs = appendNonNegative(errs, "copilot.breaker.reset_timeout", cfg.Copilot.Breaker.ResetTimeout)

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use scheme %v", raw, schemes)
}

func appendNonNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s %v must not be negative", field, d))
	}
	return errs
}
