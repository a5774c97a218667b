package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/salescopilot/internal/config"
)

const fullYAML = `
server:
  ops_addr: ":9090"
  log_level: debug
transport:
  url: wss://transcriber.example.com/ws/audio
  engine: deepgram
  headers:
    Authorization: Bearer abc
  handshake_timeout: 10s
  close_timeout: 2s
session:
  language: de
  agent:
    name: Ada
    id: a-1
  lead:
    name: Lee
    id: "42"
capture:
  device: USB
  sample_rate: 48000
  period_ms: 20
  chunk_samples: 2048
  queue_depth: 16
playback:
  chunk_samples: 4096
  interval: 100ms
  quality: high
  drain_timeout: 3s
transcript:
  mode: final
trigger:
  phrase: one moment
  speaker: 1
  match: phonetic
  auto_assist: false
copilot:
  api_url: https://copilot.example.com
  timeout: 5s
  breaker:
    max_failures: 3
    reset_timeout: 1m
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.OpsAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Transport.URL != "wss://transcriber.example.com/ws/audio" || cfg.Transport.Engine != "deepgram" {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Transport.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("headers = %v", cfg.Transport.Headers)
	}
	if cfg.Transport.HandshakeTimeout != 10*time.Second || cfg.Transport.CloseTimeout != 2*time.Second {
		t.Errorf("transport timeouts = %v, %v", cfg.Transport.HandshakeTimeout, cfg.Transport.CloseTimeout)
	}
	want := config.SessionConfig{
		Language: "de",
		Agent:    config.Identity{Name: "Ada", ID: "a-1"},
		Lead:     config.Identity{Name: "Lee", ID: "42"},
	}
	if cfg.Session != want {
		t.Errorf("session = %+v, want %+v", cfg.Session, want)
	}
	if cfg.Capture.ChunkSamples != 2048 || cfg.Capture.QueueDepth != 16 || cfg.Capture.SampleRate != 48000 {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Playback.Interval != 100*time.Millisecond || cfg.Playback.Quality != config.QualityHigh {
		t.Errorf("playback = %+v", cfg.Playback)
	}
	if cfg.Transcript.Mode != config.TranscriptFinal {
		t.Errorf("transcript mode = %q", cfg.Transcript.Mode)
	}
	wantTrigger := config.TriggerConfig{Phrase: "one moment", Speaker: 1, Match: config.MatchPhonetic}
	if cfg.Trigger != wantTrigger {
		t.Errorf("trigger = %+v, want %+v", cfg.Trigger, wantTrigger)
	}
	if cfg.Copilot.Breaker.ResetTimeout != time.Minute || cfg.Copilot.Breaker.MaxFailures != 3 {
		t.Errorf("breaker = %+v", cfg.Copilot.Breaker)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("session:\n  agent:\n    name: Ada\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	def := config.Default()
	if cfg.Transport.URL != def.Transport.URL || cfg.Transport.HandshakeTimeout != def.Transport.HandshakeTimeout {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Session.Agent.Name != "Ada" || cfg.Session.Language != "en" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Capture != def.Capture || cfg.Playback != def.Playback || cfg.Trigger != def.Trigger {
		t.Error("defaults not applied to omitted sections")
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Trigger.Phrase != "let me check" || !cfg.Trigger.AutoAssist {
		t.Errorf("trigger = %+v, want the defaults", cfg.Trigger)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("trigger:\n  phrasee: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "phrasee") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
transport:
  url: http://wrong-scheme/ws
capture:
  chunk_samples: -1
playback:
  quality: ultra
transcript:
  mode: some
trigger:
  match: fuzzy
copilot:
  api_url: ftp://x
  timeout: -1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.log_level",
		"transport.url",
		"capture.chunk_samples",
		"playback.quality",
		"transcript.mode",
		"trigger.match",
		"copilot.api_url",
		"copilot.timeout",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_TLSNeedsBothFiles(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.TLS = &config.TLSConfig{CertFile: "cert.pem"}
	if err := config.Validate(cfg); err == nil || !strings.Contains(err.Error(), "server.tls") {
		t.Errorf("Validate = %v, want a server.tls error", err)
	}
}

func TestValidate_TransportURLRequired(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Transport.URL = ""
	if err := config.Validate(cfg); err == nil {
		t.Error("expected error for empty transport.url")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	err := config.ApplyEnv(cfg, []string{
		"COPILOT_API_URL=https://api.example.com",
		"COPILOT_AGENT_NAME=Ada",
		"COPILOT_AGENT_ID=a-1",
		"COPILOT_LEAD_NAME=Lee",
		"COPILOT_LEAD_ID=7",
		"COPILOT_TRANSPORT_URL=wss://t.example.com/ws",
		"COPILOT_LOG_LEVEL=warn",
		"COPILOT_API_TIMEOUT=3s",
		"COPILOT_TRIGGER_PHRASE=hold on",
		"UNRELATED=1",
	})
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Copilot.APIURL != "https://api.example.com" || cfg.Copilot.Timeout != 3*time.Second {
		t.Errorf("copilot = %+v", cfg.Copilot)
	}
	if cfg.Session.Agent != (config.Identity{Name: "Ada", ID: "a-1"}) || cfg.Session.Lead != (config.Identity{Name: "Lee", ID: "7"}) {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Transport.URL != "wss://t.example.com/ws" || cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("transport url = %q, log level = %q", cfg.Transport.URL, cfg.Server.LogLevel)
	}
	if cfg.Trigger.Phrase != "hold on" {
		t.Errorf("trigger phrase = %q", cfg.Trigger.Phrase)
	}
	// Unset variables keep the file values.
	if cfg.Session.Language != "en" {
		t.Errorf("language = %q, want en", cfg.Session.Language)
	}
}

func TestApplyEnv_InvalidDuration(t *testing.T) {
	t.Parallel()

	err := config.ApplyEnv(config.Default(), []string{"COPILOT_API_TIMEOUT=soon"})
	if err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copilot.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COPILOT_LEAD_NAME", "Override")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Lead.Name != "Override" {
		t.Errorf("lead name = %q, want the environment override", cfg.Session.Lead.Name)
	}
	if cfg.Session.Agent.Name != "Ada" {
		t.Errorf("agent name = %q, want the file value", cfg.Session.Agent.Name)
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_NoPath(t *testing.T) {
	t.Setenv("COPILOT_AGENT_NAME", "Env Agent")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Agent.Name != "Env Agent" {
		t.Errorf("agent = %q", cfg.Session.Agent.Name)
	}
}
