package app

import (
	"log/slog"
	"net/http"

	"github.com/MrWong99/salescopilot/internal/config"
	"github.com/MrWong99/salescopilot/internal/transcript"
	"github.com/MrWong99/salescopilot/internal/transcript/phonetic"
)

// TriggerConfig converts the configured trigger into the detector's form.
// A speaker name takes precedence over the numeric speaker channel.
func TriggerConfig(c config.TriggerConfig) transcript.TriggerConfig {
	tc := transcript.TriggerConfig{
		Phrase:  c.Phrase,
		Speaker: transcript.SpeakerID(c.Speaker),
		Mode:    transcript.MatchMode(c.Match),
	}
	if c.SpeakerName != "" {
		tc.Speaker = transcript.SpeakerNamed(c.SpeakerName)
	}
	if tc.Mode == transcript.MatchPhonetic {
		tc.Matcher = phonetic.New()
	}
	return tc
}

// SlogLevel maps a configured log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func httpHeader(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
