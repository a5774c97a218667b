package stream

import (
	"fmt"
	"net/url"
)

// Identity names one call participant as the transcription service knows it.
type Identity struct {
	Name string
	ID   string
}

// Handshake is the set of parameters that identifies a session to the
// transcription service. They travel in the query string of the connection
// URL.
type Handshake struct {
	SessionID string
	Agent     Identity
	Lead      Identity
	Language  string

	// Engine selects the transcription backend. Optional.
	Engine string
}

// URL returns base with the handshake parameters merged into its query.
// Empty optional values are omitted.
func (h Handshake) URL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("stream: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("stream: unsupported url scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("session_id", h.SessionID)
	setIf(q, "agent_name", h.Agent.Name)
	setIf(q, "agent_id", h.Agent.ID)
	setIf(q, "lead_name", h.Lead.Name)
	setIf(q, "lead_id", h.Lead.ID)
	setIf(q, "language", h.Language)
	setIf(q, "engine", h.Engine)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setIf(q url.Values, key, val string) {
	if val != "" {
		q.Set(key, val)
	}
}
