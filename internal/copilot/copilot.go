// Package copilot is the client for the sales copilot REST backend: the
// agent/lead directory, assistance requests raised by the trigger phrase, and
// the end-of-call report.
//
// Every request runs through a [resilience.CircuitBreaker] so a failing
// backend is rejected fast instead of piling up requests behind the audio
// path. Client errors (4xx) do not count against the breaker.
package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/salescopilot/internal/observe"
	"github.com/MrWong99/salescopilot/internal/resilience"
)

// ErrStatus is matched by every [*StatusError].
var ErrStatus = errors.New("copilot: unexpected status")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Endpoint string
	Code     int

	// Detail is the backend's error detail, if it sent one.
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("copilot: %s: status %d: %s", e.Endpoint, e.Code, e.Detail)
	}
	return fmt.Sprintf("copilot: %s: status %d", e.Endpoint, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Agent is a sales agent from the directory.
type Agent struct {
	ID   string `json:"agent_id"`
	Name string `json:"name"`
}

// Lead is a lead assigned to an agent.
type Lead struct {
	ID            ID     `json:"id"`
	Name          string `json:"lead_name"`
	AssignedAgent string `json:"assigned_agent,omitempty"`
}

// ID is an identifier the backend sends either as a JSON number or a string.
type ID string

// UnmarshalJSON implements [json.Unmarshaler].
func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("copilot: id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Assistance statuses reported by the backend.
const (
	AssistSuccess   = "success"
	AssistIgnored   = "ignored"
	AssistNoIntent  = "no_intent_detected"
	AssistNoContext = "no_context"
)

// Assistance is the backend's answer to an assistance request.
type Assistance struct {
	Status   string            `json:"status"`
	Question string            `json:"question"`
	Answer   string            `json:"answer"`
	Message  string            `json:"message,omitempty"`
	Context  []json.RawMessage `json:"context,omitempty"`

	// Error is set when the backend had no transcript for the session.
	Error string `json:"error,omitempty"`
}

// Answered reports whether the backend produced an answer to read aloud.
func (a *Assistance) Answered() bool { return a.Answer != "" && a.Error == "" }

// Report is the end-of-call analysis.
type Report struct {
	Sentiment  string   `json:"sentiment"`
	Objections []string `json:"objections"`
	Adherence  string   `json:"adherence"`
	NextSteps  []string `json:"next_steps"`

	Error string `json:"error,omitempty"`
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport should be wrapped
// with [observe.RoundTripper] to keep client spans.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = cb }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// DefaultTimeout bounds one request when no HTTP client is supplied.
const DefaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// Client calls the copilot REST backend. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
}

// NewClient returns a client for the backend at baseURL, e.g.
// http://localhost:8000.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("copilot: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("copilot: base url %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{base: u, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout, Transport: observe.RoundTripper(nil)}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "copilot",
			IsFailure: IsBackendFailure,
		})
	}
	return c, nil
}

// IsBackendFailure reports whether err means the backend is unhealthy:
// transport errors and 5xx responses, but not 4xx responses or cancellation.
func IsBackendFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// Breaker returns the client's circuit breaker.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Agents lists every agent.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := c.do(ctx, "agents", http.MethodGet, "/agents/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Leads lists the leads assigned to the agent.
func (c *Client) Leads(ctx context.Context, agentID string) ([]Lead, error) {
	if agentID == "" {
		return nil, errors.New("copilot: leads: empty agent id")
	}
	var out []Lead
	path := "/agents/" + url.PathEscape(agentID) + "/leads"
	if err := c.do(ctx, "leads", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Assist asks the backend for help with the current point of the call.
// trigger is the phrase that raised the request; empty for manual requests.
func (c *Client) Assist(ctx context.Context, sessionID, trigger string) (*Assistance, error) {
	req := struct {
		SessionID   string `json:"session_id"`
		TriggerWord string `json:"trigger_word,omitempty"`
	}{sessionID, trigger}

	start := time.Now()
	var out Assistance
	err := c.do(ctx, "assist", http.MethodPost, "/assist", req, &out)
	c.metrics.AssistDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EndCall requests the end-of-call report for the session.
func (c *Client) EndCall(ctx context.Context, sessionID string) (*Report, error) {
	req := struct {
		SessionID string `json:"session_id"`
	}{sessionID}

	var out Report
	if err := c.do(ctx, "end_call", http.MethodPost, "/end-call", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, in, out any) (err error) {
	ctx, span := observe.StartSpan(ctx, "copilot."+endpoint)
	defer func() { observe.EndSpan(span, err) }()

	err = c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, endpoint, method, path, in, out)
	})
	status := "ok"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "circuit_open"
	case err != nil:
		status = "error"
	}
	c.metrics.RecordBackendRequest(ctx, endpoint, status)
	return err
}

func (c *Client) roundTrip(ctx context.Context, endpoint, method, path string, in, out any) (err error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("copilot: %s: encode request: %w", endpoint, err)
		}
		body = bytes.NewReader(b)
	}

	// path is already escaped.
	u := *c.base
	u.RawPath = c.base.EscapedPath() + path
	if u.Path, err = url.PathUnescape(u.RawPath); err != nil {
		return fmt.Errorf("copilot: %s: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("copilot: %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("copilot: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Endpoint: endpoint,
			Code:     resp.StatusCode,
			Detail:   errorDetail(io.LimitReader(resp.Body, maxErrorBody)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("copilot: %s: decode response: %w", endpoint, err)
	}
	return nil
}

// errorDetail extracts {"detail": ...} from an error body, falling back to
// the raw text.
func errorDetail(r io.Reader) string {
	b, _ := io.ReadAll(r)
	var v struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(b, &v); err == nil && len(v.Detail) > 0 {
		var s string
		if json.Unmarshal(v.Detail, &s) == nil {
			return s
		}
		return string(v.Detail)
	}
	return strings.TrimSpace(string(b))
}

// FormatReport renders r as plain text lines.
func FormatReport(r *Report) string {
	if r.Error != "" {
		return "report unavailable: " + r.Error
	}
	var b strings.Builder
	fmt.Fprintf(&b, "sentiment: %s\n", r.Sentiment)
	fmt.Fprintf(&b, "adherence: %s\n", r.Adherence)
	writeList(&b, "objections", r.Objections)
	writeList(&b, "next steps", r.NextSteps)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "%s:", title)
	if len(items) == 0 {
		b.WriteString(" none\n")
		return
	}
	b.WriteByte('\n')
	for i, it := range items {
		b.WriteString("  " + strconv.Itoa(i+1) + ". " + it + "\n")
	}
}
