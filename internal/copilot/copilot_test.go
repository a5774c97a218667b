package copilot_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/salescopilot/internal/copilot"
	"github.com/MrWong99/salescopilot/internal/resilience"
)

func newClient(t *testing.T, h http.Handler, opts ...copilot.Option) *copilot.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := copilot.NewClient(srv.URL+"/", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RejectsScheme(t *testing.T) {
	t.Parallel()

	for _, base := range []string{"ws://localhost:8000", "localhost:8000", "::"} {
		if _, err := copilot.NewClient(base); err == nil {
			t.Errorf("NewClient(%q): expected error", base)
		}
	}
}

func TestClient_Agents(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/agents/" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"agent_id":"a1","name":"Ada"},{"agent_id":"a2","name":"Bob"}]`))
	}))

	agents, err := c.Agents(context.Background())
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	want := []copilot.Agent{{ID: "a1", Name: "Ada"}, {ID: "a2", Name: "Bob"}}
	if len(agents) != len(want) {
		t.Fatalf("agents = %v, want %v", agents, want)
	}
	for i := range want {
		if agents[i] != want[i] {
			t.Errorf("agent %d = %+v, want %+v", i, agents[i], want[i])
		}
	}
}

func TestClient_Leads(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/a 1/leads" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":42,"lead_name":"Lee","assigned_agent":"Ada","extra":true},{"id":"x-7","lead_name":"Kim"}]`))
	}))

	leads, err := c.Leads(context.Background(), "a 1")
	if err != nil {
		t.Fatalf("Leads: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("got %d leads, want 2", len(leads))
	}
	if leads[0].ID != "42" || leads[0].Name != "Lee" || leads[0].AssignedAgent != "Ada" {
		t.Errorf("lead 0 = %+v", leads[0])
	}
	if leads[1].ID != "x-7" {
		t.Errorf("lead 1 id = %q, want x-7", leads[1].ID)
	}

	if _, err := c.Leads(context.Background(), ""); err == nil {
		t.Error("empty agent id: expected error")
	}
}

func TestClient_Assist(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/assist" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["session_id"] != "s-1" || body["trigger_word"] != "let me check" {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte(`{"status":"success","question":"fees?","answer":"0.5%","context":[{"content":"kb"}]}`))
	}))

	got, err := c.Assist(context.Background(), "s-1", "let me check")
	if err != nil {
		t.Fatalf("Assist: %v", err)
	}
	if got.Status != copilot.AssistSuccess || got.Question != "fees?" || got.Answer != "0.5%" {
		t.Errorf("assistance = %+v", got)
	}
	if len(got.Context) != 1 || !got.Answered() {
		t.Errorf("context = %d docs, answered = %v", len(got.Context), got.Answered())
	}
}

func TestClient_AssistOmitsEmptyTrigger(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["trigger_word"]; ok {
			t.Errorf("trigger_word sent for a manual request: %v", body)
		}
		_, _ = w.Write([]byte(`{"status":"ignored","message":"context invalid"}`))
	}))

	got, err := c.Assist(context.Background(), "s-1", "")
	if err != nil {
		t.Fatalf("Assist: %v", err)
	}
	if got.Status != copilot.AssistIgnored || got.Answered() {
		t.Errorf("assistance = %+v", got)
	}
}

func TestClient_EndCall(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/end-call" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"sentiment":"Positive","objections":["price"],"adherence":"Yes","next_steps":["send brochure","follow up"]}`))
	}))

	r, err := c.EndCall(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	text := copilot.FormatReport(r)
	for _, want := range []string{"sentiment: Positive", "adherence: Yes", "1. price", "2. follow up"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

func TestClient_StatusError(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"rag exploded"}`))
	}))

	_, err := c.Assist(context.Background(), "s-1", "")
	if !errors.Is(err, copilot.ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
	var se *copilot.StatusError
	if !errors.As(err, &se) {
		t.Fatal("error is not a *StatusError")
	}
	if se.Code != 500 || se.Detail != "rag exploded" || se.Endpoint != "assist" {
		t.Errorf("status error = %+v", se)
	}
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
		IsFailure:    copilot.IsBackendFailure,
	})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), copilot.WithBreaker(cb))

	for i := 0; i < 2; i++ {
		if _, err := c.Agents(context.Background()); !errors.Is(err, copilot.ErrStatus) {
			t.Fatalf("call %d: err = %v, want ErrStatus", i, err)
		}
	}
	if _, err := c.Agents(context.Background()); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("backend hit %d times, want 2", n)
	}
}

func TestClient_ClientErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))

	for i := 0; i < 10; i++ {
		_, err := c.Leads(context.Background(), "nobody")
		var se *copilot.StatusError
		if !errors.As(err, &se) || se.Code != http.StatusNotFound || se.Detail != "missing" {
			t.Fatalf("call %d: err = %v, want 404 missing", i, err)
		}
	}
	if s := c.Breaker().State(); s != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", s)
	}
}

func TestClient_DecodeError(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	if _, err := c.Agents(context.Background()); err == nil || errors.Is(err, copilot.ErrStatus) {
		t.Errorf("err = %v, want a decode error", err)
	}
}

func TestIsBackendFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"not found", &copilot.StatusError{Code: 404}, false},
		{"bad gateway", &copilot.StatusError{Code: 502}, true},
		{"transport", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := copilot.IsBackendFailure(tt.err); got != tt.want {
				t.Errorf("IsBackendFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFormatReport_Error(t *testing.T) {
	t.Parallel()

	got := copilot.FormatReport(&copilot.Report{Error: "No transcript available"})
	if got != "report unavailable: No transcript available" {
		t.Errorf("FormatReport = %q", got)
	}
}
