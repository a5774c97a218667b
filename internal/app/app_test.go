package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/salescopilot/internal/app"
	"github.com/MrWong99/salescopilot/internal/config"
	"github.com/MrWong99/salescopilot/internal/copilot"
	"github.com/MrWong99/salescopilot/internal/resilience"
	"github.com/MrWong99/salescopilot/internal/stream"
	"github.com/MrWong99/salescopilot/internal/stream/mock"
	"github.com/MrWong99/salescopilot/internal/transcript"
	"github.com/MrWong99/salescopilot/pkg/audio"
	audiomock "github.com/MrWong99/salescopilot/pkg/audio/mock"
)

// syncBuffer is a bytes.Buffer safe for the app's writer and the test reader.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type appFixture struct {
	app      *app.App
	tr       *mock.Transport
	dialer   *mock.Dialer
	assister *fakeAssister
	out      *syncBuffer
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) *appFixture {
	t.Helper()
	f := &appFixture{
		tr:       mock.NewTransport(),
		assister: &fakeAssister{res: &copilot.Assistance{Status: copilot.AssistSuccess, Question: "What does it cost?", Answer: "Ten euros."}},
		out:      &syncBuffer{},
	}
	f.dialer = &mock.Dialer{Transport: f.tr}
	dev := &audiomock.Device{Rate: audio.TargetSampleRate}

	base := []app.Option{
		app.WithDialer(f.dialer),
		app.WithDeviceOpener(dev.Opener()),
		app.WithAssister(f.assister),
		app.WithOutput(f.out),
		app.WithIDFunc(func() string { return "call-42" }),
	}
	a, err := app.New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return f
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), app.WithIDFunc(func() string { return "fixed" }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Client() == nil {
		t.Fatal("Client() = nil")
	}
	if got := a.SessionID(); got != "fixed" {
		t.Errorf("SessionID = %q, want fixed", got)
	}
	if a.Sessions().IsActive() {
		t.Error("new app has an active session")
	}
}

func TestNew_GeneratesSessionID(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(a.SessionID()) != 36 {
		t.Errorf("SessionID = %q, want a UUID", a.SessionID())
	}
}

func TestNew_RejectsBadAPIURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Copilot.APIURL = "ftp://backend"
	if _, err := app.New(cfg); err == nil {
		t.Fatal("New accepted an ftp api url")
	}
}

func TestApp_RunLiveUntilCancelled(t *testing.T) {
	t.Parallel()

	f := newTestApp(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- f.app.RunLive(ctx) }()

	eventually(t, "open session", func() bool { return f.app.Sessions().State() == stream.StateOpen })
	f.tr.Deliver([]byte(`{"type":"transcript","data":"let me check the price","speaker":0,"is_final":true}`))
	eventually(t, "assistance printed", func() bool { return strings.Contains(f.out.String(), "Ten euros.") })

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("RunLive = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunLive did not return after cancel")
	}

	if f.tr.Sentinels() != 1 {
		t.Errorf("sentinels = %d, want 1", f.tr.Sentinels())
	}
	out := f.out.String()
	for _, want := range []string{"Ada: let me check the price", ">> trigger from Ada", ">> Q: What does it cost?"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if calls := f.assister.Calls(); len(calls) != 1 || calls[0].SessionID != "call-42" {
		t.Errorf("assist calls = %+v", calls)
	}
}

func TestApp_RunLiveHandshakeFailure(t *testing.T) {
	t.Parallel()

	f := newTestApp(t, testConfig())
	f.dialer.DialError = errors.New("refused")

	if err := f.app.RunLive(context.Background()); !errors.Is(err, stream.ErrHandshake) {
		t.Fatalf("RunLive = %v, want ErrHandshake", err)
	}
}

func TestApp_RunLiveRemoteClose(t *testing.T) {
	t.Parallel()

	f := newTestApp(t, testConfig())
	errc := make(chan error, 1)
	go func() { errc <- f.app.RunLive(context.Background()) }()

	eventually(t, "open session", func() bool { return f.app.Sessions().State() == stream.StateOpen })
	f.tr.CloseRemote()

	select {
	case err := <-errc:
		if !errors.Is(err, stream.ErrTransportClosed) {
			t.Fatalf("RunLive = %v, want ErrTransportClosed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunLive did not return after remote close")
	}
}

func TestApp_RunPlayback(t *testing.T) {
	t.Parallel()

	f := newTestApp(t, testConfig())
	path := writeWAV(t, 8000, 1000)

	errc := make(chan error, 1)
	go func() { errc <- f.app.RunPlayback(context.Background(), path) }()

	eventually(t, "sentinel", func() bool { return f.tr.Sentinels() == 1 })
	f.tr.Deliver([]byte(`{"type":"transcript","data":"thanks for calling","speaker_name":"Lee","speaker":1,"is_final":true}`))
	eventually(t, "transcript printed", func() bool { return strings.Contains(f.out.String(), "Lee: thanks for calling") })
	f.tr.CloseRemote()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("RunPlayback = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunPlayback did not return")
	}

	// 1000 samples at 8 kHz become 2000 at 16 kHz: one partial chunk.
	writes := f.tr.Writes()
	if len(writes) != 2 || len(writes[0]) != 4000 || len(writes[1]) != 0 {
		t.Errorf("got %d writes, want one 4000-byte chunk and the sentinel", len(writes))
	}
}

func TestApp_EndCall(t *testing.T) {
	t.Parallel()

	var gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/end-call" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			SessionID string `json:"session_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotSession = body.SessionID
		_, _ = w.Write([]byte(`{"sentiment":"Neutral","objections":[],"adherence":"Yes","next_steps":["email"]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Copilot.APIURL = srv.URL
	a, err := app.New(cfg, app.WithIDFunc(func() string { return "call-7" }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, err := a.EndCall(context.Background())
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if gotSession != "call-7" {
		t.Errorf("session_id = %q, want call-7", gotSession)
	}
	if rep.Sentiment != "Neutral" || len(rep.NextSteps) != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	old := testConfig()
	f := newTestApp(t, old, app.WithLevelVar(&lv))

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Trigger.Phrase = "give me a second"
	updated.Trigger.Match = config.MatchPhonetic
	updated.Session.Language = "de"

	f.app.ApplyConfig(old, updated)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	tc := f.app.Sessions().Trigger()
	if tc.Phrase != "give me a second" || tc.Mode != transcript.MatchPhonetic || tc.Matcher == nil {
		t.Errorf("trigger = %+v", tc)
	}
	if f.app.Config() != updated {
		t.Error("Config() does not return the applied config")
	}

	// The next session uses the new language.
	if err := f.app.Sessions().StartLive(context.Background()); err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	if urls := f.dialer.DialedURLs(); len(urls) != 1 || !strings.Contains(urls[0], "language=de") {
		t.Errorf("dialed %v, want language=de", urls)
	}
}

func TestApp_HealthCheckers(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "copilot", MaxFailures: 1, ResetTimeout: time.Hour})
	client, err := copilot.NewClient("http://backend.test", copilot.WithBreaker(breaker))
	if err != nil {
		t.Fatal(err)
	}
	f := newTestApp(t, testConfig(), app.WithCopilotClient(client))

	checks := map[string]func(context.Context) error{}
	for _, c := range f.app.HealthCheckers() {
		checks[c.Name] = c.Check
	}
	if len(checks) != 2 || checks["session"] == nil || checks["backend"] == nil {
		t.Fatalf("checkers = %v", checks)
	}

	ctx := context.Background()
	if err := checks["backend"](ctx); err != nil {
		t.Errorf("backend check = %v before failures", err)
	}
	_ = breaker.Do(ctx, func(context.Context) error { return errors.New("boom") })
	if err := checks["backend"](ctx); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("backend check = %v, want ErrCircuitOpen", err)
	}
	if err := checks["session"](ctx); err != nil {
		t.Errorf("session check when idle = %v", err)
	}
}

func TestApp_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	f := newTestApp(t, testConfig())
	if err := f.app.Sessions().StartLive(context.Background()); err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	ctx := context.Background()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if f.app.Sessions().IsActive() {
		t.Error("session still active after Shutdown")
	}
	if f.tr.Sentinels() != 1 {
		t.Errorf("sentinels = %d, want 1", f.tr.Sentinels())
	}
}

func TestFormatSegment(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)
	tests := []struct {
		name string
		seg  transcript.Segment
		want string
	}{
		{
			name: "final",
			seg:  transcript.Segment{Text: "hello", Speaker: transcript.SpeakerNamed("Ada"), IsFinal: true, ReceivedAt: at},
			want: "[09:30:15] Ada: hello",
		},
		{
			name: "partial",
			seg:  transcript.Segment{Text: "hel", Speaker: transcript.SpeakerID(3), ReceivedAt: at},
			want: "[09:30:15] Speaker 3: hel ...",
		},
		{
			name: "annotated",
			seg:  transcript.Segment{Text: "darn", Speaker: transcript.SpeakerNamed("Lee"), IsFinal: true, Sentiment: "negative", Profanity: true, ReceivedAt: at},
			want: "[09:30:15] Lee: darn (negative) [profanity]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := app.FormatSegment(tt.seg); got != tt.want {
				t.Errorf("FormatSegment = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTriggerConfig(t *testing.T) {
	t.Parallel()

	tc := app.TriggerConfig(config.TriggerConfig{Phrase: "let me check", Speaker: 0, Match: config.MatchExact})
	if !tc.Speaker.HasID || tc.Speaker.ID != 0 || tc.Matcher != nil {
		t.Errorf("exact trigger = %+v", tc)
	}

	tc = app.TriggerConfig(config.TriggerConfig{Phrase: "x", Speaker: 1, SpeakerName: "Ada", Match: config.MatchPhonetic})
	if tc.Speaker.HasID || tc.Speaker.Name != "Ada" {
		t.Errorf("speaker = %+v, want name Ada", tc.Speaker)
	}
	if tc.Mode != transcript.MatchPhonetic || tc.Matcher == nil {
		t.Errorf("phonetic trigger = %+v", tc)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
