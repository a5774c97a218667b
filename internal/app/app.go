// Package app wires the copilot client's subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New builds the REST client, the
// transport dialer, the capture opener and the session manager from the
// config; RunLive and RunPlayback stream one session each; ApplyConfig takes
// hot-reloaded changes; Shutdown stops whatever still runs.
//
// For testing, inject mock implementations via functional options
// (WithDialer, WithDeviceOpener, WithAssister, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/salescopilot/internal/config"
	"github.com/MrWong99/salescopilot/internal/copilot"
	"github.com/MrWong99/salescopilot/internal/health"
	"github.com/MrWong99/salescopilot/internal/observe"
	"github.com/MrWong99/salescopilot/internal/resilience"
	"github.com/MrWong99/salescopilot/internal/stream"
	"github.com/MrWong99/salescopilot/internal/transcript"
	"github.com/MrWong99/salescopilot/pkg/audio"
	"github.com/MrWong99/salescopilot/pkg/audio/capture"
)

// stopGrace is added to the transport close timeout when a run is
// interrupted, covering the flush of queued chunks.
const stopGrace = 5 * time.Second

// App owns all subsystem lifetimes for one call.
type App struct {
	cfg      atomic.Pointer[config.Config]
	level    *slog.LevelVar
	metrics  *observe.Metrics
	client   *copilot.Client
	dialer   stream.Dialer
	opener   audio.DeviceOpener
	assister Assister
	newID    stream.IDFunc
	sessions *SessionManager

	outMu sync.Mutex
	out   io.Writer

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer injects the transport dialer instead of a WebSocket dialer.
func WithDialer(d stream.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithDeviceOpener injects the capture device opener instead of the malgo
// backend.
func WithDeviceOpener(open audio.DeviceOpener) Option {
	return func(a *App) { a.opener = open }
}

// WithCopilotClient injects the REST client instead of creating one from
// config.
func WithCopilotClient(c *copilot.Client) Option {
	return func(a *App) { a.client = c }
}

// WithAssister overrides where trigger matches are sent. Default: the REST
// client.
func WithAssister(as Assister) Option {
	return func(a *App) { a.assister = as }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets ApplyConfig change the log level at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithOutput sets where transcript lines and assistance are printed.
// Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithIDFunc sets the session id generator. Default: uuid.NewString.
func WithIDFunc(fn stream.IDFunc) Option {
	return func(a *App) { a.newID = fn }
}

// New creates an App from cfg. It does not touch the network or the audio
// device; that happens when a session starts.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{out: os.Stdout}
	for _, o := range opts {
		o(a)
	}
	a.cfg.Store(cfg)
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.client == nil {
		c, err := NewCopilotClient(cfg.Copilot, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("app: init copilot client: %w", err)
		}
		a.client = c
	}
	if a.assister == nil {
		a.assister = a.client
	}
	if a.dialer == nil {
		a.dialer = &stream.WebSocketDialer{Header: httpHeader(cfg.Transport.Headers)}
	}
	if a.opener == nil {
		a.opener = capture.Opener(capture.Config{
			DeviceName:   cfg.Capture.Device,
			SampleRate:   cfg.Capture.SampleRate,
			PeriodMillis: cfg.Capture.PeriodMillis,
		})
	}

	var id string
	if a.newID != nil {
		id = a.newID()
	}
	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:    a.Config,
		Dialer:    a.dialer,
		Opener:    a.opener,
		Assister:  a.assister,
		SessionID: id,
		Metrics:   a.metrics,
		OnSegment: a.printSegment,
		OnTrigger: a.printTrigger,
	})
	return a, nil
}

// NewCopilotClient builds the REST client described by cfg, guarded by its
// circuit breaker. A nil m uses [observe.DefaultMetrics].
func NewCopilotClient(cfg config.CopilotConfig, m *observe.Metrics) (*copilot.Client, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "copilot",
		MaxFailures:  cfg.Breaker.MaxFailures,
		ResetTimeout: cfg.Breaker.ResetTimeout,
		IsFailure:    copilot.IsBackendFailure,
	})
	return copilot.NewClient(cfg.APIURL,
		copilot.WithTimeout(cfg.Timeout),
		copilot.WithBreaker(breaker),
		copilot.WithMetrics(m),
	)
}

// Config returns the current configuration.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Client returns the REST client.
func (a *App) Client() *copilot.Client { return a.client }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// SessionID returns the call's session identifier.
func (a *App) SessionID() string { return a.sessions.SessionID() }

// RunLive streams the capture device until ctx is cancelled or the session
// ends on its own. Cancellation is a clean end.
func (a *App) RunLive(ctx context.Context) error {
	return a.run(ctx, a.sessions.StartLive)
}

// RunPlayback streams the file at path and returns once the service has
// delivered the final transcripts, the drain timeout passed, or ctx is
// cancelled.
func (a *App) RunPlayback(ctx context.Context, path string) error {
	return a.run(ctx, func(ctx context.Context) error {
		return a.sessions.StartPlayback(ctx, path)
	})
}

func (a *App) run(ctx context.Context, start func(context.Context) error) error {
	if err := start(ctx); err != nil {
		return err
	}
	err := a.sessions.Wait(ctx)
	if ctx.Err() == nil {
		return err
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config().Transport.CloseTimeout+stopGrace)
	defer cancel()
	if err := a.sessions.Stop(stopCtx); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}

// EndCall asks the backend for the call report of this app's session.
func (a *App) EndCall(ctx context.Context) (*copilot.Report, error) {
	return a.client.EndCall(ctx, a.SessionID())
}

// ApplyConfig is the config watcher callback. The log level and the trigger
// change immediately; other sections apply to the next session, except the
// ones fixed at construction, which need a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	a.cfg.Store(new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TriggerChanged {
		a.sessions.SetTrigger(TriggerConfig(d.NewTrigger))
		slog.Info("trigger changed",
			"phrase", d.NewTrigger.Phrase,
			"speaker", d.NewTrigger.Speaker,
			"match", d.NewTrigger.Match,
			"auto_assist", d.NewTrigger.AutoAssist,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed; they apply to the next session, transport headers and copilot settings need a restart",
			"sections", d.RestartRequired)
	}
}

// HealthCheckers returns the readiness checks for the ops server.
func (a *App) HealthCheckers() []health.Checker {
	return []health.Checker{
		{Name: "session", Check: a.sessions.Ready},
		{Name: "backend", Check: func(context.Context) error {
			if a.client.Breaker().State() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		}},
	}
}

// Shutdown stops the active session, if any. It is safe to call more than
// once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if stopErr := a.sessions.Stop(ctx); stopErr != nil && !errors.Is(stopErr, ErrNoSession) {
			err = stopErr
		}
		slog.Info("shutdown complete", "session_id", a.SessionID())
	})
	return err
}

func (a *App) printSegment(_ SessionInfo, seg transcript.Segment) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintln(a.out, FormatSegment(seg))
}

func (a *App) printTrigger(_ SessionInfo, seg transcript.Segment, res *copilot.Assistance, err error) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, ">> trigger from %s (#%d)\n", seg.Speaker, seg.Index)
	switch {
	case err != nil:
		fmt.Fprintf(a.out, ">> assist failed: %v\n", err)
	case res == nil:
	case res.Error != "":
		fmt.Fprintf(a.out, ">> assist error: %s\n", res.Error)
	case res.Answered():
		fmt.Fprintf(a.out, ">> Q: %s\n>> A: %s\n", res.Question, res.Answer)
	default:
		fmt.Fprintf(a.out, ">> assist: %s %s\n", res.Status, res.Message)
	}
}

// FormatSegment renders one transcript line. Interim hypotheses are marked
// with a trailing ellipsis; sentiment and profanity are appended when known.
func FormatSegment(seg transcript.Segment) string {
	line := fmt.Sprintf("[%s] %s: %s", seg.ReceivedAt.Format("15:04:05"), seg.Speaker, seg.Text)
	if !seg.IsFinal {
		line += " ..."
	}
	if seg.Sentiment != "" {
		line += " (" + seg.Sentiment + ")"
	}
	if seg.Profanity {
		line += " [profanity]"
	}
	return line
}
