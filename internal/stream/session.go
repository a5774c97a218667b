package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/salescopilot/internal/observe"
	"github.com/MrWong99/salescopilot/pkg/audio"
)

// Config describes the transcription endpoint and the call being streamed.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8000/ws/audio.
	URL string

	// SessionID identifies the session to the service. When empty, the
	// session's IDFunc generates one.
	SessionID string

	Agent    Identity
	Lead     Identity
	Language string
	Engine   string

	// HandshakeTimeout bounds the transport handshake.
	HandshakeTimeout time.Duration

	// CloseTimeout bounds each teardown wait: draining queued chunks and
	// the transport's closing handshake.
	CloseTimeout time.Duration

	// DrainTimeout is how long a session whose source ran out keeps reading
	// final transcripts after the end-of-audio sentinel, unless the remote
	// side closes first.
	DrainTimeout time.Duration
}

// IDFunc generates session identifiers.
type IDFunc func() string

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithIDFunc sets the session id generator. Default: [uuid.NewString].
func WithIDFunc(fn IDFunc) Option {
	return func(s *Session) { s.newID = fn }
}

// WithMessageHandler sets the callback for inbound text messages. It runs on
// the session's read goroutine, one message at a time.
func WithMessageHandler(fn func(msg []byte)) Option {
	return func(s *Session) { s.onMessage = fn }
}

// WithStateHook sets a callback invoked after every state transition.
func WithStateHook(fn func(from, to State)) Option {
	return func(s *Session) { s.onState = fn }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Stats is a snapshot of a session's transmission counters.
type Stats struct {
	FramesSent    uint64
	BytesSent     uint64
	FramesDropped uint64
	SentinelSent  bool
}

// Session is one capture-to-transport run. It owns its audio source and its
// transport and releases both in one teardown routine.
//
// Start and Stop may be called from different goroutines. Stop is idempotent
// and safe in every state.
type Session struct {
	cfg       Config
	source    Source
	dialer    Dialer
	newID     IDFunc
	onMessage func([]byte)
	onState   func(from, to State)
	metrics   *observe.Metrics
	log       *slog.Logger

	mu            sync.Mutex
	state         State
	err           error
	stopErr       error
	transport     Transport
	cancelConnect context.CancelFunc
	cancelIO      context.CancelFunc

	stopReq  chan struct{}
	stopOnce sync.Once
	halt     chan struct{}
	done     chan struct{}
	sendDone chan struct{}
	readDone chan struct{}
	readErr  error

	stopping     atomic.Bool
	remoteGone   atomic.Bool
	sentinelSent atomic.Bool
	framesSent   atomic.Uint64
	bytesSent    atomic.Uint64
	dropped      atomic.Uint64
}

// NewSession returns an idle session streaming src to the endpoint in cfg.
func NewSession(cfg Config, src Source, dialer Dialer, opts ...Option) (*Session, error) {
	if src == nil {
		return nil, errors.New("stream: nil source")
	}
	if dialer == nil {
		return nil, errors.New("stream: nil dialer")
	}
	if cfg.URL == "" {
		return nil, errors.New("stream: empty url")
	}
	s := &Session{
		cfg:      cfg,
		source:   src,
		dialer:   dialer,
		newID:    uuid.NewString,
		stopReq:  make(chan struct{}),
		halt:     make(chan struct{}),
		done:     make(chan struct{}),
		sendDone: make(chan struct{}),
		readDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.cfg.SessionID == "" {
		s.cfg.SessionID = s.newID()
	}
	if s.cfg.Language == "" {
		s.cfg.Language = DefaultLanguage
	}
	if s.cfg.HandshakeTimeout <= 0 {
		s.cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.cfg.CloseTimeout <= 0 {
		s.cfg.CloseTimeout = DefaultCloseTimeout
	}
	if s.cfg.DrainTimeout <= 0 {
		s.cfg.DrainTimeout = DefaultDrainTimeout
	}
	s.log = observe.SessionLogger(context.Background(), s.cfg.SessionID).With("source", src.Kind())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.SessionID }

// Handshake returns the parameters sent when connecting.
func (s *Session) Handshake() Handshake {
	return Handshake{
		SessionID: s.cfg.SessionID,
		Agent:     s.cfg.Agent,
		Lead:      s.cfg.Lead,
		Language:  s.cfg.Language,
		Engine:    s.cfg.Engine,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches Closed or Failed and every
// resource has been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session failed: a handshake, device or decode error
// from Start, or [ErrTransportClosed]. It is nil while running and after a
// clean stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns the transmission counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesSent:    s.framesSent.Load(),
		BytesSent:     s.bytesSent.Load(),
		FramesDropped: s.dropped.Load(),
		SentinelSent:  s.sentinelSent.Load(),
	}
}

// Start connects to the service while the source acquires its audio, and
// returns once the session is Open. If either fails, everything acquired so
// far is released, the session moves to Failed and the error is returned.
//
// ctx governs the session's lifetime: cancelling it after Start returns
// stops the session as if Stop had been called.
func (s *Session) Start(ctx context.Context) (err error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.state = StateConnecting
	s.cancelConnect = cancel
	s.mu.Unlock()
	s.notify(StateIdle, StateConnecting)

	cctx, span := observe.StartSpan(cctx, "stream.connect")
	defer func() { observe.EndSpan(span, err) }()

	url, err := s.Handshake().URL(s.cfg.URL)
	if err != nil {
		return s.abort(err, nil)
	}

	begin := time.Now()
	var t Transport
	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() error {
		dctx, cancel := context.WithTimeout(gctx, s.cfg.HandshakeTimeout)
		defer cancel()
		conn, err := s.dialer.Dial(dctx, url)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		t = conn
		return nil
	})
	g.Go(func() error {
		return s.source.Start(gctx)
	})
	if err := g.Wait(); err != nil {
		return s.abort(err, t)
	}

	// Anything queued up to here was produced while connecting.
	s.discardStale(cctx)

	s.mu.Lock()
	select {
	case <-s.stopReq:
		s.mu.Unlock()
		return s.abort(ErrStopped, t)
	default:
	}
	ioCtx, cancelIO := context.WithCancel(context.WithoutCancel(ctx))
	s.transport = t
	s.cancelIO = cancelIO
	s.state = StateOpen
	s.mu.Unlock()
	s.notify(StateConnecting, StateOpen)

	s.metrics.HandshakeDuration.Record(cctx, time.Since(begin).Seconds())
	s.metrics.ActiveSessions.Add(cctx, 1)
	s.log.Info("stream: session open", "handshake", time.Since(begin))

	go s.readLoop(ioCtx, t)
	go s.sendLoop(ioCtx, t)
	s.source.Begin()
	go s.supervise(ctx)
	return nil
}

// abort releases whatever Start acquired and ends the session. Stop during
// Connecting ends in Closed, anything else in Failed.
func (s *Session) abort(cause error, t Transport) error {
	var errs []error
	if err := s.source.Stop(); err != nil {
		errs = append(errs, err)
	}
	if t != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
		if err := t.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	close(s.sendDone)
	close(s.readDone)

	final := StateFailed
	select {
	case <-s.stopReq:
		final = StateClosed
		cause = ErrStopped
	default:
	}
	if final == StateFailed {
		s.metrics.RecordSessionError(context.Background(), errorKind(cause))
		s.log.Error("stream: session failed to open", "err", cause)
		s.finish(final, cause, errors.Join(errs...))
	} else {
		s.log.Info("stream: stopped while connecting")
		s.finish(final, nil, errors.Join(errs...))
	}
	return cause
}

// discardStale drops chunks the source produced before the transport opened.
func (s *Session) discardStale(ctx context.Context) {
	chunks := s.source.Chunks()
	n := 0
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				s.logStale(n)
				return
			}
			n++
			s.drop(ctx, audio.DropNotOpen)
		default:
			s.logStale(n)
			return
		}
	}
}

func (s *Session) logStale(n int) {
	if n > 0 {
		s.log.Debug("stream: dropped chunks produced before open", "count", n)
	}
}

func (s *Session) readLoop(ctx context.Context, t Transport) {
	defer close(s.readDone)
	for {
		msg, err := t.Read(ctx)
		if err != nil {
			s.readErr = err
			return
		}
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

func (s *Session) sendLoop(ctx context.Context, t Transport) {
	defer close(s.sendDone)
	for c := range s.source.Chunks() {
		s.send(ctx, t, c)
	}

	if s.remoteGone.Load() {
		return
	}
	// Marked before the write: the peer may close as soon as it sees it.
	s.sentinelSent.Store(true)
	if err := t.WriteBinary(ctx, []byte{}); err != nil {
		s.sentinelSent.Store(false)
		s.log.Warn("stream: send end-of-audio", "err", err)
		return
	}
	s.log.Debug("stream: end-of-audio sent")
	if s.stopping.Load() {
		return
	}

	// The source ran out on its own. Keep reading so the final transcripts
	// still arrive.
	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-s.readDone:
	case <-timer.C:
	case <-s.stopReq:
	case <-s.halt:
	case <-ctx.Done():
	}
}

func (s *Session) send(ctx context.Context, t Transport, c audio.Chunk) {
	if s.remoteGone.Load() {
		s.drop(ctx, audio.DropClosed)
		return
	}
	if err := t.WriteBinary(ctx, c); err != nil {
		s.drop(ctx, audio.DropClosed)
		s.log.Debug("stream: write failed", "err", err)
		return
	}
	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(len(c)))
	s.metrics.RecordFrameSent(ctx, len(c))
}

func (s *Session) drop(ctx context.Context, reason audio.DropReason) {
	s.dropped.Add(1)
	s.metrics.RecordFrameDropped(ctx, string(reason))
}

// supervise waits for the first reason to end an open session and tears it
// down.
func (s *Session) supervise(ctx context.Context) {
	var cause error
	select {
	case <-s.stopReq:
	case <-ctx.Done():
		s.log.Info("stream: context done, stopping")
	case <-s.sendDone:
		s.log.Info("stream: source exhausted")
	case <-s.readDone:
		s.remoteGone.Store(true)
		if !s.sentinelSent.Load() {
			cause = fmt.Errorf("%w: %w", ErrTransportClosed, s.readErr)
			s.log.Warn("stream: transport closed by remote", "err", s.readErr)
		}
	}
	s.teardown(cause)
}

// teardown releases the session's resources in order: the source (halt,
// disconnect, release), then the queued chunks and the end-of-audio
// sentinel, then the transport. Every step runs; errors are joined.
func (s *Session) teardown(cause error) {
	s.stopping.Store(true)
	close(s.halt)
	var errs []error

	if err := s.source.Stop(); err != nil {
		errs = append(errs, err)
	}

	wait := time.NewTimer(s.cfg.CloseTimeout)
	select {
	case <-s.sendDone:
	case <-wait.C:
		s.log.Warn("stream: timed out draining audio")
		s.cancelIO()
		<-s.sendDone
	}
	wait.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
	if err := s.transport.Close(ctx); err != nil && !s.remoteGone.Load() {
		errs = append(errs, fmt.Errorf("stream: close transport: %w", err))
	}
	cancel()
	s.cancelIO()
	<-s.readDone

	s.metrics.ActiveSessions.Add(context.Background(), -1)
	final := StateClosed
	if cause != nil {
		final = StateFailed
		s.metrics.RecordSessionError(context.Background(), errorKind(cause))
	}
	st := s.Stats()
	s.log.Info("stream: session closed",
		"state", final,
		"frames_sent", st.FramesSent,
		"bytes_sent", st.BytesSent,
		"frames_dropped", st.FramesDropped,
	)
	s.finish(final, cause, errors.Join(errs...))
}

// finish records the terminal state and releases Done.
func (s *Session) finish(final State, cause, stopErr error) {
	s.mu.Lock()
	from := s.state
	s.state = final
	s.err = cause
	s.stopErr = stopErr
	s.mu.Unlock()
	s.notify(from, final)
	close(s.done)
}

// Stop ends the session and waits, bounded by ctx, until every resource is
// released. It returns the errors encountered while releasing them; repeated
// calls return the same result and send nothing further.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopReq) })

	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateClosed
		s.mu.Unlock()
		s.notify(StateIdle, StateClosed)
		close(s.done)
		return nil
	case StateConnecting:
		s.cancelConnect()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopErr
	case <-ctx.Done():
		return fmt.Errorf("stream: stop: %w", ctx.Err())
	}
}

func (s *Session) notify(from, to State) {
	s.log.Debug("stream: state", "from", from, "to", to)
	if s.onState != nil {
		s.onState(from, to)
	}
}

// errorKind classifies a session failure for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrHandshake):
		return "handshake"
	case errors.Is(err, audio.ErrDeviceAccessDenied):
		return "device"
	case errors.Is(err, audio.ErrDecode):
		return "decode"
	case errors.Is(err, ErrTransportClosed):
		return "remote_close"
	default:
		return "other"
	}
}
