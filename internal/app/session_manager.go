package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/salescopilot/internal/config"
	"github.com/MrWong99/salescopilot/internal/copilot"
	"github.com/MrWong99/salescopilot/internal/observe"
	"github.com/MrWong99/salescopilot/internal/stream"
	"github.com/MrWong99/salescopilot/internal/transcript"
	"github.com/MrWong99/salescopilot/pkg/audio"
	"github.com/MrWong99/salescopilot/pkg/audio/decode"
)

var (
	// ErrSessionActive is returned by the Start methods while another session
	// has not finished yet.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by [SessionManager.Stop] when nothing runs.
	ErrNoSession = errors.New("app: no active session")
)

// Assister requests assistance for a trigger. [*copilot.Client] implements
// it.
type Assister interface {
	Assist(ctx context.Context, sessionID, trigger string) (*copilot.Assistance, error)
}

// SessionInfo holds metadata about a session.
type SessionInfo struct {
	// SessionID identifies the call to the transcription service and the
	// REST backend.
	SessionID string

	// Source is "live" or "playback".
	Source string

	// Path is the played file. Empty for live sessions.
	Path string

	StartedAt time.Time
	Agent     stream.Identity
	Lead      stream.Identity
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Config returns the configuration snapshot used for the next session.
	Config func() *config.Config

	Dialer stream.Dialer
	Opener audio.DeviceOpener

	// Assister receives one request per trigger match when auto assist is
	// enabled. Nil disables assistance.
	Assister Assister

	// SessionID is reused by every session of this manager, so a report
	// can be requested for the whole call afterwards. Default: a random UUID.
	SessionID string

	Metrics *observe.Metrics

	// OnSegment is called for every appended transcript segment.
	OnSegment func(SessionInfo, transcript.Segment)

	// OnTrigger is called for every trigger match, after the assistance
	// request when one is made (a nil *Assistance and nil error otherwise).
	OnTrigger func(SessionInfo, transcript.Segment, *copilot.Assistance, error)
}

// run is one started session and the goroutines serving it.
type run struct {
	info     SessionInfo
	sess     *stream.Session
	log      *transcript.Log
	detector *transcript.Detector
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// SessionManager runs at most one stream session at a time and connects its
// transcript to the trigger detector.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu      sync.Mutex
	active  *run
	last    *run
	trigger transcript.TriggerConfig
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	return &SessionManager{
		cfg:     cfg,
		trigger: TriggerConfig(cfg.Config().Trigger),
	}
}

// SessionID returns the identifier shared by this manager's sessions.
func (sm *SessionManager) SessionID() string { return sm.cfg.SessionID }

// StartLive streams the capture device. It returns once the session is open
// or has failed.
func (sm *SessionManager) StartLive(ctx context.Context) error {
	cfg := sm.cfg.Config()
	mode, err := transcript.ParseMode(string(cfg.Transcript.Mode))
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	src := stream.NewLiveSource(sm.cfg.Opener, stream.LiveConfig{
		ChunkSamples: cfg.Capture.ChunkSamples,
		QueueDepth:   cfg.Capture.QueueDepth,
	}, sm.cfg.Metrics)
	return sm.start(ctx, cfg, src, mode, "")
}

// StartPlayback streams the audio file at path as if it were captured live.
// Playback records final transcript events only.
func (sm *SessionManager) StartPlayback(ctx context.Context, path string) error {
	cfg := sm.cfg.Config()
	src := stream.NewPlayback(stream.PlaybackConfig{
		Path:         path,
		ChunkSamples: cfg.Playback.ChunkSamples,
		Interval:     cfg.Playback.Interval,
		Quality:      decode.Quality(cfg.Playback.Quality),
	})
	return sm.start(ctx, cfg, src, transcript.ModeFinalOnly, path)
}

func (sm *SessionManager) start(ctx context.Context, cfg *config.Config, src stream.Source, mode transcript.Mode, path string) error {
	sm.mu.Lock()
	if sm.active != nil {
		sm.mu.Unlock()
		return fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.active.info.SessionID)
	}

	info := SessionInfo{
		SessionID: sm.cfg.SessionID,
		Source:    src.Kind(),
		Path:      path,
		StartedAt: time.Now().UTC(),
		Agent:     stream.Identity{Name: cfg.Session.Agent.Name, ID: cfg.Session.Agent.ID},
		Lead:      stream.Identity{Name: cfg.Session.Lead.Name, ID: cfg.Session.Lead.ID},
	}
	tlog := transcript.NewLog()
	consumer := transcript.NewConsumer(tlog,
		transcript.WithMode(mode),
		transcript.WithParticipants(transcript.Participants{Agent: info.Agent.Name, Lead: info.Lead.Name}),
		transcript.WithMetrics(sm.cfg.Metrics),
	)
	onMessage := func(msg []byte) {
		seg, ok := consumer.Handle(msg)
		if ok && sm.cfg.OnSegment != nil {
			sm.cfg.OnSegment(info, seg)
		}
	}

	sess, err := stream.NewSession(stream.Config{
		URL:              cfg.Transport.URL,
		SessionID:        info.SessionID,
		Agent:            info.Agent,
		Lead:             info.Lead,
		Language:         cfg.Session.Language,
		Engine:           cfg.Transport.Engine,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		CloseTimeout:     cfg.Transport.CloseTimeout,
		DrainTimeout:     cfg.Playback.DrainTimeout,
	}, src, sm.cfg.Dialer,
		stream.WithMessageHandler(onMessage),
		stream.WithMetrics(sm.cfg.Metrics),
	)
	if err != nil {
		sm.mu.Unlock()
		return fmt.Errorf("app: new session: %w", err)
	}

	// The session outlives the request that started it; ctx only bounds the
	// connect phase.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		info:     info,
		sess:     sess,
		log:      tlog,
		detector: transcript.NewDetector(sm.trigger, sm.cfg.Metrics),
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	sm.active = r
	sm.mu.Unlock()

	stopConnect := context.AfterFunc(ctx, func() { _ = sess.Stop(context.WithoutCancel(ctx)) })
	err = sess.Start(runCtx)
	stopConnect()
	if err != nil {
		cancel()
		close(r.loopDone)
		sm.retire(r)
		return fmt.Errorf("app: start %s session: %w", info.Source, err)
	}

	slog.Info("session started",
		"session_id", info.SessionID,
		"source", info.Source,
		"path", path,
		"agent", info.Agent.Name,
		"lead", info.Lead.Name,
	)

	go sm.triggerLoop(runCtx, r)
	go func() {
		<-sess.Done()
		<-r.loopDone
		cancel()
		sm.retire(r)
		st := sess.Stats()
		slog.Info("session ended",
			"session_id", info.SessionID,
			"state", sess.State(),
			"err", sess.Err(),
			"frames_sent", st.FramesSent,
			"frames_dropped", st.FramesDropped,
			"segments", tlog.Len(),
		)
	}()
	return nil
}

// retire moves r from active to last.
func (sm *SessionManager) retire(r *run) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == r {
		sm.active = nil
	}
	sm.last = r
}

// triggerLoop scans the transcript after every append until the session is
// done, then scans once more for segments that arrived during teardown.
func (sm *SessionManager) triggerLoop(ctx context.Context, r *run) {
	defer close(r.loopDone)
	for {
		changed := r.log.Changed()
		sm.scan(ctx, r)
		select {
		case <-changed:
		case <-r.sess.Done():
			sm.scan(ctx, r)
			return
		}
	}
}

func (sm *SessionManager) scan(ctx context.Context, r *run) {
	for _, seg := range r.detector.Scan(ctx, r.log) {
		trigger := r.detector.Config().Phrase
		slog.Info("trigger detected", "session_id", r.info.SessionID, "segment", seg.Index, "speaker", seg.Speaker.String())

		var (
			res *copilot.Assistance
			err error
		)
		if sm.cfg.Assister != nil && sm.cfg.Config().Trigger.AutoAssist {
			// The request completes even if the session ends meanwhile; the
			// client's own timeout bounds it.
			res, err = sm.cfg.Assister.Assist(context.WithoutCancel(ctx), r.info.SessionID, trigger)
			if err != nil {
				slog.Warn("assist request failed", "session_id", r.info.SessionID, "err", err)
			}
		}
		if sm.cfg.OnTrigger != nil {
			sm.cfg.OnTrigger(r.info, seg, res, err)
		}
	}
}

// Stop ends the active session and waits, bounded by ctx, until its
// transcript has been scanned for the last time. It returns [ErrNoSession]
// when nothing runs, otherwise the session's teardown error.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	r := sm.active
	sm.mu.Unlock()
	if r == nil {
		return ErrNoSession
	}

	err := r.sess.Stop(ctx)
	select {
	case <-r.loopDone:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	sm.retire(r)
	return err
}

// Wait blocks until the active session ends or ctx is done, and returns the
// reason the session ended (nil for a clean end). When nothing runs it
// reports on the most recent session.
func (sm *SessionManager) Wait(ctx context.Context) error {
	sm.mu.Lock()
	r := sm.active
	if r == nil {
		r = sm.last
	}
	sm.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.sess.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-r.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.sess.Err()
}

// SetTrigger replaces the trigger configuration, including that of the
// running session's detector.
func (sm *SessionManager) SetTrigger(cfg transcript.TriggerConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.trigger = cfg
	if sm.active != nil {
		sm.active.detector.SetConfig(cfg)
	}
}

// Trigger returns the trigger configuration used for new sessions.
func (sm *SessionManager) Trigger() transcript.TriggerConfig {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.trigger
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns metadata about the active session, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return SessionInfo{}
	}
	return sm.active.info
}

// State returns the state of the active session, or [stream.StateIdle] when
// nothing runs.
func (sm *SessionManager) State() stream.State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return stream.StateIdle
	}
	return sm.active.sess.State()
}

// Transcript returns the segments of the active session, or of the most
// recent one when nothing runs.
func (sm *SessionManager) Transcript() []transcript.Segment {
	sm.mu.Lock()
	r := sm.active
	if r == nil {
		r = sm.last
	}
	sm.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.log.Snapshot()
}

// Ready reports nil while a session is open, or while none runs and the last
// one did not fail.
func (sm *SessionManager) Ready(context.Context) error {
	sm.mu.Lock()
	active, last := sm.active, sm.last
	sm.mu.Unlock()

	if active != nil {
		switch st := active.sess.State(); st {
		case stream.StateOpen:
			return nil
		case stream.StateFailed:
			return fmt.Errorf("session %s failed: %w", active.info.SessionID, active.sess.Err())
		default:
			return fmt.Errorf("session %s is %s", active.info.SessionID, st)
		}
	}
	if last != nil && last.sess.State() == stream.StateFailed {
		return fmt.Errorf("session %s failed: %w", last.info.SessionID, last.sess.Err())
	}
	return nil
}
