// Package stream owns the lifecycle of one capture-to-transport session: it
// dials the transcription service with the session's identifying parameters,
// forwards audio chunks as binary messages while the transport is open,
// signals end-of-audio with a zero-length frame, hands inbound messages to a
// callback, and releases every acquired resource on stop.
//
// Two audio sources share the same [Session] state machine and are mutually
// exclusive per session: [LiveSource] (capture device → resampler → chunk
// buffer) and [Playback] (decoded file, paced by a ticker).
//
// State machine:
//
//	Idle → Connecting → Open → Closed
//	          │           │
//	          └───────────┴──→ Failed
//
// Failed is a terminal variant of Closed; both release the same resources.
// Nothing in this package retries; reconnecting is the caller's decision.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/salescopilot/pkg/audio"
)

var (
	// ErrHandshake is returned when the transport cannot be opened.
	ErrHandshake = errors.New("stream: handshake failed")

	// ErrTransportClosed is reported via [Session.Err] when the remote side
	// closes the transport before the session ends.
	ErrTransportClosed = errors.New("stream: transport closed unexpectedly")

	// ErrSessionStarted is returned by [Session.Start] on a session that has
	// already left the Idle state.
	ErrSessionStarted = errors.New("stream: session already started")

	// ErrStopped is returned by [Session.Start] when Stop is called while the
	// session is still connecting.
	ErrStopped = errors.New("stream: stopped while connecting")
)

// State is the transport state of a [Session].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Closed or Failed.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// Transport is an open, message-oriented connection to the transcription
// service. WriteBinary and Read may be called concurrently with each other
// and with Close.
type Transport interface {
	// WriteBinary sends one binary message. A zero-length message is the
	// end-of-audio sentinel.
	WriteBinary(ctx context.Context, b []byte) error

	// Read returns the next inbound text message.
	Read(ctx context.Context) ([]byte, error)

	// Close closes the connection, waiting at most until ctx is done for the
	// closing handshake.
	Close(ctx context.Context) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// Source produces the audio chunks streamed by a [Session].
type Source interface {
	// Start acquires the audio: it opens the capture device or decodes the
	// file. It runs concurrently with the transport handshake; ctx bounds the
	// acquisition only.
	Start(ctx context.Context) error

	// Chunks delivers completed chunks. It is valid after Start succeeds and
	// is closed when the source is exhausted or stopped.
	Chunks() <-chan audio.Chunk

	// Begin is called once the transport is open.
	Begin()

	// Stop halts production, disconnects the processing graph (flushing any
	// partial chunk into Chunks) and releases the device, in that order. Every
	// step runs even if an earlier one fails. Stop closes the Chunks channel
	// and is safe to call more than once, including after a failed Start.
	Stop() error

	// Kind names the source in logs: "live" or "playback".
	Kind() string
}

// Defaults applied by [NewSession] to zero [Config] fields.
const (
	DefaultLanguage         = "en"
	DefaultHandshakeTimeout = 20 * time.Second
	DefaultCloseTimeout     = 5 * time.Second
	DefaultDrainTimeout     = 10 * time.Second
)
