// Package mock provides in-memory [stream.Dialer] and [stream.Transport]
// implementations for unit tests.
//
// The transport records every binary write, lets tests inject inbound text
// messages with [Transport.Deliver], and simulates the remote side closing
// with [Transport.CloseRemote].
//
// Typical usage:
//
//	tr := mock.NewTransport()
//	d := &mock.Dialer{Transport: tr}
//	// ... hand d to stream.NewSession, then:
//	tr.Deliver([]byte(`{"type":"transcript","text":"hi"}`))
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/salescopilot/internal/stream"
)

// ErrRemoteClosed is returned by Read and WriteBinary after [Transport.CloseRemote].
var ErrRemoteClosed = errors.New("mock: remote closed")

// ErrClosed is returned by Read and WriteBinary after Close.
var ErrClosed = errors.New("mock: transport closed")

// Dialer is a mock implementation of [stream.Dialer].
type Dialer struct {
	mu sync.Mutex

	// Transport is returned by Dial.
	Transport *Transport

	// DialError, when non-nil, is returned by Dial.
	DialError error

	// Delay makes Dial wait before returning, honouring ctx.
	Delay time.Duration

	// URLs records the url of every Dial call.
	URLs []string
}

var _ stream.Dialer = (*Dialer)(nil)

// Dial implements [stream.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string) (stream.Transport, error) {
	d.mu.Lock()
	d.URLs = append(d.URLs, url)
	delay, dialErr, tr := d.Delay, d.DialError, d.Transport
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}
	if tr == nil {
		tr = NewTransport()
	}
	return tr, nil
}

// DialedURLs returns a copy of the recorded urls.
func (d *Dialer) DialedURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.URLs))
	copy(out, d.URLs)
	return out
}

// Transport is a mock implementation of [stream.Transport].
type Transport struct {
	mu       sync.Mutex
	writes   [][]byte
	closes   int
	writeErr error
	written  chan struct{}

	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	remote    chan struct{}
	remOnce   sync.Once
}

var _ stream.Transport = (*Transport)(nil)

// NewTransport returns an open transport.
func NewTransport() *Transport {
	return &Transport{
		inbox:   make(chan []byte, 64),
		closed:  make(chan struct{}),
		remote:  make(chan struct{}),
		written: make(chan struct{}, 1),
	}
}

// WriteBinary implements [stream.Transport]. It records a copy of b.
func (t *Transport) WriteBinary(_ context.Context, b []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	case <-t.remote:
		return ErrRemoteClosed
	default:
	}
	t.mu.Lock()
	if t.writeErr != nil {
		err := t.writeErr
		t.mu.Unlock()
		return err
	}
	t.writes = append(t.writes, append([]byte{}, b...))
	t.mu.Unlock()
	select {
	case t.written <- struct{}{}:
	default:
	}
	return nil
}

// Read implements [stream.Transport].
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-t.inbox:
		return msg, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-t.remote:
		return nil, ErrRemoteClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements [stream.Transport].
func (t *Transport) Close(_ context.Context) error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Deliver queues msg as an inbound text message.
func (t *Transport) Deliver(msg []byte) { t.inbox <- msg }

// CloseRemote simulates the service closing the connection.
func (t *Transport) CloseRemote() { t.remOnce.Do(func() { close(t.remote) }) }

// FailWrites makes every subsequent WriteBinary return err.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Writes returns copies of the recorded binary messages in order.
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// Sentinels counts the zero-length writes.
func (t *Transport) Sentinels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.writes {
		if len(w) == 0 {
			n++
		}
	}
	return n
}

// Closes returns how often Close was called.
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// Written is signalled (without blocking) after each successful write.
func (t *Transport) Written() <-chan struct{} { return t.written }
