package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds the size of one inbound message.
const DefaultReadLimit = 1 << 20

// WebSocketDialer dials the transcription service over WebSocket.
type WebSocketDialer struct {
	// Header is sent with the opening handshake, e.g. for authentication.
	Header http.Header

	// HTTPClient is used for the opening handshake. Nil uses the default.
	HTTPClient *http.Client

	// ReadLimit overrides [DefaultReadLimit] when positive.
	ReadLimit int64
}

var _ Dialer = (*WebSocketDialer)(nil)

// Dial implements [Dialer].
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream: dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream: dial: %w", err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &wsTransport{conn: conn}, nil
}

// wsTransport adapts a *websocket.Conn to [Transport].
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteBinary(ctx context.Context, b []byte) error {
	if b == nil {
		b = []byte{}
	}
	return t.conn.Write(ctx, websocket.MessageBinary, b)
}

// Read returns the next text message, skipping binary ones.
func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, msg, err := t.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return msg, nil
		}
	}
}

// Close performs the closing handshake. If ctx expires first, the
// connection is dropped without waiting for the peer.
func (t *wsTransport) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- t.conn.Close(websocket.StatusNormalClosure, "audio ended")
	}()
	select {
	case err := <-done:
		if err == nil || isNormalClose(err) {
			return nil
		}
		return err
	case <-ctx.Done():
		_ = t.conn.CloseNow()
		return fmt.Errorf("stream: close: %w", ctx.Err())
	}
}

// isNormalClose reports whether err is the peer closing the connection
// cleanly.
func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
