package hass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport constants.
const (
	// DefaultPath is the gateway WebSocket endpoint.
	DefaultPath = "/api/websocket"

	// defaultHandshakeTimeout bounds the HTTP upgrade.
	defaultHandshakeTimeout = 10 * time.Second

	// closeWriteTimeout bounds the close frame written on Close.
	closeWriteTimeout = time.Second

	// defaultReadLimit caps one inbound frame. get_states on a large
	// installation runs to several megabytes.
	defaultReadLimit = 64 << 20
)

// Transport is a duplex stream of text frames over one connection.
//
// The Client calls ReadFrame from exactly one goroutine and WriteFrame from
// exactly one other goroutine. Close may be called from any goroutine and
// must unblock a pending ReadFrame.
type Transport interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
}

// wsTransport adapts a gorilla/websocket connection to Transport.
type wsTransport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// DialWebsocket opens a WebSocket connection to url.
func DialWebsocket(ctx context.Context, url string, header http.Header) (Transport, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // Body is unused after upgrade
	}
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return NewWebsocketTransport(conn), nil
}

// NewWebsocketTransport wraps an established gorilla/websocket connection.
func NewWebsocketTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(defaultReadLimit)
	return &wsTransport{conn: conn}
}

// ReadFrame blocks until a text frame arrives. Binary frames are skipped.
// ctx is honoured only through Close: gorilla reads cannot be interrupted
// any other way.
func (t *wsTransport) ReadFrame(_ context.Context) ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, t.mapError(err)
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

// WriteFrame writes one text frame, using the context deadline if set.
func (t *wsTransport) WriteFrame(ctx context.Context, data []byte) error {
	deadline, _ := ctx.Deadline() //nolint:errcheck // zero deadline means none
	//nolint:errcheck // Best-effort deadline; write error caught below
	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return t.mapError(err)
	}
	return nil
}

// Close sends a best-effort close frame and closes the socket.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		//nolint:errcheck // Best-effort close message
		t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// mapError turns orderly closes into ErrTransportClosed.
func (t *wsTransport) mapError(err error) error {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, websocket.ErrCloseSent):
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
	return err
}
