package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

const (
	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second

	// pongWait is how long the peer may stay silent before the connection is
	// treated as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// ErrConnClosed is returned by Conn.ReadMessage after a clean close, either
// local or a normal close frame from the peer.
var ErrConnClosed = errors.New("wsclient: connection closed")

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket and keeps the connection alive
// with ping/pong control frames. Zero durations take the package defaults.
type GorillaDialer struct {
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	PongWait         time.Duration
}

// Dial implements Dialer.
func (d *GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := gorillawebsocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	ping, pong := d.PingPeriod, d.PongWait
	if pong == 0 {
		pong = pongWait
	}
	if ping == 0 || ping >= pong {
		ping = (pong * 9) / 10
	}
	return newGorillaConn(ws, ping, pong), nil
}

// gorillaConn wraps a gorilla/websocket.Conn to satisfy the Conn interface
// and runs the heartbeat.
type gorillaConn struct {
	ws       *gorillawebsocket.Conn
	pongWait time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	local     *atomic.Bool
}

func newGorillaConn(ws *gorillawebsocket.Conn, ping, pong time.Duration) *gorillaConn {
	c := &gorillaConn{
		ws:       ws,
		pongWait: pong,
		done:     make(chan struct{}),
		local:    atomic.NewBool(false),
	}
	_ = ws.SetReadDeadline(time.Now().Add(pong))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	go c.pingLoop(ping)
	return c
}

func (c *gorillaConn) ReadMessage() (int, []byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if c.local.Load() || gorillawebsocket.IsCloseError(err, gorillawebsocket.CloseNormalClosure, gorillawebsocket.CloseGoingAway) {
			return mt, nil, ErrConnClosed
		}
		return mt, nil, err
	}
	// Any frame proves the peer is alive.
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	return mt, data, nil
}

func (c *gorillaConn) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// Close sends a normal close frame and closes the socket. Safe to call more
// than once.
func (c *gorillaConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.local.Store(true)
		close(c.done)
		_ = c.ws.WriteControl(gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *gorillaConn) pingLoop(period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			// WriteControl may run concurrently with WriteMessage.
			if err := c.ws.WriteControl(gorillawebsocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
