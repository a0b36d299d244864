package wsclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/pkg/clock"
	"github.com/ehr/clinic-live/pkg/wire"
)

// ---------------------------------------------------------------------------
// fakeConn / fakeDialer
// ---------------------------------------------------------------------------

type fakeConn struct {
	inbound chan []byte
	drop    chan error
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		drop:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.inbound:
		return 1, b, nil
	case err := <-c.drop:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, ErrConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	fail    error
	dials   int
	headers []http.Header
	conns   chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, _ string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.headers = append(d.headers, header)
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection was dialed")
		return nil
	}
}

// ---------------------------------------------------------------------------
// recorder
// ---------------------------------------------------------------------------

type recorder struct {
	events   chan string
	messages chan wire.Message
	errs     chan error
}

func newRecorder() *recorder {
	return &recorder{
		events:   make(chan string, 256),
		messages: make(chan wire.Message, 256),
		errs:     make(chan error, 256),
	}
}

func (r *recorder) OnConnect()    { r.events <- "connect" }
func (r *recorder) OnDisconnect() { r.events <- "disconnect" }
func (r *recorder) OnMessage(msg wire.Message) {
	r.messages <- msg
	r.events <- "message"
}
func (r *recorder) OnError(err error) {
	r.errs <- err
	r.events <- "error"
}

func (r *recorder) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-r.events:
			if got != w {
				t.Fatalf("expected event %q, got %q", w, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %q", w)
		}
	}
}

func (r *recorder) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case got := <-r.events:
		t.Fatalf("expected no event, got %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newTestManager(t *testing.T, d Dialer, clk clock.Clock, policy ReconnectPolicy, h Handler) *Manager {
	t.Helper()
	m, err := New(Options{
		URL:           "ws://clinic.test/ws/dashboard",
		Policy:        policy,
		SendQueueSize: 4,
		Dialer:        d,
		Clock:         clk,
		Logger:        zerolog.Nop(),
	}, h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func assertExclusive(t *testing.T, m *Manager) {
	t.Helper()
	st := m.Status()
	if st.IsConnected() && st.IsConnecting() {
		t.Fatalf("connected and connecting at the same time: %+v", st)
	}
}

var errRefused = errors.New("connection refused")
