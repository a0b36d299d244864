// Package wsclient implements the client side of a realtime channel: one
// duplex WebSocket connection with fixed-interval, capped auto-reconnect,
// JSON message parsing and serial dispatch to a Handler.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/ehr/clinic-live/pkg/clock"
	"github.com/ehr/clinic-live/pkg/wire"
)

var (
	// ErrNotConnected is returned by Send when the channel is not open. The
	// frame is dropped, never queued.
	ErrNotConnected = errors.New("wsclient: not connected")
	// ErrClosed is returned by operations on a Manager after Close.
	ErrClosed = errors.New("wsclient: manager closed")
)

// State is the lifecycle state of a channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText lets State render as its name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Handler receives channel events. All methods are called from a single
// dispatch goroutine, in the order the events happened. They may call any
// Manager method, including Disconnect and Close.
type Handler interface {
	OnConnect()
	OnDisconnect()
	OnMessage(msg wire.Message)
	OnError(err error)
}

// HandlerFuncs adapts optional functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Connect    func()
	Disconnect func()
	Message    func(wire.Message)
	Error      func(error)
}

func (h HandlerFuncs) OnConnect() {
	if h.Connect != nil {
		h.Connect()
	}
}

func (h HandlerFuncs) OnDisconnect() {
	if h.Disconnect != nil {
		h.Disconnect()
	}
}

func (h HandlerFuncs) OnMessage(msg wire.Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// ReconnectPolicy is a fixed delay between attempts and a cap on attempts
// after unexpected closes.
type ReconnectPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPolicy is 5 attempts, 5 seconds apart.
var DefaultPolicy = ReconnectPolicy{Interval: 5 * time.Second, MaxAttempts: 5}

// Options configure a Manager. URL is required.
type Options struct {
	URL    string
	Token  string
	Header http.Header

	Policy        ReconnectPolicy
	SendQueueSize int
	Overflow      OverflowPolicy
	DialTimeout   time.Duration

	Dialer Dialer
	Clock  clock.Clock
	Logger zerolog.Logger
}

// Status is a point-in-time view of a Manager.
type Status struct {
	State       State         `json:"state" yaml:"state"`
	Attempts    int           `json:"attempts" yaml:"attempts"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	LastMessage *wire.Message `json:"lastMessage,omitempty" yaml:"lastMessage,omitempty"`
	Dropped     int           `json:"dropped" yaml:"dropped"`
}

func (s Status) IsConnected() bool  { return s.State == StateConnected }
func (s Status) IsConnecting() bool { return s.State == StateConnecting }

// Manager owns one channel to one endpoint.
type Manager struct {
	opts    Options
	handler Handler
	logger  zerolog.Logger

	mu          sync.Mutex
	state       State
	gen         uint64 // bumped on every connect/disconnect; stale goroutines compare against it
	conn        Conn
	outbox      *outbox
	attempts    int
	lastErr     string
	lastMsg     *wire.Message
	dropped     int
	timer       clock.Timer
	policy      ReconnectPolicy
	intentional bool

	evMu   sync.Mutex
	queue  []func()
	wake   chan struct{}
	room   chan struct{}
	stop   chan struct{}
	closed *atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Manager in the disconnected state and starts its dispatch
// goroutine. Call Close to release it.
func New(opts Options, handler Handler) (*Manager, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("wsclient: url is required")
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}
	if opts.Policy.Interval <= 0 {
		opts.Policy.Interval = DefaultPolicy.Interval
	}
	if opts.Policy.MaxAttempts < 0 {
		opts.Policy.MaxAttempts = 0
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &GorillaDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:    opts,
		handler: handler,
		logger:  opts.Logger.With().Str("component", "wsclient").Str("url", opts.URL).Logger(),
		policy:  opts.Policy,
		wake:    make(chan struct{}, 1),
		room:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		closed:  atomic.NewBool(false),
		ctx:     ctx,
		cancel:  cancel,
	}
	go m.dispatch()
	return m, nil
}

// Connect opens the channel unless it is already open or opening. It returns
// immediately; the outcome arrives through the Handler.
func (m *Manager) Connect() {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDisconnected {
		return
	}
	m.intentional = false
	m.startLocked()
}

// Disconnect closes the channel on purpose: no auto-reconnect follows and any
// pending reconnect is cancelled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	m.stopTimerLocked()
	prev := m.state
	m.gen++
	m.state = StateDisconnected
	conn, ob := m.detachLocked()
	m.mu.Unlock()

	m.release(conn, ob)
	if prev != StateDisconnected {
		m.logger.Info().Msg("disconnected by client")
		m.emit(m.handler.OnDisconnect)
	}
}

// Reconnect drops the current channel, resets the attempt counter and
// connects again immediately.
func (m *Manager) Reconnect() {
	m.Disconnect()
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	if m.state == StateDisconnected {
		m.intentional = false
		m.startLocked()
	}
}

// Send serializes v and queues it for the writer. A wire.Message with a zero
// timestamp is stamped with the current time. When the channel is not open
// the frame is dropped with a warning and ErrNotConnected is returned.
func (m *Manager) Send(v any) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	state, ob := m.state, m.outbox
	m.mu.Unlock()
	if state != StateConnected || ob == nil {
		m.logger.Warn().Str("state", state.String()).Msg("send dropped: channel not connected")
		return ErrNotConnected
	}

	data, err := m.encode(v)
	if err != nil {
		return err
	}

	evicted, err := ob.push(data)
	if err != nil {
		if errors.Is(err, ErrSendQueueFull) {
			m.logger.Warn().Int("queue", m.opts.SendQueueSize).Msg("send rejected: queue full")
		}
		return err
	}
	if evicted {
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		m.logger.Warn().Msg("send queue full: dropped oldest frame")
	}
	return nil
}

// SendMessage builds a wire.Message of type t around data and sends it.
func (m *Manager) SendMessage(t wire.Type, data any) error {
	msg, err := wire.New(t, data)
	if err != nil {
		return err
	}
	return m.Send(msg)
}

// Status returns a snapshot of the channel state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:    m.state,
		Attempts: m.attempts,
		Error:    m.lastErr,
		Dropped:  m.dropped,
	}
	if m.lastMsg != nil {
		msg := *m.lastMsg
		st.LastMessage = &msg
	}
	return st
}

func (m *Manager) IsConnected() bool  { return m.Status().IsConnected() }
func (m *Manager) IsConnecting() bool { return m.Status().IsConnecting() }

// URL returns the endpoint this manager connects to.
func (m *Manager) URL() string { return m.opts.URL }

// SetPolicy replaces the reconnect policy. It applies from the next close.
func (m *Manager) SetPolicy(p ReconnectPolicy) {
	if p.Interval <= 0 {
		p.Interval = DefaultPolicy.Interval
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
	m.logger.Info().Dur("interval", p.Interval).Int("max_attempts", p.MaxAttempts).Msg("reconnect policy updated")
}

// Close disconnects, cancels timers and stops the dispatch goroutine. Events
// still queued are discarded.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.Disconnect()
	m.cancel()
	close(m.stop)
	return nil
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func (m *Manager) startLocked() {
	m.stopTimerLocked()
	m.state = StateConnecting
	m.lastErr = ""
	m.gen++
	go m.run(m.gen)
}

func (m *Manager) run(gen uint64) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.DialTimeout)
	conn, err := m.opts.Dialer.Dial(ctx, m.opts.URL, m.header())
	cancel()
	if err != nil {
		m.transportError(gen, err)
		m.handleClose(gen)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	ob := newOutbox(m.opts.SendQueueSize, m.opts.Overflow)
	m.state = StateConnected
	m.conn = conn
	m.outbox = ob
	m.attempts = 0
	m.mu.Unlock()

	m.logger.Info().Msg("connected")
	m.emit(m.handler.OnConnect)

	go m.writeLoop(gen, conn, ob)
	m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, ErrConnClosed) {
				m.transportError(gen, err)
			}
			m.handleClose(gen)
			return
		}

		msg, err := wire.Parse(data)
		if err != nil {
			m.logger.Warn().Err(err).Msg("discarding malformed message")
			continue
		}
		if !msg.Type.Known() {
			m.logger.Debug().Str("type", string(msg.Type)).Msg("unknown message type")
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.lastMsg = &msg
		m.mu.Unlock()

		m.emitWait(func() { m.handler.OnMessage(msg) })
	}
}

func (m *Manager) writeLoop(gen uint64, conn Conn, ob *outbox) {
	for {
		data, ok := ob.pop()
		if !ok {
			return
		}
		if err := conn.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
			m.transportError(gen, err)
			// Closing unblocks the reader, which drives the reconnect.
			_ = conn.Close()
			return
		}
	}
}

// transportError records err unless gen is stale.
func (m *Manager) transportError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastErr = err.Error()
	m.mu.Unlock()

	m.logger.Error().Err(err).Msg("transport error")
	m.emit(func() { m.handler.OnError(err) })
}

// handleClose moves to disconnected and schedules a reconnect when the close
// was not requested and attempts remain.
func (m *Manager) handleClose(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	conn, ob := m.detachLocked()

	scheduled := false
	attempt := 0
	interval := m.policy.Interval
	if !m.intentional && !m.closed.Load() && m.attempts < m.policy.MaxAttempts {
		m.attempts++
		attempt = m.attempts
		m.timer = m.opts.Clock.AfterFunc(interval, func() { m.retry(gen) })
		scheduled = true
	}
	m.mu.Unlock()

	m.release(conn, ob)

	evt := m.logger.Info()
	if scheduled {
		evt = evt.Int("attempt", attempt).Dur("in", interval)
	}
	evt.Bool("reconnect", scheduled).Msg("channel closed")
	m.emit(m.handler.OnDisconnect)
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.intentional || m.state != StateDisconnected || m.closed.Load() {
		return
	}
	m.timer = nil
	m.logger.Info().Int("attempt", m.attempts).Msg("reconnecting")
	m.startLocked()
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) detachLocked() (Conn, *outbox) {
	conn, ob := m.conn, m.outbox
	m.conn, m.outbox = nil, nil
	if ob != nil {
		m.dropped += len(ob.ch)
	}
	return conn, ob
}

func (m *Manager) release(conn Conn, ob *outbox) {
	if ob != nil {
		ob.close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// eventBacklog is how many queued callbacks make the read loop wait.
const eventBacklog = 256

// emit queues fn for the dispatch goroutine. It never blocks, so callbacks
// may call Disconnect, Reconnect or Close.
func (m *Manager) emit(fn func()) {
	m.evMu.Lock()
	m.queue = append(m.queue, fn)
	m.evMu.Unlock()
	signal(m.wake)
}

// emitWait is emit for the read loop: it waits while the backlog is full so
// a slow handler stops reading from the socket.
func (m *Manager) emitWait(fn func()) {
	for {
		m.evMu.Lock()
		if len(m.queue) < eventBacklog {
			m.queue = append(m.queue, fn)
			m.evMu.Unlock()
			signal(m.wake)
			return
		}
		m.evMu.Unlock()

		select {
		case <-m.room:
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) next() (func(), bool) {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return fn, true
}

func (m *Manager) dispatch() {
	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
		}
		for {
			fn, ok := m.next()
			if !ok {
				break
			}
			signal(m.room)
			fn()
			select {
			case <-m.stop:
				return
			default:
			}
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *Manager) header() http.Header {
	h := http.Header{}
	for k, v := range m.opts.Header {
		h[k] = append([]string(nil), v...)
	}
	if m.opts.Token != "" {
		h.Set("Authorization", "Bearer "+m.opts.Token)
	}
	return h
}

func (m *Manager) encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case []byte:
		return msg, nil
	case wire.Message:
		if msg.Timestamp == 0 {
			msg.Timestamp = m.opts.Clock.Now().UnixMilli()
		}
		v = msg
	case *wire.Message:
		cp := *msg
		if cp.Timestamp == 0 {
			cp.Timestamp = m.opts.Clock.Now().UnixMilli()
		}
		v = cp
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}
