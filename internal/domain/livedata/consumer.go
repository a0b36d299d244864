// Package livedata implements the live-data concern: clients subscribe to
// named channels of chart, counter or table data and accumulate bounded
// per-channel state.
package livedata

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/internal/platform/wsclient"
	"github.com/ehr/clinic-live/pkg/bounded"
	"github.com/ehr/clinic-live/pkg/wire"
)

// Sender is the outbound side of a connection. *wsclient.Manager
// satisfies it.
type Sender interface {
	SendMessage(t wire.Type, data any) error
}

// Consumer implements wsclient.Handler for the live-data concern.
type Consumer struct {
	sender    Sender
	logger    zerolog.Logger
	maxPoints int
	maxRows   int

	mu       sync.RWMutex
	subs     map[string]Kind
	charts   map[string]*bounded.List[Point]
	counters map[string]float64
	tables   map[string]*bounded.List[Row]
}

// NewConsumer creates a Consumer. Call Bind before subscribing if the
// sender is created after the consumer.
func NewConsumer(sender Sender, logger zerolog.Logger) *Consumer {
	return &Consumer{
		sender:    sender,
		logger:    logger.With().Str("concern", string(wire.ConcernLiveData)).Logger(),
		maxPoints: MaxChartPoints,
		maxRows:   MaxTableRows,
		subs:      make(map[string]Kind),
		charts:    make(map[string]*bounded.List[Point]),
		counters:  make(map[string]float64),
		tables:    make(map[string]*bounded.List[Row]),
	}
}

// Bind sets the sender. The manager needs the consumer as its handler, so
// the two are wired in two steps.
func (c *Consumer) Bind(s Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = s
}

// SetLimits overrides the per-channel sizes for channels created later.
func (c *Consumer) SetLimits(points, rows int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if points > 0 {
		c.maxPoints = points
	}
	if rows > 0 {
		c.maxRows = rows
	}
}

// Subscribe tracks channel and asks the gateway for its updates. While
// disconnected the subscription is only tracked; it is sent on connect.
func (c *Consumer) Subscribe(channel string, kind Kind) error {
	if channel == "" {
		return errors.New("channel is required")
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}

	c.mu.Lock()
	if prev, ok := c.subs[channel]; ok && prev != kind {
		c.dropLocked(channel)
	}
	c.subs[channel] = kind
	c.ensureLocked(channel, kind)
	sender := c.sender
	c.mu.Unlock()

	return c.send(sender, wire.TypeSubscribe, subscription(channel, kind))
}

// Unsubscribe forgets channel and its data.
func (c *Consumer) Unsubscribe(channel string) error {
	c.mu.Lock()
	kind, ok := c.subs[channel]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, channel)
	c.dropLocked(channel)
	sender := c.sender
	c.mu.Unlock()

	return c.send(sender, wire.TypeUnsubscribe, subscription(channel, kind))
}

func (c *Consumer) send(s Sender, t wire.Type, sub wire.Subscription) error {
	if s == nil {
		return nil
	}
	err := s.SendMessage(t, sub)
	if errors.Is(err, wsclient.ErrNotConnected) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", t, sub.Channel, err)
	}
	return nil
}

// OnConnect re-sends every tracked subscription; the gateway keeps none
// across connections.
func (c *Consumer) OnConnect() {
	subs := c.Subscriptions()
	c.mu.RLock()
	sender := c.sender
	c.mu.RUnlock()
	if sender == nil {
		return
	}
	for _, sub := range subs {
		if err := sender.SendMessage(wire.TypeSubscribe, sub); err != nil {
			c.logger.Warn().Err(err).Str("channel", sub.Channel).Msg("resubscribe failed")
		}
	}
}

func (c *Consumer) OnDisconnect() {}

func (c *Consumer) OnError(err error) {
	c.logger.Debug().Err(err).Msg("transport error")
}

func (c *Consumer) OnMessage(msg wire.Message) {
	var err error
	switch msg.Type {
	case wire.TypeChartUpdate:
		err = c.applyChart(msg)
	case wire.TypeCounterUpdate:
		err = c.applyCounter(msg)
	case wire.TypeTableUpdate:
		err = c.applyTable(msg)
	default:
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("update dropped")
	}
}

func (c *Consumer) applyChart(msg wire.Message) error {
	u, err := wire.Decode[ChartUpdate](msg)
	if err != nil {
		return err
	}
	points := u.Points
	if u.Point != nil {
		points = append(points, *u.Point)
	}
	for i := range points {
		if points[i].Timestamp == 0 {
			points[i].Timestamp = msg.Timestamp
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[u.Channel] != KindChart {
		return nil
	}
	c.charts[u.Channel].Push(points...)
	return nil
}

func (c *Consumer) applyCounter(msg wire.Message) error {
	u, err := wire.Decode[CounterUpdate](msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[u.Channel] != KindCounter {
		return nil
	}
	switch {
	case u.Value != nil:
		c.counters[u.Channel] = *u.Value
	case u.Delta != nil:
		c.counters[u.Channel] += *u.Delta
	default:
		return fmt.Errorf("counter_update for %s has neither value nor delta", u.Channel)
	}
	return nil
}

func (c *Consumer) applyTable(msg wire.Message) error {
	u, err := wire.Decode[TableUpdate](msg)
	if err != nil {
		return err
	}
	rows := u.Rows
	if u.Row != nil {
		rows = append([]Row{u.Row}, rows...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[u.Channel] != KindTable {
		return nil
	}
	// Rows arrive newest first; push oldest first so Newest keeps that order.
	list := c.tables[u.Channel]
	for i := len(rows) - 1; i >= 0; i-- {
		list.Push(rows[i])
	}
	return nil
}

func (c *Consumer) ensureLocked(channel string, kind Kind) {
	switch kind {
	case KindChart:
		if c.charts[channel] == nil {
			c.charts[channel] = bounded.New[Point](c.maxPoints)
		}
	case KindCounter:
		if _, ok := c.counters[channel]; !ok {
			c.counters[channel] = 0
		}
	case KindTable:
		if c.tables[channel] == nil {
			c.tables[channel] = bounded.New[Row](c.maxRows)
		}
	}
}

func (c *Consumer) dropLocked(channel string) {
	delete(c.charts, channel)
	delete(c.counters, channel)
	delete(c.tables, channel)
}

// Subscriptions returns the tracked subscriptions sorted by channel.
func (c *Consumer) Subscriptions() []wire.Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]wire.Subscription, 0, len(c.subs))
	for ch, k := range c.subs {
		out = append(out, subscription(ch, k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Chart returns the points of a chart channel, oldest first.
func (c *Consumer) Chart(channel string) []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if l := c.charts[channel]; l != nil {
		return l.Oldest()
	}
	return nil
}

// Counter returns the value of a counter channel.
func (c *Consumer) Counter(channel string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.counters[channel]
	return v, ok
}

// Table returns the rows of a table channel, newest first.
func (c *Consumer) Table(channel string) []Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if l := c.tables[channel]; l != nil {
		return l.Newest()
	}
	return nil
}

// ChannelView is the state of one subscribed channel.
type ChannelView struct {
	Channel string   `json:"channel" yaml:"channel"`
	Kind    Kind     `json:"dataType" yaml:"dataType"`
	Points  []Point  `json:"points,omitempty" yaml:"points,omitempty"`
	Value   *float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Rows    []Row    `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// View returns every subscribed channel with its data.
func (c *Consumer) View() []ChannelView {
	subs := c.Subscriptions()
	out := make([]ChannelView, 0, len(subs))
	for _, s := range subs {
		v := ChannelView{Channel: s.Channel, Kind: Kind(s.DataType)}
		switch v.Kind {
		case KindChart:
			v.Points = c.Chart(s.Channel)
		case KindCounter:
			if val, ok := c.Counter(s.Channel); ok {
				v.Value = &val
			}
		case KindTable:
			v.Rows = c.Table(s.Channel)
		}
		out = append(out, v)
	}
	return out
}
