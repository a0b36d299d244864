// Package dashboard holds both ends of the dashboard concern: the client
// Consumer that folds stats, notifications, activity and alerts into
// bounded state, and the gateway-side repository, REST handler and stats
// broadcaster.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/pkg/bounded"
	"github.com/ehr/clinic-live/pkg/wire"
)

// SnapshotFetcher loads the current stats over REST.
type SnapshotFetcher interface {
	FetchStats(ctx context.Context) (Stats, error)
}

// ConsumerOptions configures a Consumer. Zero sizes use the package
// defaults.
type ConsumerOptions struct {
	Fetcher          SnapshotFetcher
	FetchTimeout     time.Duration
	MaxNotifications int
	MaxActivity      int
	MaxAlerts        int
	Logger           zerolog.Logger
}

// Consumer implements wsclient.Handler for the dashboard concern.
type Consumer struct {
	opts   ConsumerOptions
	logger zerolog.Logger

	mu            sync.RWMutex
	stats         Stats
	notifications *bounded.List[wire.Notification]
	activity      *bounded.List[Activity]
	alerts        *bounded.List[SystemAlert]
	snapshotErr   error
	snapshotAt    time.Time
}

func NewConsumer(opts ConsumerOptions) *Consumer {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	if opts.MaxNotifications <= 0 {
		opts.MaxNotifications = MaxNotifications
	}
	if opts.MaxActivity <= 0 {
		opts.MaxActivity = MaxActivity
	}
	if opts.MaxAlerts <= 0 {
		opts.MaxAlerts = MaxAlerts
	}
	return &Consumer{
		opts:          opts,
		logger:        opts.Logger.With().Str("concern", string(wire.ConcernDashboard)).Logger(),
		notifications: bounded.New[wire.Notification](opts.MaxNotifications),
		activity:      bounded.New[Activity](opts.MaxActivity),
		alerts:        bounded.New[SystemAlert](opts.MaxAlerts),
	}
}

// OnConnect re-fetches the stats snapshot. It runs on the manager's
// dispatch goroutine, so later stats_update messages cannot be overwritten
// by an older snapshot.
func (c *Consumer) OnConnect() {
	if c.opts.Fetcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FetchTimeout)
	defer cancel()

	stats, err := c.opts.Fetcher.FetchStats(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotErr = err
	if err != nil {
		c.logger.Warn().Err(err).Msg("dashboard snapshot fetch failed")
		return
	}
	c.stats = stats
	c.snapshotAt = time.Now()
}

func (c *Consumer) OnDisconnect() {}

func (c *Consumer) OnError(err error) {
	c.logger.Debug().Err(err).Msg("transport error")
}

func (c *Consumer) OnMessage(msg wire.Message) {
	switch msg.Type {
	case wire.TypeStatsUpdate:
		stats, err := wire.Decode[Stats](msg)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad stats_update")
			return
		}
		c.mu.Lock()
		c.stats = stats
		c.mu.Unlock()

	case wire.TypeNotification:
		n, err := wire.Decode[wire.Notification](msg)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad notification")
			return
		}
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.Timestamp == 0 {
			n.Timestamp = msg.Timestamp
		}
		c.mu.Lock()
		c.notifications.Push(n)
		c.mu.Unlock()

	case wire.TypeActivity:
		a, err := wire.Decode[Activity](msg)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad activity")
			return
		}
		if a.Timestamp == 0 {
			a.Timestamp = msg.Timestamp
		}
		c.mu.Lock()
		c.activity.Push(a)
		c.mu.Unlock()

	case wire.TypeSystemAlert:
		alert, err := wire.Decode[SystemAlert](msg)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad system_alert")
			return
		}
		if alert.Timestamp == 0 {
			alert.Timestamp = msg.Timestamp
		}
		c.mu.Lock()
		c.alerts.Push(alert)
		c.mu.Unlock()
	}
}

// Stats returns the latest stats.
func (c *Consumer) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Notifications returns the notifications, newest first.
func (c *Consumer) Notifications() []wire.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notifications.Newest()
}

// Activity returns the activity feed, newest first.
func (c *Consumer) Activity() []Activity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activity.Newest()
}

// Alerts returns the system alerts, newest first.
func (c *Consumer) Alerts() []SystemAlert {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alerts.Newest()
}

// UnreadCount is the number of unread notifications.
func (c *Consumer) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, item := range c.notifications.Oldest() {
		if !item.Read {
			n++
		}
	}
	return n
}

// MarkNotificationRead marks one notification read and reports whether it
// was found.
func (c *Consumer) MarkNotificationRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifications.Update(func(n *wire.Notification) bool {
		if n.ID != id {
			return false
		}
		n.Read = true
		return true
	})
}

// ClearAlerts drops every system alert.
func (c *Consumer) ClearAlerts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts.Reset()
}

// View is a point-in-time copy of the consumer state.
type View struct {
	Stats         Stats               `json:"stats" yaml:"stats"`
	Unread        int                 `json:"unread" yaml:"unread"`
	Notifications []wire.Notification `json:"notifications" yaml:"notifications"`
	Activity      []Activity          `json:"activity" yaml:"activity"`
	Alerts        []SystemAlert       `json:"alerts" yaml:"alerts"`
	SnapshotError string              `json:"snapshotError,omitempty" yaml:"snapshotError,omitempty"`
	SnapshotAt    time.Time           `json:"snapshotAt,omitempty" yaml:"snapshotAt,omitempty"`
}

func (c *Consumer) View() View {
	v := View{
		Stats:         c.Stats(),
		Unread:        c.UnreadCount(),
		Notifications: c.Notifications(),
		Activity:      c.Activity(),
		Alerts:        c.Alerts(),
	}
	c.mu.RLock()
	if c.snapshotErr != nil {
		v.SnapshotError = c.snapshotErr.Error()
	}
	v.SnapshotAt = c.snapshotAt
	c.mu.RUnlock()
	return v
}
