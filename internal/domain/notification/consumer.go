// Package notification implements the notifications concern: a bounded
// feed of notifications with read state and an audio cue per severity.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/internal/platform/audio"
	"github.com/ehr/clinic-live/pkg/bounded"
	"github.com/ehr/clinic-live/pkg/clock"
	"github.com/ehr/clinic-live/pkg/wire"
)

// MaxNotifications is the default feed size.
const MaxNotifications = 50

// Options configures a Consumer.
type Options struct {
	Max          int
	Player       audio.Player
	SoundEnabled bool
	// PlayTimeout bounds a single cue. Defaults to 2s.
	PlayTimeout time.Duration
	Clock       clock.Clock
	Logger      zerolog.Logger
}

// Consumer implements wsclient.Handler for the notifications concern.
type Consumer struct {
	player      audio.Player
	playTimeout time.Duration
	clock       clock.Clock
	logger      zerolog.Logger

	mu    sync.RWMutex
	items *bounded.List[wire.Notification]
	sound bool
}

func NewConsumer(opts Options) *Consumer {
	if opts.Max <= 0 {
		opts.Max = MaxNotifications
	}
	if opts.Player == nil {
		opts.Player = audio.NopPlayer{}
	}
	if opts.PlayTimeout <= 0 {
		opts.PlayTimeout = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Consumer{
		player:      opts.Player,
		playTimeout: opts.PlayTimeout,
		clock:       opts.Clock,
		logger:      opts.Logger.With().Str("concern", string(wire.ConcernNotifications)).Logger(),
		items:       bounded.New[wire.Notification](opts.Max),
		sound:       opts.SoundEnabled,
	}
}

func (c *Consumer) OnConnect()    {}
func (c *Consumer) OnDisconnect() {}

func (c *Consumer) OnError(err error) {
	c.logger.Debug().Err(err).Msg("transport error")
}

func (c *Consumer) OnMessage(msg wire.Message) {
	if msg.Type != wire.TypeNotification {
		return
	}
	n, err := wire.Decode[wire.Notification](msg)
	if err != nil {
		c.logger.Warn().Err(err).Msg("bad notification")
		return
	}
	if n.Timestamp == 0 {
		n.Timestamp = msg.Timestamp
	}
	c.AddNotification(n)
}

// AddNotification puts n at the head of the feed, evicting the oldest entry
// when full, and plays the cue for its severity. It returns the stored
// value with defaults filled in.
func (c *Consumer) AddNotification(n wire.Notification) wire.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp == 0 {
		n.Timestamp = c.clock.Now().UnixMilli()
	}
	if n.Severity == "" {
		n.Severity = wire.SeverityInfo
	}

	c.mu.Lock()
	c.items.Push(n)
	sound := c.sound
	c.mu.Unlock()

	if sound {
		go c.play(audio.CueFor(n.Severity))
	}
	return n
}

func (c *Consumer) play(cue audio.Cue) {
	ctx, cancel := context.WithTimeout(context.Background(), c.playTimeout)
	defer cancel()
	if err := c.player.Play(ctx, cue); err != nil {
		c.logger.Warn().Err(err).Str("cue", cue.Name).Msg("notification sound failed")
	}
}

// MarkAsRead marks one notification read and reports whether it exists.
func (c *Consumer) MarkAsRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Update(func(n *wire.Notification) bool {
		if n.ID != id {
			return false
		}
		n.Read = true
		return true
	})
}

func (c *Consumer) MarkAllAsRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Update(func(n *wire.Notification) bool {
		n.Read = true
		return false
	})
}

// Remove deletes a notification and reports whether it existed.
func (c *Consumer) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.RemoveFunc(func(n wire.Notification) bool { return n.ID == id }) > 0
}

func (c *Consumer) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Reset()
}

func (c *Consumer) SetSoundEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sound = enabled
}

func (c *Consumer) SoundEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sound
}

// Notifications returns the feed, newest first.
func (c *Consumer) Notifications() []wire.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items.Newest()
}

func (c *Consumer) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, item := range c.items.Oldest() {
		if !item.Read {
			n++
		}
	}
	return n
}

// View is a point-in-time copy of the feed.
type View struct {
	Unread        int                 `json:"unread" yaml:"unread"`
	SoundEnabled  bool                `json:"soundEnabled" yaml:"soundEnabled"`
	Notifications []wire.Notification `json:"notifications" yaml:"notifications"`
}

func (c *Consumer) View() View {
	return View{
		Unread:        c.UnreadCount(),
		SoundEnabled:  c.SoundEnabled(),
		Notifications: c.Notifications(),
	}
}
