package dashboard

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/internal/platform/websocket"
	"github.com/ehr/clinic-live/pkg/wire"
)

// Broadcaster polls the stats repository and publishes stats_update to the
// dashboard topic whenever the figures change.
type Broadcaster struct {
	repo     StatsRepository
	pub      websocket.Publisher
	interval time.Duration
	logger   zerolog.Logger

	last    Stats
	hasLast bool
}

func NewBroadcaster(repo StatsRepository, pub websocket.Publisher, interval time.Duration, logger zerolog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Broadcaster{
		repo:     repo,
		pub:      pub,
		interval: interval,
		logger:   logger.With().Str("component", "stats-broadcaster").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	t := time.NewTicker(b.interval)
	defer t.Stop()

	b.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.Tick(ctx)
		}
	}
}

// Tick publishes once if the figures changed and reports whether it did.
func (b *Broadcaster) Tick(ctx context.Context) bool {
	st, err := b.repo.Stats(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("load stats")
		return false
	}
	if b.hasLast && st.SameFigures(b.last) {
		return false
	}

	msg, err := wire.New(wire.TypeStatsUpdate, st)
	if err != nil {
		b.logger.Error().Err(err).Msg("encode stats")
		return false
	}
	if err := b.pub.Publish(ctx, websocket.TopicDashboard, msg); err != nil {
		b.logger.Warn().Err(err).Msg("publish stats")
		return false
	}
	b.last, b.hasLast = st, true
	return true
}

// NewProcessor subscribes dashboard clients to the dashboard topic, the
// broadcast notifications topic and their own user topic. The dashboard
// concern accepts no client messages.
func NewProcessor() websocket.Processor {
	return websocket.StaticProcessor{Topics: func(c *websocket.Client) []string {
		topics := []string{websocket.TopicDashboard, websocket.TopicNotifications}
		if c.UserID != "" {
			topics = append(topics, websocket.UserTopic(c.UserID))
		}
		return topics
	}}
}
