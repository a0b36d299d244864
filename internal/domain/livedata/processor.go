package livedata

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/clinic-live/internal/platform/websocket"
	"github.com/ehr/clinic-live/pkg/wire"
)

// Processor is the gateway side of live-data. A subscribe puts the client
// on live:<channel>; data is pushed there by publishers.
type Processor struct {
	hub *websocket.Hub
}

func NewProcessor(hub *websocket.Hub) *Processor {
	return &Processor{hub: hub}
}

func (p *Processor) Join(*websocket.Client) ([]string, error) { return nil, nil }

func (p *Processor) Process(_ context.Context, c *websocket.Client, msg wire.Message) error {
	switch msg.Type {
	case wire.TypeSubscribe:
		sub, err := wire.Decode[wire.Subscription](msg)
		if err != nil {
			return err
		}
		if sub.Channel == "" {
			return errors.New("channel is required")
		}
		if _, err := ParseKind(sub.DataType); err != nil {
			return err
		}
		p.hub.Subscribe(c, websocket.LiveTopic(sub.Channel))
		return nil

	case wire.TypeUnsubscribe:
		sub, err := wire.Decode[wire.Subscription](msg)
		if err != nil {
			return err
		}
		p.hub.Unsubscribe(c, websocket.LiveTopic(sub.Channel))
		return nil

	default:
		return fmt.Errorf("%w: %s", websocket.ErrUnsupported, msg.Type)
	}
}

func (p *Processor) Leave(*websocket.Client) {}
