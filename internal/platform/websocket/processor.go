package websocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/clinic-live/pkg/wire"
)

// ErrUnsupported is returned by processors for message types they do not
// accept from clients.
var ErrUnsupported = errors.New("unsupported message type")

// Processor implements the server side of one concern.
type Processor interface {
	// Join returns the topics a new client starts with. An error refuses
	// the connection.
	Join(c *Client) ([]string, error)
	// Process handles one inbound client message. A returned error is sent
	// back to the client as an error message.
	Process(ctx context.Context, c *Client, msg wire.Message) error
	// Leave runs after the client's socket is gone, before it is
	// unregistered.
	Leave(c *Client)
}

// StaticProcessor subscribes clients to a fixed topic set and accepts no
// inbound messages. Used for push-only concerns such as the dashboard.
type StaticProcessor struct {
	Topics func(c *Client) []string
}

func (p StaticProcessor) Join(c *Client) ([]string, error) {
	if p.Topics == nil {
		return nil, nil
	}
	return p.Topics(c), nil
}

func (p StaticProcessor) Process(_ context.Context, _ *Client, msg wire.Message) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, msg.Type)
}

func (StaticProcessor) Leave(*Client) {}

// Reply sends a single message to c.
func (h *Hub) Reply(c *Client, t wire.Type, data any) error {
	msg, err := wire.New(t, data)
	if err != nil {
		return err
	}
	if !h.SendTo(c, msg) {
		return fmt.Errorf("reply %s to %s: client unavailable", t, c.ID)
	}
	return nil
}

// Emit broadcasts a typed payload to topic, skipping except when non-nil.
func (h *Hub) Emit(topic string, t wire.Type, data any, except *Client) (int, error) {
	msg, err := wire.New(t, data)
	if err != nil {
		return 0, err
	}
	return h.BroadcastExcept(topic, msg, except), nil
}
