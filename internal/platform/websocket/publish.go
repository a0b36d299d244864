package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinic-live/pkg/pagination"
	"github.com/ehr/clinic-live/pkg/wire"
)

// PublishRequest is the body of POST /realtime/publish.
type PublishRequest struct {
	Concern wire.Concern    `json:"concern"`
	Topic   string          `json:"topic,omitempty"`
	Type    wire.Type       `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PublishResult reports where a published message went.
type PublishResult struct {
	Topic     string `json:"topic"`
	Delivered int    `json:"delivered"`
}

// PublishHandler lets backend services push messages into the gateway.
type PublishHandler struct {
	hub *Hub
}

func NewPublishHandler(hub *Hub) *PublishHandler {
	return &PublishHandler{hub: hub}
}

func (ph *PublishHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/realtime/publish", ph.Publish)
}

func (ph *PublishHandler) Publish(c echo.Context) error {
	var req PublishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Type.Known() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown message type %q", req.Type))
	}
	topic, err := ResolveTopic(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := wire.New(req.Type, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	msg.Data = req.Data

	n := ph.hub.Broadcast(topic, msg)
	return c.JSON(http.StatusAccepted, pagination.OK(PublishResult{Topic: topic, Delivered: n}))
}

// ResolveTopic picks the topic for a publish request. An explicit topic
// wins; otherwise it is derived from the concern and the payload.
func ResolveTopic(req PublishRequest) (string, error) {
	if req.Topic != "" {
		return req.Topic, nil
	}
	switch req.Concern {
	case wire.ConcernDashboard:
		return TopicDashboard, nil
	case wire.ConcernNotifications:
		var target struct {
			UserID string `json:"userId"`
		}
		_ = json.Unmarshal(req.Data, &target)
		if target.UserID != "" {
			return UserTopic(target.UserID), nil
		}
		return TopicNotifications, nil
	case wire.ConcernLiveData:
		var target struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(req.Data, &target); err != nil || target.Channel == "" {
			return "", fmt.Errorf("live-data publish requires data.channel")
		}
		return LiveTopic(target.Channel), nil
	case wire.ConcernCollaboration:
		var target struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(req.Data, &target); err != nil || target.SessionID == "" {
			return "", fmt.Errorf("collaboration publish requires data.sessionId")
		}
		return SessionTopic(target.SessionID), nil
	default:
		return "", fmt.Errorf("unknown concern %q", req.Concern)
	}
}
