package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/internal/platform/websocket"
	"github.com/ehr/clinic-live/pkg/pagination"
	"github.com/ehr/clinic-live/pkg/wire"
)

// NewProcessor returns the gateway processor for the notifications
// concern: every client hears the broadcast topic and its own user topic.
func NewProcessor() websocket.StaticProcessor {
	return websocket.StaticProcessor{Topics: func(c *websocket.Client) []string {
		topics := []string{websocket.TopicNotifications}
		if c.UserID != "" {
			topics = append(topics, websocket.UserTopic(c.UserID))
		}
		return topics
	}}
}

// Notifier delivers notifications through the gateway.
type Notifier struct {
	pub    websocket.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewNotifier(pub websocket.Publisher, logger zerolog.Logger) *Notifier {
	return &Notifier{pub: pub, logger: logger, now: time.Now}
}

// Notify fills in id, timestamp and severity, then publishes n to the
// recipient's user topic, or to everyone when UserID is empty.
func (nt *Notifier) Notify(ctx context.Context, n wire.Notification) (wire.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp == 0 {
		n.Timestamp = nt.now().UnixMilli()
	}
	if n.Severity == "" {
		n.Severity = wire.SeverityInfo
	}
	n.Read = false

	topic := websocket.TopicNotifications
	if n.UserID != "" {
		topic = websocket.UserTopic(n.UserID)
	}
	msg, err := wire.New(wire.TypeNotification, n)
	if err != nil {
		return n, err
	}
	if err := nt.pub.Publish(ctx, topic, msg); err != nil {
		return n, fmt.Errorf("publish notification: %w", err)
	}
	nt.logger.Debug().Str("id", n.ID).Str("topic", topic).Str("severity", n.Severity).Msg("notification sent")
	return n, nil
}

func (nt *Notifier) RegisterRoutes(g *echo.Group) {
	g.POST("/notifications", nt.Create)
}

type createRequest struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"type"`
	UserID   string `json:"userId"`
}

// Create handles POST /notifications.
func (nt *Notifier) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, pagination.Fail("invalid request body"))
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, pagination.Fail("title or message is required"))
	}
	switch req.Severity {
	case "", wire.SeverityInfo, wire.SeveritySuccess, wire.SeverityWarning, wire.SeverityError:
	default:
		return c.JSON(http.StatusBadRequest, pagination.Fail(fmt.Sprintf("unknown type %q", req.Severity)))
	}

	n, err := nt.Notify(c.Request().Context(), wire.Notification{
		Title:    req.Title,
		Message:  req.Message,
		Severity: req.Severity,
		UserID:   req.UserID,
	})
	if err != nil {
		nt.logger.Error().Err(err).Msg("send notification")
		return c.JSON(http.StatusInternalServerError, pagination.Fail("failed to send notification"))
	}
	return c.JSON(http.StatusCreated, pagination.OK(n))
}
