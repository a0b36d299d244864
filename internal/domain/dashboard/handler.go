package dashboard

import (
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

// Handler serves the dashboard REST endpoints.
type Handler struct {
	stats    StatsRepository
	activity ActivityStore
	pub      websocket.Publisher
	logger   zerolog.Logger
}

func NewHandler(stats StatsRepository, activity ActivityStore, pub websocket.Publisher, logger zerolog.Logger) *Handler {
	return &Handler{stats: stats, activity: activity, pub: pub, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/dashboard/stats", h.GetStats)
	g.GET("/dashboard/activity", h.ListActivity)
	g.POST("/dashboard/activity", h.RecordActivity)
}

func (h *Handler) GetStats(c echo.Context) error {
	st, err := h.stats.Stats(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("load dashboard stats")
		return c.JSON(http.StatusInternalServerError, pagination.Fail("failed to load dashboard stats"))
	}
	return c.JSON(http.StatusOK, pagination.OK(st))
}

func (h *Handler) ListActivity(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.activity.List(c.Request().Context(), p.Offset(), p.Size)
	if err != nil {
		h.logger.Error().Err(err).Msg("list activity")
		return c.JSON(http.StatusInternalServerError, pagination.Fail("failed to list activity"))
	}
	return c.JSON(http.StatusOK, pagination.OK(pagination.NewPage(items, p, total)))
}

type recordActivityRequest struct {
	Kind    string `json:"type"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// RecordActivity stores an activity entry and pushes it to dashboard
// subscribers.
func (h *Handler) RecordActivity(c echo.Context) error {
	var req recordActivityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, pagination.Fail("invalid request body"))
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, pagination.Fail("message is required"))
	}
	if req.Kind == "" {
		req.Kind = "info"
	}

	a := Activity{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Message:   req.Message,
		UserID:    req.UserID,
		Timestamp: time.Now().UnixMilli(),
	}
	ctx := c.Request().Context()
	if err := h.activity.Record(ctx, a); err != nil {
		h.logger.Error().Err(err).Msg("record activity")
		return c.JSON(http.StatusInternalServerError, pagination.Fail("failed to record activity"))
	}

	if msg, err := wire.New(wire.TypeActivity, a); err == nil {
		if err := h.pub.Publish(ctx, websocket.TopicDashboard, msg); err != nil {
			h.logger.Warn().Err(err).Msg("publish activity")
		}
	}
	return c.JSON(http.StatusCreated, pagination.OK(a))
}
