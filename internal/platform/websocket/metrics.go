package websocket

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/ehr/clinic-live/pkg/wire"
)

// Gauge is an extra value exposed on /metrics.
type Gauge struct {
	Name  string
	Help  string
	Value func() float64
}

// MetricsHandler serves hub statistics and gauges in the Prometheus text
// format.
func MetricsHandler(hub *Hub, gauges ...Gauge) echo.HandlerFunc {
	return func(c echo.Context) error {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		c.Response().Header().Set(echo.HeaderContentType, string(format))
		c.Response().WriteHeader(http.StatusOK)

		enc := expfmt.NewEncoder(c.Response(), format)
		for _, mf := range families(hub.Stats(), gauges) {
			if err := enc.Encode(mf); err != nil {
				return err
			}
		}
		return nil
	}
}

func families(st HubStats, gauges []Gauge) []*dto.MetricFamily {
	clients := &dto.MetricFamily{
		Name: ptr("clinic_live_clients"),
		Help: ptr("Connected realtime clients by concern."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, concern := range wire.Concerns() {
		clients.Metric = append(clients.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{Name: ptr("concern"), Value: ptr(string(concern))}},
			Gauge: &dto.Gauge{Value: ptr(float64(st.Clients[concern]))},
		})
	}

	out := []*dto.MetricFamily{
		clients,
		gauge("clinic_live_topics", "Topics with at least one subscriber.", float64(st.Topics)),
		counter("clinic_live_frames_queued_total", "Frames queued for delivery to clients.", float64(st.Queued)),
		counter("clinic_live_frames_dropped_total", "Frames dropped because a client buffer was full.", float64(st.Dropped)),
	}

	extra := append([]Gauge(nil), gauges...)
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	for _, g := range extra {
		out = append(out, gauge(g.Name, g.Help, g.Value()))
	}
	return out
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(v)}}},
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: ptr(v)}}},
	}
}

func ptr[T any](v T) *T { return &v }
