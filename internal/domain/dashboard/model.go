package dashboard

import "time"

// Default accumulator sizes.
const (
	MaxNotifications = 50
	MaxActivity      = 20
	MaxAlerts        = 10
)

// Stats is the headline dashboard figures. It is the payload of
// stats_update and the data of GET /dashboard/stats.
type Stats struct {
	TotalPatients     int       `json:"totalPatients"`
	TodayAppointments int       `json:"todayAppointments"`
	PendingInvoices   int       `json:"pendingInvoices"`
	Revenue           float64   `json:"revenue"`
	ActiveUsers       int       `json:"activeUsers"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// SameFigures reports whether s and o differ only in UpdatedAt.
func (s Stats) SameFigures(o Stats) bool {
	s.UpdatedAt, o.UpdatedAt = time.Time{}, time.Time{}
	return s == o
}

// Activity is one entry of the activity feed.
type Activity struct {
	ID        string `json:"id"`
	Kind      string `json:"type"`
	Message   string `json:"message"`
	UserID    string `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SystemAlert is the payload of system_alert.
type SystemAlert struct {
	ID        string `json:"id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
