package wire

// Notification is the payload of TypeNotification on both the dashboard and
// the notifications concern.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Severity  string `json:"type,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Read      bool   `json:"read"`
	Timestamp int64  `json:"timestamp"`
}

// Notification severities. Each maps to an audio cue.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)
