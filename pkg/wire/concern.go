package wire

import "fmt"

// Concern names one logical channel. Each concern has its own endpoint.
type Concern string

const (
	ConcernDashboard     Concern = "dashboard"
	ConcernLiveData      Concern = "live-data"
	ConcernNotifications Concern = "notifications"
	ConcernCollaboration Concern = "collaboration"
)

// Concerns lists every concern in a stable order.
func Concerns() []Concern {
	return []Concern{ConcernDashboard, ConcernLiveData, ConcernNotifications, ConcernCollaboration}
}

// ParseConcern validates s against the known concerns.
func ParseConcern(s string) (Concern, error) {
	for _, c := range Concerns() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown concern %q", s)
}

// Subscription payload for TypeSubscribe / TypeUnsubscribe.
type Subscription struct {
	Channel  string `json:"channel"`
	DataType string `json:"dataType,omitempty"`
}

// ErrorPayload is sent by the gateway when it rejects a client request.
type ErrorPayload struct {
	Request Type   `json:"request"`
	Message string `json:"message"`
}
