package domain

import "time"

type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusError     DeliveryStatus = "error"
	StatusTimeout   DeliveryStatus = "timeout"
	StatusUnknown   DeliveryStatus = "unknown"
)

// ParseDeliveryStatus returns the status and whether it is one of the known values.
func ParseDeliveryStatus(s string) (DeliveryStatus, bool) {
	switch st := DeliveryStatus(s); st {
	case StatusSent, StatusDelivered, StatusError, StatusTimeout, StatusUnknown:
		return st, true
	default:
		return StatusUnknown, false
	}
}

// OutboundRecord tracks the lifecycle of a message sent to the DMS.
type OutboundRecord struct {
	MessageID  string         `json:"message_id"`
	CustomerID string         `json:"customer_id,omitempty"`
	Status     DeliveryStatus `json:"status"`
	HTTPStatus int            `json:"http_status,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// OutboundMessage is a customer message to be relayed to the DMS.
type OutboundMessage struct {
	Type         string         `json:"type"`
	CustomerID   string         `json:"customer_id"`
	CustomerName string         `json:"customer_name,omitempty"`
	MessageID    string         `json:"message_id"`
	Text         []string       `json:"text,omitempty"`
	Attachments  []any          `json:"attachments,omitempty"`
	ContextData  map[string]any `json:"context_data,omitempty"`
	Postback     string         `json:"postback,omitempty"`
	Timestamp    string         `json:"timestamp"`
}

// ProviderResponse is the synchronous answer of the DMS to an outbound send.
type ProviderResponse struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Body       string `json:"body,omitempty"`
}

// OK reports a 2xx status.
func (r ProviderResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}
