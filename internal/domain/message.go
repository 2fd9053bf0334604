package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// TimestampLayout is the wire format for message timestamps (ISO-8601, ms precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type MessageType string

const (
	TypeText            MessageType = "text"
	TypeLinkButton      MessageType = "link_button"
	TypeMenu            MessageType = "menu"
	TypeRichContent     MessageType = "rich_content"
	TypeTypingIndicator MessageType = "typing_indicator"
	TypeEndSession      MessageType = "end_session"
	TypeUnknown         MessageType = "unknown"
)

// ParseMessageType maps a provider type string onto a known MessageType.
// Anything unrecognized becomes TypeUnknown.
func ParseMessageType(s string) MessageType {
	switch t := MessageType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeText, TypeLinkButton, TypeMenu, TypeRichContent, TypeTypingIndicator, TypeEndSession:
		return t
	case "":
		return TypeText
	default:
		return TypeUnknown
	}
}

// Ephemeral reports whether messages of this type are momentary events
// rather than conversation content.
func (t MessageType) Ephemeral() bool {
	return t == TypeTypingIndicator || t == TypeEndSession
}

// InboundMessage is a normalized event received from the DMS webhook.
type InboundMessage struct {
	MessageID  string         `json:"message_id,omitempty"`
	Type       MessageType    `json:"type"`
	CustomerID string         `json:"customer_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Text       []string       `json:"text,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Ephemeral  bool           `json:"ephemeral,omitempty"`

	// Aliases holds every identity representation seen on the raw payload.
	Aliases []string `json:"-"`
}

// MarshalJSON renders the timestamp in TimestampLayout so polling clients
// can advance their cursor with millisecond precision.
func (m InboundMessage) MarshalJSON() ([]byte, error) {
	type alias InboundMessage
	return json.Marshal(struct {
		alias
		Timestamp string `json:"timestamp"`
	}{alias: alias(m), Timestamp: m.Timestamp.UTC().Format(TimestampLayout)})
}

// JoinedText returns the display text as a single string.
func (m InboundMessage) JoinedText() string {
	return strings.Join(m.Text, "\n")
}

// MatchesCustomer reports whether the message belongs to the given customer,
// either by canonical id or by one of its raw identity aliases.
func (m InboundMessage) MatchesCustomer(customerID string) bool {
	if customerID == "" {
		return false
	}
	if m.CustomerID == customerID {
		return true
	}
	for _, a := range m.Aliases {
		if a == customerID {
			return true
		}
	}
	return false
}

// SameContent is the duplicate test used by the ledger.
func (m InboundMessage) SameContent(other InboundMessage) bool {
	return m.Type == other.Type &&
		m.CustomerID == other.CustomerID &&
		m.JoinedText() == other.JoinedText()
}
