package types

import (
	"time"
)

// DeliveryStatus is a message's position in the delivery lifecycle.
// Values are ordered so that a transition is legal only when the
// target compares greater than the current status.
type DeliveryStatus int

const (
	StatusSending DeliveryStatus = iota
	StatusSent
	StatusDelivered
	StatusSeen
)

var statusNames = map[DeliveryStatus]string{
	StatusSending:   "sending",
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusSeen:      "seen",
}

func (s DeliveryStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s DeliveryStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *DeliveryStatus) UnmarshalText(b []byte) error {
	for status, name := range statusNames {
		if name == string(b) {
			*s = status
			return nil
		}
	}
	*s = StatusSending
	return nil
}

type User struct {
	Id          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarRef   string    `json:"avatar_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Conversation struct {
	Id             string    `json:"id"`
	ParticipantIds []string  `json:"participant_ids"`
	LastSeq        int       `json:"last_seq"`
	UnreadCount    int       `json:"unread_count"`
	LastMessageAt  time.Time `json:"last_message_at,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

type Message struct {
	Id             string         `json:"id"`
	ConversationId string         `json:"conversation_id"`
	SenderId       string         `json:"sender_id"`
	Seq            int            `json:"seq"`
	Content        string         `json:"content"`
	Status         DeliveryStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Push event types.
const (
	EventMessage = "message"
	EventStatus  = "status"
)

// Event is a push frame fanned out to subscribed connections.
// Exactly one of Message or Status is set, matching Type.
type Event struct {
	Type           string        `json:"type"`
	ConversationId string        `json:"conversation_id"`
	Message        *Message      `json:"message,omitempty"`
	Status         *StatusUpdate `json:"status,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// StatusUpdate reports one recipient's receipt advancing for a message.
type StatusUpdate struct {
	MessageId      string         `json:"message_id"`
	ConversationId string         `json:"conversation_id"`
	UserId         string         `json:"user_id"`
	Status         DeliveryStatus `json:"status"`
	// Aggregate is the message's externally visible status after
	// this update, the minimum across all recipients.
	Aggregate DeliveryStatus `json:"aggregate"`
}
