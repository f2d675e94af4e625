package store

import (
	"time"

	"github.com/convoim/convo/internal/types"
)

type Account struct {
	Id           string
	Email        string
	DisplayName  string
	AvatarRef    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	Id             string
	ParticipantIds []string
	LastSeq        int
	CreatedAt      time.Time
}

// ConversationSummary is a conversation as it appears in a user's
// conversation list: the base record plus the timestamp of the most
// recent message and that user's unread count.
type ConversationSummary struct {
	Conversation
	LastMessageAt time.Time
	UnreadCount   int
}

type Message struct {
	Id             string
	ConversationId string
	SenderId       string
	Seq            int
	Content        string
	// Status is the aggregate delivery status, the minimum across
	// all recipients' receipts. Populated on reads only.
	Status    types.DeliveryStatus
	CreatedAt time.Time
}

// Receipt tracks one recipient's delivery state for one message.
type Receipt struct {
	MessageId  string
	UserId     string
	Status     types.DeliveryStatus
	ObservedAt time.Time
}

type CreateAccountParams struct {
	Id           string
	Email        string
	DisplayName  string
	AvatarRef    string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId      string
	DisplayName string
	AvatarRef   string
}
