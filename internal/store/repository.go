package store

import "github.com/convoim/convo/internal/types"

type Repository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (Account, error)
	UpdateAccount(params UpdateAccountParams) (Account, error)
	GetAccountById(id string) (Account, error)
	GetAccountByEmail(email string) (Account, error)

	CreateConversation(id string, participantIds []string) (Conversation, error)
	GetConversation(id string) (Conversation, error)
	ListConversations(userId string) ([]ConversationSummary, error)
	LastSeq(conversationId string) (int, error)

	AppendMessage(msg Message) error
	GetMessage(id string) (Message, error)
	GetMessages(conversationId string, beforeSeq, limit int) ([]Message, error)

	AdvanceReceipt(messageId, userId string, status types.DeliveryStatus) (bool, error)
	AdvanceAllReceipts(messageId string, status types.DeliveryStatus) (int, error)
	GetReceipts(messageId string) ([]Receipt, error)
	UnreadCount(conversationId, userId string) (int, error)
}
