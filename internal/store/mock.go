package store

import (
	"github.com/stretchr/testify/mock"

	"github.com/convoim/convo/internal/types"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) UpdateAccount(params UpdateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) GetAccountById(id string) (Account, error) {
	args := m.Called(id)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) CreateConversation(id string, participantIds []string) (Conversation, error) {
	args := m.Called(id, participantIds)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) GetConversation(id string) (Conversation, error) {
	args := m.Called(id)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) ListConversations(userId string) ([]ConversationSummary, error) {
	args := m.Called(userId)
	return args.Get(0).([]ConversationSummary), args.Error(1)
}
func (m *MockRepository) LastSeq(conversationId string) (int, error) {
	args := m.Called(conversationId)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) AppendMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockRepository) GetMessage(id string) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(conversationId string, beforeSeq, limit int) ([]Message, error) {
	args := m.Called(conversationId, beforeSeq, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) AdvanceReceipt(messageId, userId string, status types.DeliveryStatus) (bool, error) {
	args := m.Called(messageId, userId, status)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) AdvanceAllReceipts(messageId string, status types.DeliveryStatus) (int, error) {
	args := m.Called(messageId, status)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) GetReceipts(messageId string) ([]Receipt, error) {
	args := m.Called(messageId)
	return args.Get(0).([]Receipt), args.Error(1)
}
func (m *MockRepository) UnreadCount(conversationId, userId string) (int, error) {
	args := m.Called(conversationId, userId)
	return args.Int(0), args.Error(1)
}
