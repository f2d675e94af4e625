package store

import (
	"sort"
	"sync"
	"time"

	"github.com/convoim/convo/internal/types"
)

// MemRepository is an in-memory Repository used by tests and by the
// server's -mem mode. All methods are safe for concurrent use.
type MemRepository struct {
	mu            sync.Mutex
	accounts      map[string]Account
	conversations map[string]*memConversation
	byKey         map[string]string
	messages      map[string]*memMessage
}

type memConversation struct {
	Conversation
	order []string
}

type memMessage struct {
	Message
	receipts map[string]*Receipt
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		accounts:      make(map[string]Account),
		conversations: make(map[string]*memConversation),
		byKey:         make(map[string]string),
		messages:      make(map[string]*memMessage),
	}
}

func (m *MemRepository) Ping() error { return nil }

func (m *MemRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.Email == params.Email {
			return Account{}, ErrAccountExists
		}
	}

	now := time.Now().UTC()
	a := Account{
		Id:           params.Id,
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		AvatarRef:    params.AvatarRef,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.accounts[a.Id] = a
	return a, nil
}

func (m *MemRepository) UpdateAccount(params UpdateAccountParams) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[params.UserId]
	if !ok {
		return Account{}, ErrAccountNotFound
	}

	a.DisplayName = params.DisplayName
	a.AvatarRef = params.AvatarRef
	a.UpdatedAt = time.Now().UTC()
	m.accounts[a.Id] = a
	return a, nil
}

func (m *MemRepository) GetAccountById(id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (m *MemRepository) GetAccountByEmail(email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (m *MemRepository) CreateConversation(id string, participantIds []string) (Conversation, error) {
	participants, key, err := normalizeParticipants(participantIds)
	if err != nil {
		return Conversation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingId, ok := m.byKey[key]; ok {
		return m.conversations[existingId].Conversation, nil
	}

	conv := &memConversation{
		Conversation: Conversation{
			Id:             id,
			ParticipantIds: participants,
			CreatedAt:      time.Now().UTC(),
		},
	}
	m.conversations[id] = conv
	m.byKey[key] = id
	return conv.Conversation, nil
}

func (m *MemRepository) GetConversation(id string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return conv.Conversation, nil
}

func (m *MemRepository) ListConversations(userId string) ([]ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var summaries []ConversationSummary
	for _, conv := range m.conversations {
		isParticipant := false
		for _, p := range conv.ParticipantIds {
			if p == userId {
				isParticipant = true
				break
			}
		}
		if !isParticipant {
			continue
		}

		s := ConversationSummary{
			Conversation:  conv.Conversation,
			LastMessageAt: conv.CreatedAt,
		}
		for _, msgId := range conv.order {
			msg := m.messages[msgId]
			if msg.CreatedAt.After(s.LastMessageAt) {
				s.LastMessageAt = msg.CreatedAt
			}
			if r, ok := msg.receipts[userId]; ok && r.Status < types.StatusSeen {
				s.UnreadCount++
			}
		}

		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})
	return summaries, nil
}

func (m *MemRepository) LastSeq(conversationId string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationId]
	if !ok {
		return 0, ErrConversationNotFound
	}
	return conv.LastSeq, nil
}

func (m *MemRepository) AppendMessage(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationId]
	if !ok {
		return ErrConversationNotFound
	}

	isParticipant := false
	for _, p := range conv.ParticipantIds {
		if p == msg.SenderId {
			isParticipant = true
			break
		}
	}
	if !isParticipant {
		return ErrNotAParticipant
	}

	for _, msgId := range conv.order {
		if m.messages[msgId].Seq == msg.Seq {
			return ErrDuplicateSequence
		}
	}

	stored := &memMessage{
		Message:  msg,
		receipts: make(map[string]*Receipt),
	}
	for _, p := range conv.ParticipantIds {
		if p == msg.SenderId {
			continue
		}
		stored.receipts[p] = &Receipt{
			MessageId:  msg.Id,
			UserId:     p,
			Status:     types.StatusSent,
			ObservedAt: msg.CreatedAt,
		}
	}

	m.messages[msg.Id] = stored
	conv.order = append(conv.order, msg.Id)
	if msg.Seq > conv.LastSeq {
		conv.LastSeq = msg.Seq
	}
	return nil
}

func (m *MemRepository) GetMessage(id string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return m.withAggregate(msg), nil
}

func (m *MemRepository) GetMessages(conversationId string, beforeSeq, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationId]
	if !ok {
		return nil, ErrConversationNotFound
	}

	upper := int(^uint(0) >> 1)
	if beforeSeq > 0 {
		upper = beforeSeq - 1
	}
	if limit <= 0 {
		limit = 20
	}

	var messages []Message
	for _, msgId := range conv.order {
		msg := m.messages[msgId]
		if msg.Seq <= upper {
			messages = append(messages, m.withAggregate(msg))
		}
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].Seq > messages[j].Seq })
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (m *MemRepository) AdvanceReceipt(messageId, userId string, status types.DeliveryStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageId]
	if !ok {
		return false, nil
	}

	r, ok := msg.receipts[userId]
	if !ok || r.Status >= status {
		return false, nil
	}

	r.Status = status
	r.ObservedAt = time.Now().UTC()
	return true, nil
}

func (m *MemRepository) AdvanceAllReceipts(messageId string, status types.DeliveryStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageId]
	if !ok {
		return 0, nil
	}

	advanced := 0
	for _, r := range msg.receipts {
		if r.Status < status {
			r.Status = status
			r.ObservedAt = time.Now().UTC()
			advanced++
		}
	}
	return advanced, nil
}

func (m *MemRepository) GetReceipts(messageId string) ([]Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageId]
	if !ok {
		return nil, nil
	}

	receipts := make([]Receipt, 0, len(msg.receipts))
	for _, r := range msg.receipts {
		receipts = append(receipts, *r)
	}
	return receipts, nil
}

func (m *MemRepository) UnreadCount(conversationId, userId string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationId]
	if !ok {
		return 0, ErrConversationNotFound
	}

	count := 0
	for _, msgId := range conv.order {
		if r, ok := m.messages[msgId].receipts[userId]; ok && r.Status < types.StatusSeen {
			count++
		}
	}
	return count, nil
}

func (m *MemRepository) withAggregate(msg *memMessage) Message {
	out := msg.Message
	out.Status = types.StatusSeen
	if len(msg.receipts) == 0 {
		out.Status = types.StatusSent
		return out
	}
	for _, r := range msg.receipts {
		if r.Status < out.Status {
			out.Status = r.Status
		}
	}
	return out
}
