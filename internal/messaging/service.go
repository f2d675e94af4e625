// Package messaging orchestrates the send and acknowledgment paths:
// sequence assignment, durable append, receipt transitions, and
// realtime fan-out.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"

	"github.com/convoim/convo/internal/delivery"
	"github.com/convoim/convo/internal/hub"
	"github.com/convoim/convo/internal/sequencer"
	"github.com/convoim/convo/internal/stats"
	"github.com/convoim/convo/internal/store"
	"github.com/convoim/convo/internal/types"
)

const (
	maxSendAttempts = 3
	retryBaseDelay  = 50 * time.Millisecond
)

var (
	ErrEmptyContent = errors.New("message content must not be empty")
	// ErrSendFailed is terminal: retries are exhausted and the
	// message must be reported failed to the sender, never silently
	// dropped.
	ErrSendFailed = errors.New("message failed to send")
)

type Service struct {
	log     *log.Logger
	db      store.Repository
	seq     *sequencer.Sequencer
	tracker *delivery.Tracker
	hub     *hub.Hub
	stats   stats.Provider
}

func NewService(logger *log.Logger, db store.Repository, seq *sequencer.Sequencer, tracker *delivery.Tracker, h *hub.Hub, st stats.Provider) *Service {
	st.RegisterMetric("NumMessagesSent")
	st.RegisterMetric("NumStatusUpdates")

	return &Service{
		log:     logger,
		db:      db,
		seq:     seq,
		tracker: tracker,
		hub:     h,
		stats:   st,
	}
}

// StartConversation creates (or returns) the conversation for the
// participant set. The caller is always included.
func (s *Service) StartConversation(userId string, participantIds []string) (types.Conversation, error) {
	participants := append([]string{userId}, participantIds...)

	sid, err := shortid.Generate()
	if err != nil {
		return types.Conversation{}, fmt.Errorf("generate conversation id: %w", err)
	}

	conv, err := s.db.CreateConversation(sid, participants)
	if err != nil {
		return types.Conversation{}, err
	}

	return types.Conversation{
		Id:             conv.Id,
		ParticipantIds: conv.ParticipantIds,
		LastSeq:        conv.LastSeq,
		CreatedAt:      conv.CreatedAt,
	}, nil
}

// Send assigns the next sequence number, durably appends the
// message, and fans it out to connected participants. The fan-out
// happens inside the sequencer's critical section so a connection
// never observes sequence n+1 before n. origin, when non-nil, is the
// sender's own connection and is skipped (echo suppression).
func (s *Service) Send(ctx context.Context, senderId, conversationId, content string, origin *hub.Connection) (types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyContent
	}

	conv, err := s.db.GetConversation(conversationId)
	if err != nil {
		return types.Message{}, err
	}
	if !contains(conv.ParticipantIds, senderId) {
		return types.Message{}, store.ErrNotAParticipant
	}

	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return types.Message{}, err
			}
		}

		ticket, err := s.seq.Acquire(ctx, conversationId)
		if err != nil {
			if errors.Is(err, sequencer.ErrUnavailable) {
				s.log.Printf("send attempt %d for %q: %v", attempt+1, conversationId, err)
				continue
			}
			return types.Message{}, err
		}

		stored := store.Message{
			Id:             uuid.NewString(),
			ConversationId: conversationId,
			SenderId:       senderId,
			Seq:            ticket.Seq(),
			Content:        content,
			CreatedAt:      time.Now().UTC(),
		}

		if err := s.db.AppendMessage(stored); err != nil {
			ticket.Abort()
			if errors.Is(err, store.ErrConversationNotFound) || errors.Is(err, store.ErrNotAParticipant) {
				return types.Message{}, err
			}
			s.log.Printf("append attempt %d for %q: %v", attempt+1, conversationId, err)
			continue
		}

		// The committed append is the sending -> sent transition; the
		// store seeds receipts at sent, so the push below can never
		// disagree with a durable read.
		msg := toWire(stored)
		msg.Status = types.StatusSent

		reached := s.hub.Publish(conv.ParticipantIds, &types.Event{
			Type:           types.EventMessage,
			ConversationId: conversationId,
			Message:        &msg,
			Timestamp:      msg.CreatedAt,
		}, origin)

		ticket.Commit()
		s.stats.Incr("NumMessagesSent")

		// A queued push on a live connection counts as delivered for
		// that recipient.
		for _, userId := range reached {
			if userId == senderId {
				continue
			}
			if upd, err := s.tracker.RecordDelivered(msg.Id, userId); err == nil && upd != nil {
				s.publishStatus(conv.ParticipantIds, upd)
			}
		}

		return msg, nil
	}

	return types.Message{}, fmt.Errorf("send to %q: %w", conversationId, ErrSendFailed)
}

// MarkSeen records the user's explicit read acknowledgment and
// notifies participants. Re-acknowledging is a no-op.
func (s *Service) MarkSeen(ctx context.Context, userId, conversationId, messageId string) error {
	msg, err := s.db.GetMessage(messageId)
	if err != nil {
		return err
	}
	if msg.ConversationId != conversationId {
		return store.ErrMessageNotFound
	}

	conv, err := s.db.GetConversation(conversationId)
	if err != nil {
		return err
	}
	if !contains(conv.ParticipantIds, userId) {
		return store.ErrNotAParticipant
	}

	upd, err := s.tracker.RecordSeen(messageId, userId)
	if err != nil {
		return err
	}
	if upd != nil {
		s.publishStatus(conv.ParticipantIds, upd)
	}

	return nil
}

// MarkDelivered records a client-side delivery acknowledgment, used
// when a client confirms receipt of a backfilled message.
func (s *Service) MarkDelivered(ctx context.Context, userId, messageId string) error {
	msg, err := s.db.GetMessage(messageId)
	if err != nil {
		return err
	}

	conv, err := s.db.GetConversation(msg.ConversationId)
	if err != nil {
		return err
	}
	if !contains(conv.ParticipantIds, userId) {
		return store.ErrNotAParticipant
	}

	upd, err := s.tracker.RecordDelivered(messageId, userId)
	if err != nil {
		return err
	}
	if upd != nil {
		s.publishStatus(conv.ParticipantIds, upd)
	}

	return nil
}

// History returns a page of messages strictly ordered by sequence
// descending from beforeSeq, or from the latest when beforeSeq <= 0.
func (s *Service) History(ctx context.Context, userId, conversationId string, beforeSeq, limit int) ([]types.Message, error) {
	conv, err := s.db.GetConversation(conversationId)
	if err != nil {
		return nil, err
	}
	if !contains(conv.ParticipantIds, userId) {
		return nil, store.ErrNotAParticipant
	}

	stored, err := s.db.GetMessages(conversationId, beforeSeq, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]types.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, toWire(m))
	}
	return messages, nil
}

// List returns the user's conversations ordered by most recent
// message, with unread counts.
func (s *Service) List(ctx context.Context, userId string) ([]types.Conversation, error) {
	summaries, err := s.db.ListConversations(userId)
	if err != nil {
		return nil, err
	}

	conversations := make([]types.Conversation, 0, len(summaries))
	for _, sum := range summaries {
		conversations = append(conversations, types.Conversation{
			Id:             sum.Id,
			ParticipantIds: sum.ParticipantIds,
			LastSeq:        sum.LastSeq,
			UnreadCount:    sum.UnreadCount,
			LastMessageAt:  sum.LastMessageAt,
			CreatedAt:      sum.CreatedAt,
		})
	}
	return conversations, nil
}

func (s *Service) publishStatus(participantIds []string, upd *types.StatusUpdate) {
	s.hub.Publish(participantIds, &types.Event{
		Type:           types.EventStatus,
		ConversationId: upd.ConversationId,
		Status:         upd,
		Timestamp:      time.Now().UTC(),
	}, nil)
	s.stats.Incr("NumStatusUpdates")
}

func toWire(m store.Message) types.Message {
	return types.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SenderId:       m.SenderId,
		Seq:            m.Seq,
		Content:        m.Content,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delay := retryBaseDelay << (attempt - 1)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
