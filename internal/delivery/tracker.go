// Package delivery tracks per-recipient message status. Transitions
// only move forward through sending, sent, delivered, seen; applying
// a transition twice is a no-op, and applying one out of order
// implicitly satisfies the skipped intermediate states.
package delivery

import (
	"fmt"
	"log"

	"github.com/convoim/convo/internal/store"
	"github.com/convoim/convo/internal/types"
)

// ErrMessageNotFound aliases the store sentinel so callers can match
// either surface.
var ErrMessageNotFound = store.ErrMessageNotFound

type Tracker struct {
	log *log.Logger
	db  store.Repository
}

func NewTracker(logger *log.Logger, db store.Repository) *Tracker {
	return &Tracker{
		log: logger,
		db:  db,
	}
}

// RecordSent marks every recipient's receipt at least sent.
// Idempotent; the store seeds receipts at sent when it appends, so
// this is a no-op for messages written through that path.
func (t *Tracker) RecordSent(messageId string) error {
	if _, err := t.db.GetMessage(messageId); err != nil {
		return err
	}

	if _, err := t.db.AdvanceAllReceipts(messageId, types.StatusSent); err != nil {
		return fmt.Errorf("advance receipts for %q: %w", messageId, err)
	}

	return nil
}

// RecordDelivered marks the recipient's receipt delivered. Returns
// nil when the receipt was already at or past delivered.
func (t *Tracker) RecordDelivered(messageId, userId string) (*types.StatusUpdate, error) {
	return t.advance(messageId, userId, types.StatusDelivered)
}

// RecordSeen marks the recipient's receipt seen.
func (t *Tracker) RecordSeen(messageId, userId string) (*types.StatusUpdate, error) {
	return t.advance(messageId, userId, types.StatusSeen)
}

func (t *Tracker) advance(messageId, userId string, status types.DeliveryStatus) (*types.StatusUpdate, error) {
	msg, err := t.db.GetMessage(messageId)
	if err != nil {
		return nil, err
	}

	advanced, err := t.db.AdvanceReceipt(messageId, userId, status)
	if err != nil {
		return nil, fmt.Errorf("advance receipt for %q: %w", messageId, err)
	}
	if !advanced {
		return nil, nil
	}

	aggregate, err := t.Aggregate(messageId)
	if err != nil {
		return nil, err
	}

	return &types.StatusUpdate{
		MessageId:      messageId,
		ConversationId: msg.ConversationId,
		UserId:         userId,
		Status:         status,
		Aggregate:      aggregate,
	}, nil
}

// Aggregate is the message's externally visible status: the minimum
// status across all recipients' receipts.
func (t *Tracker) Aggregate(messageId string) (types.DeliveryStatus, error) {
	receipts, err := t.db.GetReceipts(messageId)
	if err != nil {
		return types.StatusSending, fmt.Errorf("receipts for %q: %w", messageId, err)
	}
	if len(receipts) == 0 {
		return types.StatusSent, nil
	}

	aggregate := types.StatusSeen
	for _, r := range receipts {
		if r.Status < aggregate {
			aggregate = r.Status
		}
	}
	return aggregate, nil
}

// Unread is the number of messages in the conversation addressed to
// the user that the user has not yet seen.
func (t *Tracker) Unread(conversationId, userId string) (int, error) {
	return t.db.UnreadCount(conversationId, userId)
}
