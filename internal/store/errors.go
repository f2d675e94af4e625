package store

import "errors"

var (
	ErrInvalidParticipants  = errors.New("conversation requires at least two unique participants")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotAParticipant      = errors.New("sender is not a participant of the conversation")
	ErrMessageNotFound      = errors.New("message not found")
	ErrDuplicateSequence    = errors.New("sequence number already used in conversation")
	ErrAccountExists        = errors.New("account already exists")
	ErrAccountNotFound      = errors.New("account not found")
)
