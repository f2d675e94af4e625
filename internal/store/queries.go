package store

import (
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/lib/pq"

	"github.com/convoim/convo/internal/types"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (db *PgRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (id, email, display_name, avatar_ref, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id, email, display_name, avatar_ref, created_at, updated_at",
		params.Id,
		params.Email,
		params.DisplayName,
		params.AvatarRef,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var a Account
	err := res.Scan(
		&a.Id,
		&a.Email,
		&a.DisplayName,
		&a.AvatarRef,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return Account{}, ErrAccountExists
	}

	return a, err
}

func (db *PgRepository) UpdateAccount(params UpdateAccountParams) (Account, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET display_name = $2, avatar_ref = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, email, display_name, avatar_ref, created_at, updated_at",
		params.UserId,
		params.DisplayName,
		params.AvatarRef,
		time.Now().UTC(),
	)

	var a Account
	err := res.Scan(
		&a.Id,
		&a.Email,
		&a.DisplayName,
		&a.AvatarRef,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}

	return a, err
}

func (db *PgRepository) GetAccountById(id string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, display_name, avatar_ref, password_hash, created_at, updated_at "+
			"FROM accounts WHERE id = $1 LIMIT 1",
		id,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Email,
		&a.DisplayName,
		&a.AvatarRef,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}

	return a, err
}

func (db *PgRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, display_name, avatar_ref, password_hash, created_at, updated_at "+
			"FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Email,
		&a.DisplayName,
		&a.AvatarRef,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}

	return a, err
}

// CreateConversation inserts a conversation for the given participant
// set, or returns the existing one if that exact set already has a
// conversation. The caller supplies the id used on first creation.
func (db *PgRepository) CreateConversation(id string, participantIds []string) (Conversation, error) {
	participants, key, err := normalizeParticipants(participantIds)
	if err != nil {
		return Conversation{}, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.Exec(
		"INSERT INTO conversations (id, participant_key, last_seq, created_at) "+
			"VALUES ($1, $2, 0, $3) ON CONFLICT (participant_key) DO NOTHING",
		id,
		key,
		time.Now().UTC(),
	)
	if err != nil {
		return Conversation{}, err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return Conversation{}, err
	}

	if inserted > 0 {
		for _, userId := range participants {
			if _, err = tx.Exec(
				"INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)",
				id,
				userId,
			); err != nil {
				return Conversation{}, err
			}
		}
	}

	row := tx.QueryRow(
		"SELECT id, last_seq, created_at FROM conversations WHERE participant_key = $1 LIMIT 1",
		key,
	)

	var conv Conversation
	if err = row.Scan(&conv.Id, &conv.LastSeq, &conv.CreatedAt); err != nil {
		return Conversation{}, err
	}
	conv.ParticipantIds = participants

	if err = tx.Commit(); err != nil {
		return Conversation{}, err
	}

	return conv, nil
}

func (db *PgRepository) GetConversation(id string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT c.id, c.last_seq, c.created_at, "+
			"(SELECT array_agg(p.user_id ORDER BY p.user_id) FROM conversation_participants p WHERE p.conversation_id = c.id) "+
			"FROM conversations c WHERE c.id = $1 LIMIT 1",
		id,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.LastSeq,
		&conv.CreatedAt,
		pq.Array(&conv.ParticipantIds),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}

	return conv, err
}

func (db *PgRepository) ListConversations(userId string) ([]ConversationSummary, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.last_seq, c.created_at, "+
			"(SELECT array_agg(p2.user_id ORDER BY p2.user_id) FROM conversation_participants p2 WHERE p2.conversation_id = c.id), "+
			"COALESCE((SELECT MAX(m.created_at) FROM messages m WHERE m.conversation_id = c.id), c.created_at), "+
			"(SELECT COUNT(*) FROM receipts r JOIN messages m2 ON m2.id = r.message_id "+
			"WHERE m2.conversation_id = c.id AND r.user_id = $1 AND r.status < $2) "+
			"FROM conversations c "+
			"JOIN conversation_participants p ON p.conversation_id = c.id "+
			"WHERE p.user_id = $1 "+
			"ORDER BY 5 DESC",
		userId,
		types.StatusSeen,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ConversationSummary
	for rows.Next() {
		var s ConversationSummary
		if err = rows.Scan(
			&s.Id,
			&s.LastSeq,
			&s.CreatedAt,
			pq.Array(&s.ParticipantIds),
			&s.LastMessageAt,
			&s.UnreadCount,
		); err != nil {
			return nil, err
		}

		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

func (db *PgRepository) LastSeq(conversationId string) (int, error) {
	row := db.conn.QueryRow(
		"SELECT last_seq FROM conversations WHERE id = $1 LIMIT 1",
		conversationId,
	)

	var lastSeq int
	err := row.Scan(&lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrConversationNotFound
	}

	return lastSeq, err
}

// AppendMessage durably records a message and seeds a receipt per
// recipient. Receipts start at sent, since committing this
// transaction is what makes the message durable; there is never a
// window where an appended message reads below sent. The caller must
// hold a sequencer-issued sequence number; a duplicate
// (conversation, seq) pair fails with ErrDuplicateSequence.
func (db *PgRepository) AppendMessage(msg Message) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var participantIds []string
	row := tx.QueryRow(
		"SELECT (SELECT array_agg(p.user_id) FROM conversation_participants p WHERE p.conversation_id = c.id) "+
			"FROM conversations c WHERE c.id = $1 LIMIT 1",
		msg.ConversationId,
	)
	if err = row.Scan(pq.Array(&participantIds)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrConversationNotFound
		}
		return err
	}

	isParticipant := false
	for _, id := range participantIds {
		if id == msg.SenderId {
			isParticipant = true
			break
		}
	}
	if !isParticipant {
		err = ErrNotAParticipant
		return err
	}

	if _, err = tx.Exec(
		"INSERT INTO messages (id, conversation_id, sender_id, seq, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6)",
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.Seq,
		msg.Content,
		msg.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateSequence
		}
		return err
	}

	if _, err = tx.Exec(
		"UPDATE conversations SET last_seq = GREATEST(last_seq, $2) WHERE id = $1",
		msg.ConversationId,
		msg.Seq,
	); err != nil {
		return err
	}

	for _, userId := range participantIds {
		if userId == msg.SenderId {
			continue
		}
		if _, err = tx.Exec(
			"INSERT INTO receipts (message_id, user_id, status, observed_at) VALUES ($1, $2, $3, $4)",
			msg.Id,
			userId,
			types.StatusSent,
			msg.CreatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *PgRepository) GetMessage(id string) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT m.id, m.conversation_id, m.sender_id, m.seq, m.content, m.created_at, "+
			"COALESCE((SELECT MIN(r.status) FROM receipts r WHERE r.message_id = m.id), $2) "+
			"FROM messages m WHERE m.id = $1 LIMIT 1",
		id,
		types.StatusSent,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.Seq,
		&msg.Content,
		&msg.CreatedAt,
		&msg.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}

	return msg, err
}

func (db *PgRepository) GetMessages(conversationId string, beforeSeq, limit int) ([]Message, error) {
	upper := math.MaxInt32
	if beforeSeq > 0 {
		upper = beforeSeq - 1
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT m.id, m.conversation_id, m.sender_id, m.seq, m.content, m.created_at, "+
			"COALESCE((SELECT MIN(r.status) FROM receipts r WHERE r.message_id = m.id), $4) "+
			"FROM messages m WHERE m.conversation_id = $1 AND m.seq <= $2 "+
			"ORDER BY m.seq DESC LIMIT $3",
		conversationId,
		upper,
		limit,
		types.StatusSent,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.Seq,
			&msg.Content,
			&msg.CreatedAt,
			&msg.Status,
		); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// AdvanceReceipt moves one recipient's receipt forward to status.
// Returns false when the receipt was already at or past status, which
// makes re-applied transitions no-ops.
func (db *PgRepository) AdvanceReceipt(messageId, userId string, status types.DeliveryStatus) (bool, error) {
	res, err := db.conn.Exec(
		"UPDATE receipts SET status = $3, observed_at = $4 "+
			"WHERE message_id = $1 AND user_id = $2 AND status < $3",
		messageId,
		userId,
		status,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgRepository) AdvanceAllReceipts(messageId string, status types.DeliveryStatus) (int, error) {
	res, err := db.conn.Exec(
		"UPDATE receipts SET status = $2, observed_at = $3 "+
			"WHERE message_id = $1 AND status < $2",
		messageId,
		status,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (db *PgRepository) GetReceipts(messageId string) ([]Receipt, error) {
	rows, err := db.conn.Query(
		"SELECT message_id, user_id, status, observed_at FROM receipts WHERE message_id = $1",
		messageId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		if err = rows.Scan(&r.MessageId, &r.UserId, &r.Status, &r.ObservedAt); err != nil {
			return nil, err
		}

		receipts = append(receipts, r)
	}

	return receipts, rows.Err()
}

func (db *PgRepository) UnreadCount(conversationId, userId string) (int, error) {
	row := db.conn.QueryRow(
		"SELECT COUNT(*) FROM receipts r JOIN messages m ON m.id = r.message_id "+
			"WHERE m.conversation_id = $1 AND r.user_id = $2 AND r.status < $3",
		conversationId,
		userId,
		types.StatusSeen,
	)

	var count int
	err := row.Scan(&count)
	return count, err
}
