package store

import (
	"errors"
	"time"
)

var errUnknownFlag = errors.New("store: unknown conversation flag")

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, body, message_type, audio_url, file_url, status, created_at, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status`,
		m.ConversationID, m.MsgID, m.SenderID, m.Body, m.MessageType, m.AudioURL, m.FileURL, m.Status, m.CreatedAt, now)
	return err
}

// ReplaceMessageID swaps a client-generated message ID for the server one
// after a send is confirmed.
func (db *DB) ReplaceMessageID(conversationID int64, oldID, newID string) error {
	_, err := db.Exec(`UPDATE messages SET msg_id = ? WHERE conversation_id = ? AND msg_id = ?`,
		newID, conversationID, oldID)
	return err
}

// SetMessageStatus updates the delivery status of one cached message.
func (db *DB) SetMessageStatus(conversationID int64, msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE conversation_id = ? AND msg_id = ?`,
		status, conversationID, msgID)
	return err
}

// SetAllMessagesStatus updates the status of every message a sender has in a
// conversation. Used for bulk seen notifications.
func (db *DB) SetAllMessagesStatus(conversationID, senderID int64, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE conversation_id = ? AND sender_id = ?`,
		status, conversationID, senderID)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by creation time, newest first.
func (db *DB) ListMessages(conversationID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, body, message_type, audio_url, file_url, status, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Body, &m.MessageType,
			&m.AudioURL, &m.FileURL, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
