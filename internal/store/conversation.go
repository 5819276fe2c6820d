package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, role, buyer_id, buyer_name, seller_id, seller_name,
			item_id, item_title, last_message, last_message_type, last_message_time,
			last_message_sender_id, unread_count, is_pinned, is_muted, is_archived,
			user_blocked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			buyer_name = excluded.buyer_name,
			seller_name = excluded.seller_name,
			item_title = excluded.item_title,
			last_message = excluded.last_message,
			last_message_type = excluded.last_message_type,
			last_message_time = excluded.last_message_time,
			last_message_sender_id = excluded.last_message_sender_id,
			unread_count = excluded.unread_count,
			is_pinned = excluded.is_pinned,
			is_muted = excluded.is_muted,
			is_archived = excluded.is_archived,
			user_blocked = excluded.user_blocked,
			updated_at = excluded.updated_at`,
		c.ID, c.Role, c.BuyerID, c.BuyerName, c.SellerID, c.SellerName,
		c.ItemID, c.ItemTitle, c.LastMessage, c.LastMessageType, c.LastMessageTime,
		c.LastMessageSenderID, c.UnreadCount, c.IsPinned, c.IsMuted, c.IsArchived,
		c.UserBlocked, now)
	return err
}

// ListConversations returns cached conversations for a role, most recent first.
func (db *DB) ListConversations(role string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, role, buyer_id, buyer_name, seller_id, seller_name,
			item_id, item_title, last_message, last_message_type, last_message_time,
			last_message_sender_id, unread_count, is_pinned, is_muted, is_archived, user_blocked
		FROM conversations
		WHERE role = ?
		ORDER BY last_message_time DESC
		LIMIT ? OFFSET ?`, role, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Role, &c.BuyerID, &c.BuyerName, &c.SellerID, &c.SellerName,
			&c.ItemID, &c.ItemTitle, &c.LastMessage, &c.LastMessageType, &c.LastMessageTime,
			&c.LastMessageSenderID, &c.UnreadCount, &c.IsPinned, &c.IsMuted, &c.IsArchived,
			&c.UserBlocked); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by ID, or nil when absent.
func (db *DB) GetConversation(id int64) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, role, buyer_id, buyer_name, seller_id, seller_name,
			item_id, item_title, last_message, last_message_type, last_message_time,
			last_message_sender_id, unread_count, is_pinned, is_muted, is_archived, user_blocked
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Role, &c.BuyerID, &c.BuyerName, &c.SellerID, &c.SellerName,
			&c.ItemID, &c.ItemTitle, &c.LastMessage, &c.LastMessageType, &c.LastMessageTime,
			&c.LastMessageSenderID, &c.UnreadCount, &c.IsPinned, &c.IsMuted, &c.IsArchived,
			&c.UserBlocked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkConversationSeen zeroes the cached unread counter for a conversation.
func (db *DB) MarkConversationSeen(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// SetConversationFlag updates one of the boolean conversation flags.
func (db *DB) SetConversationFlag(id int64, column string, value bool) error {
	now := time.Now().UnixMilli()
	var q string
	switch column {
	case "is_pinned":
		q = `UPDATE conversations SET is_pinned = ?, updated_at = ? WHERE id = ?`
	case "is_muted":
		q = `UPDATE conversations SET is_muted = ?, updated_at = ? WHERE id = ?`
	case "is_archived":
		q = `UPDATE conversations SET is_archived = ?, updated_at = ? WHERE id = ?`
	default:
		return errUnknownFlag
	}
	_, err := db.Exec(q, value, now, id)
	return err
}

// DeleteConversation removes a conversation and its cached messages.
func (db *DB) DeleteConversation(id int64) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	return err
}
