package model

import "strings"

// Role is the side of a conversation the local user occupies.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Status is a message delivery status.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
	StatusFailed    Status = "failed"
)

// statusRank orders statuses for monotonic local advancement.
var statusRank = map[Status]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
}

// Advances reports whether moving from cur to next is a forward transition.
func (s Status) Advances(next Status) bool {
	return statusRank[next] > statusRank[s]
}

// LocalIDPrefix marks client-generated message IDs awaiting server confirmation.
const LocalIDPrefix = "local-"

// User is a conversation participant as the backend describes it.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"is_online"`
	IsTyping bool   `json:"is_typing"`
}

// Conversation is one buyer-seller-item thread.
type Conversation struct {
	ID                  int64  `json:"id"`
	Buyer               User   `json:"buyer"`
	Seller              User   `json:"seller"`
	ItemID              int64  `json:"item_id"`
	ItemTitle           string `json:"item_title"`
	LastMessage         string `json:"last_message"`
	LastMessageType     string `json:"last_message_type"`
	LastMessageTime     int64  `json:"last_message_time"`
	LastMessageSenderID int64  `json:"last_message_sender_id"`
	UnreadCount         int    `json:"unread_chat_count"`
	IsPinned            bool   `json:"is_pinned"`
	IsMuted             bool   `json:"is_muted"`
	IsArchived          bool   `json:"is_archived"`
	UserBlocked         bool   `json:"user_blocked"`
}

// RoleOf returns the side localUserID occupies in the conversation.
func (c *Conversation) RoleOf(localUserID int64) Role {
	if c.Buyer.ID == localUserID {
		return RoleBuyer
	}
	return RoleSeller
}

// OtherParty returns the participant that is not localUserID.
func (c *Conversation) OtherParty(localUserID int64) *User {
	if c.Buyer.ID == localUserID {
		return &c.Seller
	}
	return &c.Buyer
}

// Message belongs to exactly one conversation. ID is either the server
// identifier or a client-generated one carrying LocalIDPrefix.
type Message struct {
	ID             string `json:"id"`
	ConversationID int64  `json:"item_offer_id"`
	SenderID       int64  `json:"sender_id"`
	Text           string `json:"message"`
	Type           string `json:"message_type"`
	AudioURL       string `json:"audio_url,omitempty"`
	FileURL        string `json:"file_url,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	Status         Status `json:"status"`
	Read           bool   `json:"is_read,omitempty"`
}

// IsLocal reports whether the message still carries a client-generated ID.
func (m *Message) IsLocal() bool {
	return strings.HasPrefix(m.ID, LocalIDPrefix)
}

// ConversationPage is one page of a role's conversation list.
type ConversationPage struct {
	Data        []Conversation `json:"data"`
	CurrentPage int            `json:"current_page"`
	LastPage    int            `json:"last_page"`
}

// MessagePage is one page of a conversation's history, newest-first.
type MessagePage struct {
	Data        []Message `json:"data"`
	CurrentPage int       `json:"current_page"`
	LastPage    int       `json:"last_page"`
}
