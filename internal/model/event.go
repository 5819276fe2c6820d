package model

// TypingEvent signals a participant started or stopped typing.
type TypingEvent struct {
	ConversationID int64
	UserID         int64
	IsTyping       bool
}

// UserStatusEvent toggles a user's online presence.
type UserStatusEvent struct {
	UserID int64
	Online bool
}

// MessageStatusEvent advances message delivery status. An empty MessageID
// means the update is bulk: every message sent by the local user in the
// conversation takes the new status.
type MessageStatusEvent struct {
	ConversationID int64
	MessageID      string
	Status         Status
}
