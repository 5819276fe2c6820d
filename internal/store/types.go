package store

// Conversation is a cached conversation row.
type Conversation struct {
	ID                  int64
	Role                string
	BuyerID             int64
	BuyerName           string
	SellerID            int64
	SellerName          string
	ItemID              int64
	ItemTitle           string
	LastMessage         string
	LastMessageType     string
	LastMessageTime     int64
	LastMessageSenderID int64
	UnreadCount         int
	IsPinned            bool
	IsMuted             bool
	IsArchived          bool
	UserBlocked         bool
}

// Message is a cached message row.
type Message struct {
	ID             int64
	ConversationID int64
	MsgID          string
	SenderID       int64
	Body           string
	MessageType    string
	AudioURL       string
	FileURL        string
	Status         string
	CreatedAt      int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID int64
	Body           string
	MessageType    string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
