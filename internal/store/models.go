package store

// Message type codes as produced by the transcript parsers. Everything
// that is not plain text (images, stickers, voice notes, revoked
// messages) keeps its original code and is stored opaquely.
const MessageTypeText = 1

// Meta is the singleton conversation descriptor written once at import.
type Meta struct {
	Name       string `json:"name"`
	Platform   string `json:"platform"`
	Type       string `json:"type"`
	ImportedAt int64  `json:"imported_at"`
}

// SessionSummary describes one session database for listing purposes.
type SessionSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Platform     string `json:"platform"`
	Type         string `json:"type"`
	ImportedAt   int64  `json:"imported_at"`
	MessageCount int    `json:"message_count"`
	MemberCount  int    `json:"member_count"`
}

// Member is a conversation participant. Name holds the most recently
// observed nickname; older nicknames live in member_name_history.
type Member struct {
	ID         int64  `json:"id"`
	PlatformID string `json:"platform_id"`
	Name       string `json:"name"`
}

// NameInterval is one half-open nickname interval [StartTS, EndTS).
// EndTS == nil means the nickname is still in effect.
type NameInterval struct {
	ID       int64  `json:"id"`
	MemberID int64  `json:"member_id"`
	Name     string `json:"name"`
	StartTS  int64  `json:"start_ts"`
	EndTS    *int64 `json:"end_ts"`
}

// Message is a single transcript message. SenderName is filled by query
// joins and is not a column of the message table.
type Message struct {
	ID         int64  `json:"id"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	TS         int64  `json:"ts"`
	Type       int    `json:"type"`
	Content    string `json:"content"`
}
