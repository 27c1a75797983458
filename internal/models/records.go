package models

import "time"

// DirectMessageRecord is a row in direct_messages.
type DirectMessageRecord struct {
	ID          int64                  `json:"id,omitempty"`
	SenderID    string                 `json:"senderId"`
	RecipientID string                 `json:"recipientId"`
	Content     string                 `json:"content"`
	MessageType string                 `json:"messageType"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt,omitempty"`
}

// CirclePostRecord is a row in circle_posts.
type CirclePostRecord struct {
	ID          int64     `json:"id,omitempty"`
	UserID      string    `json:"userId"`
	Content     string    `json:"content"`
	GroupID     string    `json:"groupId"`
	Visibility  string    `json:"visibility"`
	ChakraTag   string    `json:"chakraTag,omitempty"`
	Tone        string    `json:"tone,omitempty"`
	Frequency   string    `json:"frequency,omitempty"`
	IsAnonymous bool      `json:"isAnonymous"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// JournalEntryRecord is a row in journal_entries.
type JournalEntryRecord struct {
	ID        int64     `json:"id,omitempty"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Mood      string    `json:"mood,omitempty"`
	Tags      []string  `json:"tags"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}
