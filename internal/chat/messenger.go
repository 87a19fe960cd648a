// Package chat holds the messaging-platform collaborators: the Messenger
// boundary the core talks through, and signal aggregation for the
// personality evolver. The core never sees platform-specific types.
package chat

import (
	"context"
	"time"
)

// HistoryMessage is one platform-agnostic chat message.
type HistoryMessage struct {
	ChatID    string
	SenderID  string
	Text      string
	Timestamp time.Time
	FromSelf  bool
}

// Messenger is everything the core needs from a chat platform.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string) (messageID string, err error)
	EditMessage(ctx context.Context, chatID, messageID, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	FetchRecentHistory(ctx context.Context, chatID string, limit int) ([]HistoryMessage, error)
}
