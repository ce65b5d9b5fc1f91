package models

import "github.com/LucasandAI/versus-app-sub001/internal/snowflake"

// MessageEvent is a row-insert push delivered by the change feed.
// TimestampMillis is the per-conversation ordering key; when the transport
// omits it, the manager derives it from the snowflake message ID.
type MessageEvent struct {
	Key             ConversationKey `json:"conversation"`
	MessageID       snowflake.ID    `json:"message_id"`
	SenderID        int64           `json:"sender_id,string"`
	TimestampMillis int64           `json:"timestamp_ms"`
	Content         string          `json:"content,omitempty"`
}

// DeleteEvent is a row-delete push delivered by the change feed.
type DeleteEvent struct {
	Key       ConversationKey `json:"conversation"`
	MessageID snowflake.ID    `json:"message_id"`
}

// Message is an accepted message held in a conversation's in-memory list.
type Message struct {
	ID              snowflake.ID `json:"id"`
	SenderID        int64        `json:"sender_id,string"`
	TimestampMillis int64        `json:"timestamp_ms"`
	Content         string       `json:"content,omitempty"`
	Unread          bool         `json:"unread"`
}
