// Package model defines data structures for the chat pipeline.
package model

import (
	"time"
)

// SenderType identifies which side of a conversation sent a message.
type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderSeller SenderType = "seller"
)

// Valid reports whether the sender type is one of the two known roles.
func (s SenderType) Valid() bool {
	return s == SenderUser || s == SenderSeller
}

// Counterpart returns the role on the other side of the conversation.
func (s SenderType) Counterpart() SenderType {
	if s == SenderUser {
		return SenderSeller
	}
	return SenderUser
}

// Key returns the role-qualified identity key for a raw id, e.g. "seller_42".
func (s SenderType) Key(rawID string) string {
	return string(s) + "_" + rawID
}

// ChatMessage is the unit of conversation content. It carries no primary key
// until persisted; while in flight its identity is its position in the queue.
type ChatMessage struct {
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderType     SenderType `json:"senderType"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"createdAt"`
}
