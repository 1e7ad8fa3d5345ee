package model

import (
	"time"
)

// EventType discriminates structured events on the persistent connection.
type EventType string

const (
	// EventMarkAsSeen clears the caller's unseen counter for a conversation.
	EventMarkAsSeen EventType = "MARK_AS_SEEN"

	// EventNewMessage delivers a chat message to a connected client.
	EventNewMessage EventType = "NEW_MESSAGE"

	// EventUnseenCountUpdate pushes the recipient's current unseen count.
	EventUnseenCountUpdate EventType = "UNSEEN_COUNT_UPDATE"
)

// InboundEvent is the client→server payload shape. Chat sends carry no Type;
// they are recognized by their message fields instead.
type InboundEvent struct {
	Type EventType `json:"type,omitempty"`

	// MARK_AS_SEEN
	ConversationID string `json:"conversationId,omitempty"`

	// Chat send
	FromUserID  string     `json:"fromUserId,omitempty"`
	ToUserID    string     `json:"toUserId,omitempty"`
	MessageBody string     `json:"messageBody,omitempty"`
	SenderType  SenderType `json:"senderType,omitempty"`
}

// IsChatSend reports whether the event is an implicit chat-send (no type
// discriminator, message fields present instead).
func (e *InboundEvent) IsChatSend() bool {
	return e.Type == ""
}

// NewMessagePayload is the payload of a NEW_MESSAGE event.
type NewMessagePayload struct {
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderType     SenderType `json:"senderType"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// UnseenCountPayload is the payload of an UNSEEN_COUNT_UPDATE event.
type UnseenCountPayload struct {
	ConversationID string `json:"conversationId"`
	Count          int64  `json:"count"`
}

// OutboundEvent is the server→client envelope.
type OutboundEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// NewMessageEvent builds the NEW_MESSAGE envelope for a chat message.
func NewMessageEvent(m *ChatMessage) OutboundEvent {
	return OutboundEvent{
		Type: EventNewMessage,
		Payload: NewMessagePayload{
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			SenderType:     m.SenderType,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		},
	}
}

// UnseenCountEvent builds the UNSEEN_COUNT_UPDATE envelope.
func UnseenCountEvent(conversationID string, count int64) OutboundEvent {
	return OutboundEvent{
		Type: EventUnseenCountUpdate,
		Payload: UnseenCountPayload{
			ConversationID: conversationID,
			Count:          count,
		},
	}
}
