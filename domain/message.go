// Package domain contains core concepts of the chat system.
// This file defines Messages and their delivery lifecycle.
package domain

import (
	"chat-relay/errors"
	"time"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses along sent -> delivered -> read.
// Unknown statuses rank below sent.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle monotonic.
// Re-applying the same status is not an advance.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.Rank() > s.Rank()
}

// Below lists the statuses strictly lower than s.
func (s MessageStatus) Below() []MessageStatus {
	var res []MessageStatus
	for _, st := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		if st.Rank() < s.Rank() {
			res = append(res, st)
		}
	}
	return res
}

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeFile  MessageType = "file"
)

// ParseMessageType applies the text default for an empty type.
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(s) {
	case "":
		return TypeText, nil
	case TypeText, TypeImage, TypeVideo, TypeFile:
		return MessageType(s), nil
	default:
		return "", errors.ErrInvalidMessageType
	}
}

// Message is a persisted chat message addressed to exactly one recipient.
type Message struct {
	ID             ID            `bson:"_id" json:"_id"`
	ConversationID ID            `bson:"conversationId" json:"conversationId"`
	SenderID       ID            `bson:"senderId" json:"senderId"`
	RecipientID    ID            `bson:"recipientId" json:"recipientId"`
	Text           string        `bson:"text" json:"text"`
	Type           MessageType   `bson:"type" json:"type"`
	Status         MessageStatus `bson:"status" json:"status"`
	CreatedAt      time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time     `bson:"updatedAt" json:"updatedAt"`
	DeliveredAt    *time.Time    `bson:"deliveredAt" json:"deliveredAt"`
	ReadAt         *time.Time    `bson:"readAt" json:"readAt"`
	DeletedAt      *time.Time    `bson:"deletedAt" json:"deletedAt"`
}

// Advance moves the message to next if it does not regress its status.
// It reports whether the message changed.
func (m *Message) Advance(next MessageStatus, at time.Time) bool {
	if !m.Status.CanAdvanceTo(next) {
		return false
	}
	m.Status = next
	m.UpdatedAt = at
	switch next {
	case StatusDelivered:
		m.DeliveredAt = &at
	case StatusRead:
		m.ReadAt = &at
	}
	return true
}

// SendCommand carries a private message as received from the sender's connection.
type SendCommand struct {
	ConversationID  string
	ClientMessageID string
	Text            string
	Type            string
}
