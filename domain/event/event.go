package event

import (
	"chat-relay/domain"
	"encoding/json"
)

// Wire names of server to client events.
const (
	NamePrivateMessage = "private message"
	NameMessageReceipt = "message-receipt"
	NameUserStatus     = "user-status"
	NameError          = "error"
)

// DomainEvent is anything the server pushes to a connection.
type DomainEvent interface {
	EventName() string
}

// PrivateMessage carries the message record as persisted at emit time.
type PrivateMessage struct {
	domain.Message
}

func (PrivateMessage) EventName() string { return NamePrivateMessage }

// SendReceipt acknowledges a private message to the connection that sent it.
// Status is left empty when the recipient was not reachable, and the field is then
// omitted from the payload.
type SendReceipt struct {
	ClientMessageID string               `json:"clientMessageId"`
	SavedMessageID  domain.ID            `json:"savedMessageId"`
	Status          domain.MessageStatus `json:"status,omitempty"`
	ConversationID  string               `json:"conversationId"`
}

func (SendReceipt) EventName() string { return NameMessageReceipt }

// DeliveryReceipt aggregates every message of one sender delivered by a reconciliation pass.
type DeliveryReceipt struct {
	MessageIDs []domain.ID           `json:"messageId"`
	Status     domain.MessageStatus `json:"status"`
}

func (DeliveryReceipt) EventName() string { return NameMessageReceipt }

// ReadReceipt is conversation-granular: it names no message.
type ReadReceipt struct {
	ConversationID string               `json:"conversationId"`
	Status         domain.MessageStatus `json:"status"`
}

func (ReadReceipt) EventName() string { return NameMessageReceipt }

type UserStatus struct {
	UserID string               `json:"userId"`
	State  domain.PresenceState `json:"state"`
}

func (UserStatus) EventName() string { return NameUserStatus }

// Error is encoded as a bare string.
type Error struct {
	Message string
}

func (Error) EventName() string { return NameError }

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Message)
}

const (
	ErrorInvalidConversationID = "Invalid conversation ID"
	ErrorSendFailed            = "Failed to send message"
)
