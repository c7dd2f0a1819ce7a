// Package ws speaks the chat protocol over WebSocket.
// Every frame in either direction is a JSON envelope {"event": name, "data": payload}.
package ws

import (
	"chat-relay/domain/event"
	"encoding/json"
)

// Wire names of client to server events.
const (
	EventJoin           = "join"
	EventPrivateMessage = event.NamePrivateMessage
	EventMarkRead       = "mark-read"
	EventStatusGet      = "status:get"
	EventStatusUpdate   = "status:update"
)

// Envelope is an inbound frame. Data is decoded once the event name is known.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode wraps a domain event in its wire envelope.
func Encode(e event.DomainEvent) ([]byte, error) {
	return json.Marshal(outbound{Event: e.EventName(), Data: e})
}

type JoinPayload struct {
	ID string `json:"_id" validate:"required,objectid"`
}

// PrivateMessagePayload is checked by the send path itself, which owns the error replies.
type PrivateMessagePayload struct {
	ConversationID  string `json:"conversationId"`
	ClientMessageID string `json:"clientMessageId"`
	Text            string `json:"text"`
	Type            string `json:"type"`
}

type MarkReadPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type StatusGetPayload struct {
	UserID string `json:"userId" validate:"required"`
}

type StatusUpdatePayload struct {
	State string `json:"state" validate:"required,oneof=online away offline"`
}
