package errors

import "fmt"

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrUnknownStoreDriver = fmt.Errorf("unknown store driver")

	// Send path
	ErrInvalidConversationID = fmt.Errorf("invalid conversation id")
	ErrConversationNotFound  = fmt.Errorf("conversation not found")
	ErrNoRecipient           = fmt.Errorf("conversation has no other participant")
	ErrEmptyText             = fmt.Errorf("message text is required")
	ErrInvalidMessageType    = fmt.Errorf("invalid message type")

	ErrMessageNotFound      = fmt.Errorf("message not found")
	ErrNotParticipant       = fmt.Errorf("user is not a participant of the conversation")
	ErrInvalidUserID        = fmt.Errorf("invalid user id")
	ErrInvalidPresenceState = fmt.Errorf("invalid presence state")
	ErrIdentityMismatch     = fmt.Errorf("joined identity does not match authenticated identity")

	// Auth
	ErrMissingToken = fmt.Errorf("access denied")
	ErrInvalidToken = fmt.Errorf("invalid or expired token")

	// Transport
	ErrBufferFull       = fmt.Errorf("send buffer full")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrRateLimited      = fmt.Errorf("inbound event rate exceeded")
)
