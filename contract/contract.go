//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Connection is one live transport connection.
// Handle identifies this exact connection, never the user behind it.
type Connection interface {
	EventSink
	Handle() string
}

// IRegistry maps a user to its single active connection (last connection wins).
type IRegistry interface {
	Register(userID string, conn Connection)
	Unregister(handle string) []string
	Lookup(userID string) (Connection, bool)
	Count() int
}

type IPresence interface {
	Apply(userID string, state domain.PresenceState) error
	Query(callerID, targetID string) domain.PresenceState
	State(userID string) domain.PresenceState
	OnlineCount() int
}

// INotifier delivers events at most once, best-effort.
type INotifier interface {
	DeliverTo(ctx context.Context, userID string, e event.DomainEvent) bool
	Emit(ctx context.Context, conn Connection, e event.DomainEvent) bool
}

// IOrchestrator is the protocol core driven by connection events.
type IOrchestrator interface {
	Connect(ctx context.Context, conn Connection, userID string) error
	Send(ctx context.Context, origin Connection, senderID string, cmd domain.SendCommand) error
	MarkRead(ctx context.Context, userID, conversationID string) error
	QueryStatus(ctx context.Context, origin Connection, callerID, targetID string)
	UpdateStatus(ctx context.Context, userID string, state domain.PresenceState) error
	Disconnect(ctx context.Context, conn Connection, userID string)
}
