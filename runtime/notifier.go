package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// Notifier delivers events to the one connection currently registered for a user.
//
// It provides at-most-once, best-effort delivery: an unreachable user simply misses
// the event. There is no queue, no retry and nothing is persisted. Notifier is not
// a message broker.
//
// sinkTimeout bounds a single Consume call. The websocket connection never blocks
// (a full send buffer fails fast), so the bound only matters for sinks that do.
type Notifier struct {
	log         *slog.Logger
	registry    contract.IRegistry
	metrics     *observability.Metrics
	sinkTimeout time.Duration
}

func NewNotifier(log *slog.Logger, registry contract.IRegistry,
	metrics *observability.Metrics, sinkTimeout time.Duration) *Notifier {
	return &Notifier{log: log, registry: registry, metrics: metrics, sinkTimeout: sinkTimeout}
}

// DeliverTo reports whether the event was handed to the user's connection.
func (n *Notifier) DeliverTo(ctx context.Context, userID string, e event.DomainEvent) bool {
	conn, ok := n.registry.Lookup(userID)
	if !ok {
		n.log.Debug("User not reachable, event dropped", "user_id", userID, "event", e.EventName())
		n.metrics.Notification(e.EventName(), observability.OutcomeUnreachable)
		return false
	}
	return n.Emit(ctx, conn, e)
}

// Emit hands the event to one exact connection.
func (n *Notifier) Emit(ctx context.Context, conn contract.Connection, e event.DomainEvent) bool {
	sinkCtx := ctx
	if n.sinkTimeout > 0 {
		var cancel context.CancelFunc
		sinkCtx, cancel = context.WithTimeout(ctx, n.sinkTimeout)
		defer cancel()
	}
	if err := conn.Consume(sinkCtx, e); err != nil {
		n.log.Warn("Event not delivered", "handle", conn.Handle(), "event", e.EventName(), "error", err)
		n.metrics.Notification(e.EventName(), observability.OutcomeFailed)
		return false
	}
	n.metrics.Notification(e.EventName(), observability.OutcomeDelivered)
	return true
}
