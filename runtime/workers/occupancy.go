package workers

import (
	"chat-relay/contract"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// OccupancyWorker periodically copies the registry and presence sizes into the gauges.
// Handlers refresh them on every transition too.
type OccupancyWorker struct {
	log      *slog.Logger
	registry contract.IRegistry
	presence contract.IPresence
	metrics  *observability.Metrics
	interval time.Duration
}

func NewOccupancyWorker(log *slog.Logger, registry contract.IRegistry, presence contract.IPresence,
	metrics *observability.Metrics, interval time.Duration) *OccupancyWorker {
	return &OccupancyWorker{
		log:      log,
		registry: registry,
		presence: presence,
		metrics:  metrics,
		interval: interval,
	}
}

func (w *OccupancyWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping occupancy sampling")
			return nil
		case <-ticker.C:
			w.Sample()
		}
	}
}

func (w *OccupancyWorker) Sample() {
	connections, online := w.registry.Count(), w.presence.OnlineCount()
	w.metrics.SetConnections(connections)
	w.metrics.SetOnline(online)
	w.log.Debug("Occupancy sampled", "connections", connections, "online", online)
}
