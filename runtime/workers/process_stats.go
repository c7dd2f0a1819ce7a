package workers

import (
	"chat-relay/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessStatsWorker samples the server's own RSS and CPU usage into the metrics.
type ProcessStatsWorker struct {
	log      *slog.Logger
	metrics  *observability.Metrics
	interval time.Duration
}

func NewProcessStatsWorker(log *slog.Logger, metrics *observability.Metrics, interval time.Duration) *ProcessStatsWorker {
	return &ProcessStatsWorker{log: log, metrics: metrics, interval: interval}
}

func (w *ProcessStatsWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Sample(p); err != nil {
				w.log.Warn("Failed to collect process stats", "error", err)
			}
		}
	}
}

func (w *ProcessStatsWorker) Sample(p *process.Process) error {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return err
	}
	w.metrics.SetProcessStats(memInfo.RSS, cpuPercent)
	return nil
}
