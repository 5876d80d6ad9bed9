package config

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/archtrace/raceway/internal/storage"
)

// RunRetentionSweep runs storage.CleanupOlderThan every interval until
// ctx is cancelled, logging the outcome of each pass (spec §4.9).
func RunRetentionSweep(ctx context.Context, store storage.Storage, retentionHours int, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := store.CleanupOlderThan(ctx, retentionHours, time.Now())
			if err != nil {
				logger.Error("retention sweep failed", zap.Error(err))
				continue
			}
			if stats.EventsDeleted > 0 {
				logger.Info("retention sweep complete",
					zap.Int64("events_deleted", stats.EventsDeleted),
					zap.Int64("distributed_spans_deleted", stats.DistributedSpansDeleted),
					zap.Int64("distributed_edges_deleted", stats.DistributedEdgesDeleted),
					zap.Int64("cross_trace_index_deleted", stats.CrossTraceIndexDeleted),
					zap.Int64("anomalies_deleted", stats.AnomaliesDeleted),
				)
			}
		}
	}
}
