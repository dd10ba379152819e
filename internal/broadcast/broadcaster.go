package broadcast

import (
	"context"

	"github.com/timmy/shotguess/internal/logger"
)

// Broadcaster publishes snapshots. Implementations must not block the caller
// for long; a slow observer must never stall an import.
type Broadcaster interface {
	Broadcast(ctx context.Context, s Snapshot)
}

// Nop discards snapshots.
type Nop struct{}

func (Nop) Broadcast(context.Context, Snapshot) {}

// LogBroadcaster writes each snapshot as a structured log line.
type LogBroadcaster struct{}

func (LogBroadcaster) Broadcast(ctx context.Context, s Snapshot) {
	logger.With(logger.Fields{
		logger.FieldJobID:      s.JobID,
		logger.FieldImportType: s.ImportType,
		logger.FieldStatus:     s.Status,
		logger.FieldBatch:      s.CurrentBatch,
		logger.FieldPage:       s.CurrentPage,
		logger.FieldCount:      s.ItemsProcessed,
		"imported":             s.ItemsImported,
		"skipped":              s.ItemsSkipped,
		"failed":               s.FailedCount,
		"percent":              s.PercentComplete,
	}).Info(ctx, "Import progress: %s", s.Message)
}

// Multi fans a snapshot out to several broadcasters in order.
type Multi []Broadcaster

func (m Multi) Broadcast(ctx context.Context, s Snapshot) {
	for _, b := range m {
		if b != nil {
			b.Broadcast(ctx, s)
		}
	}
}
