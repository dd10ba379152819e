// Package broadcast fans out import progress snapshots to observers.
package broadcast

import (
	"time"

	"github.com/timmy/shotguess/internal/domain"
)

// Snapshot is the progress view pushed to observers.
type Snapshot struct {
	JobID                 string              `json:"job_id"`
	ImportType            domain.ImportType   `json:"import_type"`
	Status                domain.ImportStatus `json:"status"`
	PercentComplete       float64             `json:"percent_complete"`
	Message               string              `json:"message,omitempty"`
	CurrentBatch          int                 `json:"current_batch"`
	CurrentPage           int                 `json:"current_page"`
	TotalBatchesEstimated *int                `json:"total_batches_estimated,omitempty"`
	ItemsProcessed        int                 `json:"items_processed"`
	ItemsImported         int                 `json:"items_imported"`
	ItemsSkipped          int                 `json:"items_skipped"`
	ItemsFailed           int                 `json:"items_failed"`
	AssetsDownloaded      int                 `json:"assets_downloaded"`
	FailedCount           int                 `json:"failed_count"`
	TotalAvailable        *int                `json:"total_available,omitempty"`
	Timestamp             time.Time           `json:"timestamp"`
}

// NewSnapshot builds a Snapshot from a progress row.
func NewSnapshot(p *domain.ImportProgress, message string) Snapshot {
	return Snapshot{
		JobID:                 p.ID,
		ImportType:            p.ImportType,
		Status:                p.Status,
		PercentComplete:       p.PercentComplete(),
		Message:               message,
		CurrentBatch:          p.CurrentBatch,
		CurrentPage:           p.CurrentPage,
		TotalBatchesEstimated: p.TotalBatchesEstimated,
		ItemsProcessed:        p.ItemsProcessed,
		ItemsImported:         p.ItemsImported,
		ItemsSkipped:          p.ItemsSkipped,
		ItemsFailed:           p.ItemsFailed,
		AssetsDownloaded:      p.AssetsDownloaded,
		FailedCount:           p.ItemsFailed + p.AssetsFailed,
		TotalAvailable:        p.TotalAvailable,
		Timestamp:             time.Now().UTC(),
	}
}
