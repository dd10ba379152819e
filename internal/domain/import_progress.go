package domain

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

// ImportType discriminates the kind of batch job sharing the engine.
type ImportType string

const (
	ImportTypeFull        ImportType = "full_import"
	ImportTypeSync        ImportType = "sync"
	ImportTypeRecalculate ImportType = "recalculate"
)

// Valid reports whether t is a known job kind.
func (t ImportType) Valid() bool {
	switch t {
	case ImportTypeFull, ImportTypeSync, ImportTypeRecalculate:
		return true
	}
	return false
}

// ImportStatus is the lifecycle state of an import job.
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusInProgress ImportStatus = "in_progress"
	ImportStatusPaused     ImportStatus = "paused"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
)

// Active reports whether the status occupies the single active slot of its import type.
func (s ImportStatus) Active() bool {
	return s == ImportStatusInProgress || s == ImportStatusPaused
}

// Terminal reports whether no more batches will run.
func (s ImportStatus) Terminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed
}

// MaxRecentErrors bounds ImportProgress.RecentErrors.
const MaxRecentErrors = 20

// JobOptions are fixed at job creation and stored with the progress row.
type JobOptions struct {
	DryRun          bool   `json:"dry_run,omitempty"`
	AssetsPerRecord int    `json:"assets_per_record,omitempty"`
	Ordering        string `json:"ordering,omitempty"`
	Dates           string `json:"dates,omitempty"`
	Genres          string `json:"genres,omitempty"`
	Platforms       string `json:"platforms,omitempty"`
}

// ImportProgress is the durable state of one job and the unit of checkpointing.
//
// Counter convention: ItemsProcessed counts every record examined, and each examined
// record lands in exactly one of ItemsImported, ItemsSkipped or ItemsFailed. Asset
// failures never move a record between buckets; they are counted in AssetsFailed.
// FailedCount is ItemsFailed + AssetsFailed.
type ImportProgress struct {
	ID                    string                         `gorm:"type:text;primaryKey" json:"id"`
	ImportType            ImportType                     `gorm:"type:text;not null;index" json:"import_type"`
	Status                ImportStatus                   `gorm:"type:text;not null;index;default:pending" json:"status"`
	BatchSize             int                            `gorm:"not null" json:"batch_size"`
	PageSize              int                            `gorm:"not null" json:"page_size"`
	CurrentPage           int                            `gorm:"not null;default:1" json:"current_page"`
	PageOffset            int                            `gorm:"not null;default:0" json:"page_offset"`
	CurrentBatch          int                            `gorm:"not null;default:0" json:"current_batch"`
	ItemsProcessed        int                            `gorm:"not null;default:0" json:"items_processed"`
	ItemsImported         int                            `gorm:"not null;default:0" json:"items_imported"`
	ItemsSkipped          int                            `gorm:"not null;default:0" json:"items_skipped"`
	ItemsFailed           int                            `gorm:"not null;default:0" json:"items_failed"`
	AssetsDownloaded      int                            `gorm:"not null;default:0" json:"assets_downloaded"`
	AssetsFailed          int                            `gorm:"not null;default:0" json:"assets_failed"`
	FailedCount           int                            `gorm:"not null;default:0" json:"failed_count"`
	TotalAvailable        *int                           `json:"total_available,omitempty"`
	TotalBatchesEstimated *int                           `json:"total_batches_estimated,omitempty"`
	Options               datatypes.JSONType[JobOptions] `gorm:"type:text" json:"options"`
	RecentErrors          datatypes.JSONSlice[string]    `gorm:"type:text" json:"recent_errors,omitempty"`
	LastError             string                         `gorm:"type:text" json:"last_error,omitempty"`
	StartedAt             *time.Time                     `json:"started_at,omitempty"`
	PausedAt              *time.Time                     `json:"paused_at,omitempty"`
	CompletedAt           *time.Time                     `json:"completed_at,omitempty"`
	CreatedAt             time.Time                      `json:"created_at"`
	UpdatedAt             time.Time                      `json:"updated_at"`
}

// TableName returns the database table name for ImportProgress.
func (ImportProgress) TableName() string {
	return "import_progress"
}

// Opts returns the decoded options column.
func (p *ImportProgress) Opts() JobOptions {
	return p.Options.Data()
}

// CheckCounters verifies the outcome buckets add up to ItemsProcessed.
func (p *ImportProgress) CheckCounters() error {
	if sum := p.ItemsImported + p.ItemsSkipped + p.ItemsFailed; sum != p.ItemsProcessed {
		return fmt.Errorf("counter mismatch: processed=%d imported+skipped+failed=%d", p.ItemsProcessed, sum)
	}
	if p.FailedCount != p.ItemsFailed+p.AssetsFailed {
		return fmt.Errorf("counter mismatch: failed_count=%d items_failed+assets_failed=%d",
			p.FailedCount, p.ItemsFailed+p.AssetsFailed)
	}
	return nil
}

// PercentComplete estimates completion from processed items, 100 once completed.
func (p *ImportProgress) PercentComplete() float64 {
	if p.Status == ImportStatusCompleted {
		return 100
	}
	if p.TotalAvailable == nil || *p.TotalAvailable <= 0 {
		return 0
	}
	pct := float64(p.ItemsProcessed) / float64(*p.TotalAvailable) * 100
	return math.Min(99.9, math.Round(pct*10)/10)
}

// EstimateBatches returns ceil(total / batchSize).
func EstimateBatches(total, batchSize int) int {
	if batchSize <= 0 || total <= 0 {
		return 0
	}
	return (total + batchSize - 1) / batchSize
}

// ProgressCounters is the absolute counter state written at each checkpoint.
// PageOffset is the number of records of CurrentPage already handled; a resumed
// batch skips them without counting them again.
type ProgressCounters struct {
	CurrentPage      int
	PageOffset       int
	CurrentBatch     int
	ItemsProcessed   int
	ItemsImported    int
	ItemsSkipped     int
	ItemsFailed      int
	AssetsDownloaded int
	AssetsFailed     int
	RecentErrors     []string
}

// Counters snapshots the counter columns of p.
func (p *ImportProgress) Counters() ProgressCounters {
	return ProgressCounters{
		CurrentPage:      p.CurrentPage,
		PageOffset:       p.PageOffset,
		CurrentBatch:     p.CurrentBatch,
		ItemsProcessed:   p.ItemsProcessed,
		ItemsImported:    p.ItemsImported,
		ItemsSkipped:     p.ItemsSkipped,
		ItemsFailed:      p.ItemsFailed,
		AssetsDownloaded: p.AssetsDownloaded,
		AssetsFailed:     p.AssetsFailed,
		RecentErrors:     append([]string(nil), p.RecentErrors...),
	}
}

// Apply copies counters onto p.
func (p *ImportProgress) Apply(c ProgressCounters) {
	p.CurrentPage = c.CurrentPage
	p.PageOffset = c.PageOffset
	p.CurrentBatch = c.CurrentBatch
	p.ItemsProcessed = c.ItemsProcessed
	p.ItemsImported = c.ItemsImported
	p.ItemsSkipped = c.ItemsSkipped
	p.ItemsFailed = c.ItemsFailed
	p.AssetsDownloaded = c.AssetsDownloaded
	p.AssetsFailed = c.AssetsFailed
	p.FailedCount = c.ItemsFailed + c.AssetsFailed
	p.RecentErrors = datatypes.NewJSONSlice(c.RecentErrors)
}

// AppendRecentError keeps the newest MaxRecentErrors messages.
func AppendRecentError(errs []string, msg string) []string {
	errs = append(errs, msg)
	if len(errs) > MaxRecentErrors {
		errs = errs[len(errs)-MaxRecentErrors:]
	}
	return errs
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
