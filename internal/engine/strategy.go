package engine

import (
	"context"

	"github.com/timmy/shotguess/internal/domain"
)

// Item is one source record. Key identifies it in logs and error messages.
type Item struct {
	Key   string
	Value interface{}
}

// Page is one page of source records.
type Page struct {
	Items   []Item
	HasNext bool
	// Total is the source's own count of available records, when known.
	Total int
}

// Result is the bucket a processed record lands in.
type Result int

const (
	ResultImported Result = iota
	ResultSkipped
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultImported:
		return "imported"
	case ResultSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Outcome is what processing one record produced.
type Outcome struct {
	Result           Result
	AssetsDownloaded int
	AssetsFailed     int
	// Warnings are recorded in the job's recent errors without failing the record.
	Warnings []string
}

// Strategy is one kind of job. The engine owns paging, checkpoints, pausing
// and counters; a strategy only knows how to list and process records.
type Strategy interface {
	Type() domain.ImportType
	FetchPage(ctx context.Context, page, pageSize int) (*Page, error)
	ProcessItem(ctx context.Context, progress *domain.ImportProgress, item Item) (Outcome, error)
}

// PageAligned is implemented by strategies whose batches must end on a page
// boundary. The batch may then exceed BatchSize by up to one page.
type PageAligned interface {
	CompletePages() bool
}

type progressKey struct{}

// WithProgress attaches the job being run so FetchPage can read its options.
func WithProgress(ctx context.Context, p *domain.ImportProgress) context.Context {
	return context.WithValue(ctx, progressKey{}, p)
}

// ProgressFromContext returns the job attached by WithProgress, or nil.
func ProgressFromContext(ctx context.Context) *domain.ImportProgress {
	p, _ := ctx.Value(progressKey{}).(*domain.ImportProgress)
	return p
}
