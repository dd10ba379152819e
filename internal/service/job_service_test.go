package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/engine"
	"github.com/timmy/shotguess/internal/queue"
	"github.com/timmy/shotguess/internal/repository"
)

// countingStrategy reports a fixed total and imports everything.
type countingStrategy struct {
	t     domain.ImportType
	total int
}

func (s countingStrategy) Type() domain.ImportType { return s.t }

func (s countingStrategy) FetchPage(_ context.Context, page, pageSize int) (*engine.Page, error) {
	return &engine.Page{Total: s.total, HasNext: page*pageSize < s.total}, nil
}

func (s countingStrategy) ProcessItem(context.Context, *domain.ImportProgress, engine.Item) (engine.Outcome, error) {
	return engine.Outcome{Result: engine.ResultImported}, nil
}

func newTestJobService(t *testing.T, strategies ...engine.Strategy) (*JobService, *queue.MemoryQueue) {
	t.Helper()
	db := openTestDB(t)
	store := repository.NewProgressRepository(db)
	e := engine.New(store, nil, engine.Config{})
	for _, s := range strategies {
		e.Register(s)
	}
	q := queue.NewMemoryQueue(10)
	svc := NewJobService(store, e, q, nil, JobServiceConfig{BatchSize: 100, PageSize: 40, SyncLookbackDays: 7})
	svc.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	return svc, q
}

func TestJobService_StartEstimatesAndEnqueues(t *testing.T) {
	svc, q := newTestJobService(t, countingStrategy{t: domain.ImportTypeFull, total: 237})
	ctx := context.Background()

	p, err := svc.Start(ctx, StartRequest{Type: domain.ImportTypeFull})
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.ImportStatusInProgress || p.BatchSize != 100 || p.PageSize != 40 {
		t.Errorf("unexpected job: %+v", p)
	}
	if p.TotalAvailable == nil || *p.TotalAvailable != 237 || *p.TotalBatchesEstimated != 3 {
		t.Errorf("unexpected estimate: %v / %v", p.TotalAvailable, p.TotalBatchesEstimated)
	}
	task, ok := q.TryDequeue()
	if !ok || task.JobID != p.ID || task.Batch != 0 {
		t.Fatalf("expected first batch task, got %+v", task)
	}

	_, err = svc.Start(ctx, StartRequest{Type: domain.ImportTypeFull})
	if !errors.Is(err, domain.ErrJobAlreadyActive) {
		t.Fatalf("expected ErrJobAlreadyActive, got %v", err)
	}

	active, err := svc.GetActive(ctx, domain.ImportTypeFull)
	if err != nil || active == nil || active.ID != p.ID {
		t.Errorf("GetActive = %+v, %v", active, err)
	}
}

func TestJobService_PauseResume(t *testing.T) {
	svc, q := newTestJobService(t, countingStrategy{t: domain.ImportTypeFull, total: 10})
	ctx := context.Background()

	p, err := svc.Start(ctx, StartRequest{Type: domain.ImportTypeFull})
	if err != nil {
		t.Fatal(err)
	}
	q.TryDequeue()

	if _, err := svc.Resume(ctx, p.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("resume of running job: expected ErrInvalidTransition, got %v", err)
	}

	paused, err := svc.Pause(ctx, p.ID)
	if err != nil || paused.Status != domain.ImportStatusPaused {
		t.Fatalf("pause: %+v, %v", paused, err)
	}
	if _, err := svc.Pause(ctx, p.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("double pause: expected ErrInvalidTransition, got %v", err)
	}

	// Still the active job while paused.
	if _, err := svc.Start(ctx, StartRequest{Type: domain.ImportTypeFull}); !errors.Is(err, domain.ErrJobAlreadyActive) {
		t.Errorf("start while paused: expected ErrJobAlreadyActive, got %v", err)
	}

	resumed, err := svc.Resume(ctx, p.ID)
	if err != nil || resumed.Status != domain.ImportStatusInProgress {
		t.Fatalf("resume: %+v, %v", resumed, err)
	}
	task, ok := q.TryDequeue()
	if !ok || !task.Resume || task.JobID != p.ID {
		t.Errorf("expected resume task, got %+v", task)
	}

	if _, err := svc.Pause(ctx, "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobService_StartValidation(t *testing.T) {
	svc, _ := newTestJobService(t, countingStrategy{t: domain.ImportTypeRecalculate, total: 3})
	ctx := context.Background()

	tests := []struct {
		name    string
		req     StartRequest
		wantErr error
	}{
		{"unknown type", StartRequest{Type: "bogus"}, domain.ErrInvalidArgument},
		{"no api key", StartRequest{Type: domain.ImportTypeFull}, domain.ErrMissingCredential},
		{"negative batch", StartRequest{Type: domain.ImportTypeRecalculate, BatchSize: -1}, domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Start(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	p, err := svc.Start(ctx, StartRequest{Type: domain.ImportTypeRecalculate, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if !p.Opts().DryRun || p.BatchSize != 500 || p.PageSize != 100 {
		t.Errorf("unexpected recalculation defaults: %+v", p)
	}
}

func TestJobService_SyncOptions(t *testing.T) {
	svc, _ := newTestJobService(t, countingStrategy{t: domain.ImportTypeSync, total: 12})

	p, err := svc.Start(context.Background(), StartRequest{Type: domain.ImportTypeSync, PageSize: 100})
	if err != nil {
		t.Fatal(err)
	}
	opts := p.Opts()
	if opts.Ordering != "-released" || opts.Dates != "2024-03-08,2024-03-15" {
		t.Errorf("unexpected sync options: %+v", opts)
	}
	if p.PageSize != maxPageSize {
		t.Errorf("page size = %d, want capped at %d", p.PageSize, maxPageSize)
	}
	if opts.AssetsPerRecord != defaultAssetsPerRecord {
		t.Errorf("assets per record = %d", opts.AssetsPerRecord)
	}

	list, err := svc.List(context.Background(), 10)
	if err != nil || len(list) != 1 || !strings.EqualFold(string(list[0].ImportType), "sync") {
		t.Errorf("List = %+v, %v", list, err)
	}
}
