package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/engine"
	"github.com/timmy/shotguess/internal/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestScoreGuess(t *testing.T) {
	tests := []struct {
		name  string
		guess domain.SessionGuess
		want  int
	}{
		{"incorrect", domain.SessionGuess{Correct: false, TimeTakenMs: 1000}, 0},
		{"fast no hints", domain.SessionGuess{Correct: true, TimeTakenMs: 10000}, 120},
		{"two hints at the limit", domain.SessionGuess{Correct: true, HintsUsed: 2, TimeTakenMs: 30000}, 50},
		{"hint floor", domain.SessionGuess{Correct: true, HintsUsed: 5, TimeTakenMs: 0}, 55},
		{"slow", domain.SessionGuess{Correct: true, TimeTakenMs: 45000}, 100},
		{"bonus rounds down", domain.SessionGuess{Correct: true, TimeTakenMs: 29999}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreGuess(tt.guess); got != tt.want {
				t.Errorf("ScoreGuess() = %d, want %d", got, tt.want)
			}
		})
	}
}

// seedSessions creates n completed sessions; every third one already has the
// correct score. One active session is added and must be ignored.
func seedSessions(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s-%03d", i)
		guesses := []domain.SessionGuess{
			{ID: id + "-1", SessionID: id, Round: 1, Correct: true, HintsUsed: i % 3, TimeTakenMs: 12000},
			{ID: id + "-2", SessionID: id, Round: 2, Correct: i%2 == 0, TimeTakenMs: 40000},
		}
		total := 0
		if i%3 == 0 {
			for j := range guesses {
				guesses[j].Points = ScoreGuess(guesses[j])
				total += guesses[j].Points
			}
		}
		sess := domain.GameSession{ID: id, UserID: "u", Status: domain.SessionStatusCompleted, TotalScore: total}
		if err := db.Create(&sess).Error; err != nil {
			t.Fatal(err)
		}
		if err := db.Create(&guesses).Error; err != nil {
			t.Fatal(err)
		}
	}
	active := domain.GameSession{ID: "active", Status: domain.SessionStatusActive, TotalScore: 999}
	if err := db.Create(&active).Error; err != nil {
		t.Fatal(err)
	}
}

func scoreSum(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var sum int64
	if err := db.Model(&domain.GameSession{}).Select("COALESCE(SUM(total_score), 0)").Scan(&sum).Error; err != nil {
		t.Fatal(err)
	}
	return sum
}

func runRecalc(t *testing.T, db *gorm.DB, e *engine.Engine, dryRun bool) *domain.ImportProgress {
	t.Helper()
	ctx := context.Background()
	progress := repository.NewProgressRepository(db)
	p := &domain.ImportProgress{
		ID:          uuid.New().String(),
		ImportType:  domain.ImportTypeRecalculate,
		Status:      domain.ImportStatusInProgress,
		BatchSize:   3,
		PageSize:    4,
		CurrentPage: 1,
		Options:     datatypes.NewJSONType(domain.JobOptions{DryRun: dryRun}),
	}
	if err := progress.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		res, err := e.RunBatch(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Completed {
			break
		}
	}
	out, err := progress.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.ImportStatusCompleted {
		t.Fatalf("recalculation did not complete: %s", out.Status)
	}
	if err := out.CheckCounters(); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRecalc_DryRunEquivalence(t *testing.T) {
	db := openTestDB(t)
	seedSessions(t, db, 12)

	e := engine.New(repository.NewProgressRepository(db), nil, engine.Config{})
	e.Register(NewRecalcStrategy(repository.NewSessionRepository(db)))

	before := scoreSum(t, db)
	dry := runRecalc(t, db, e, true)
	if after := scoreSum(t, db); after != before {
		t.Fatalf("dry run wrote scores: %d -> %d", before, after)
	}

	real := runRecalc(t, db, e, false)
	if dry.ItemsProcessed != real.ItemsProcessed || dry.ItemsImported != real.ItemsImported || dry.ItemsSkipped != real.ItemsSkipped {
		t.Errorf("dry run counters %d/%d/%d differ from real %d/%d/%d",
			dry.ItemsProcessed, dry.ItemsImported, dry.ItemsSkipped,
			real.ItemsProcessed, real.ItemsImported, real.ItemsSkipped)
	}
	if real.ItemsImported != 8 || real.ItemsSkipped != 4 {
		t.Errorf("imported=%d skipped=%d, want 8 and 4", real.ItemsImported, real.ItemsSkipped)
	}

	var active domain.GameSession
	if err := db.First(&active, "id = ?", "active").Error; err != nil || active.TotalScore != 999 {
		t.Errorf("active session touched: %+v, %v", active, err)
	}

	// Everything is now up to date.
	again := runRecalc(t, db, e, false)
	if again.ItemsImported != 0 || again.ItemsSkipped != 12 {
		t.Errorf("second run imported=%d skipped=%d", again.ItemsImported, again.ItemsSkipped)
	}
}

// pausingSessions pauses the job while the pauseAt-th session is being scored.
type pausingSessions struct {
	SessionStore
	calls   int
	pauseAt int
	pause   func()
}

func (s *pausingSessions) ListGuesses(ctx context.Context, sessionID string) ([]domain.SessionGuess, error) {
	s.calls++
	if s.calls == s.pauseAt {
		s.pause()
	}
	return s.SessionStore.ListGuesses(ctx, sessionID)
}

func TestRecalc_PausedDryRunCountsEachSessionOnce(t *testing.T) {
	db := openTestDB(t)
	seedSessions(t, db, 12)
	ctx := context.Background()

	progress := repository.NewProgressRepository(db)
	p := &domain.ImportProgress{
		ID:          uuid.New().String(),
		ImportType:  domain.ImportTypeRecalculate,
		Status:      domain.ImportStatusInProgress,
		BatchSize:   100,
		PageSize:    8,
		CurrentPage: 1,
		Options:     datatypes.NewJSONType(domain.JobOptions{DryRun: true}),
	}
	if err := progress.Create(ctx, p); err != nil {
		t.Fatal(err)
	}

	sessions := &pausingSessions{
		SessionStore: repository.NewSessionRepository(db),
		pauseAt:      2,
		pause: func() {
			if _, err := progress.SetStatus(ctx, p.ID, domain.ImportStatusPaused); err != nil {
				t.Error(err)
			}
		},
	}
	e := engine.New(progress, nil, engine.Config{})
	e.Register(NewRecalcStrategy(sessions))

	res, err := e.RunBatch(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Paused || res.Processed != 2 {
		t.Fatalf("expected a pause after 2 sessions, got %+v", res)
	}

	if _, err := progress.TransitionStatus(ctx, p.ID, domain.ImportStatusPaused, domain.ImportStatusInProgress); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		res, err := e.RunBatch(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Completed {
			break
		}
	}

	out, err := progress.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.ImportStatusCompleted {
		t.Fatalf("status = %s", out.Status)
	}
	if out.ItemsProcessed != 12 || out.ItemsImported != 8 || out.ItemsSkipped != 4 {
		t.Errorf("processed=%d would-update=%d unchanged=%d, want 12/8/4",
			out.ItemsProcessed, out.ItemsImported, out.ItemsSkipped)
	}
	if sessions.calls != 12 {
		t.Errorf("scored %d sessions, want each of 12 once", sessions.calls)
	}
}
