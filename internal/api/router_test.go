package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/timmy/shotguess/internal/api/handler"
	"github.com/timmy/shotguess/internal/api/middleware"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/service"
)

type fakeJobs struct {
	jobs     map[string]*domain.ImportProgress
	startErr error
	started  []service.StartRequest
}

func (f *fakeJobs) Start(ctx context.Context, req service.StartRequest) (*domain.ImportProgress, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	p := &domain.ImportProgress{ID: "job-new", ImportType: req.Type, Status: domain.ImportStatusPending, TotalAvailable: intPtr(10)}
	f.jobs[p.ID] = p
	return p, nil
}

func (f *fakeJobs) Pause(ctx context.Context, id string) (*domain.ImportProgress, error) {
	p, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if p.Status != domain.ImportStatusInProgress {
		return nil, domain.ErrInvalidTransition
	}
	p.Status = domain.ImportStatusPaused
	return p, nil
}

func (f *fakeJobs) Resume(ctx context.Context, id string) (*domain.ImportProgress, error) {
	p, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if p.Status != domain.ImportStatusPaused {
		return nil, domain.ErrInvalidTransition
	}
	p.Status = domain.ImportStatusInProgress
	return p, nil
}

func (f *fakeJobs) GetActive(ctx context.Context, t domain.ImportType) (*domain.ImportProgress, error) {
	for _, p := range f.jobs {
		if p.ImportType == t && p.Status.Active() {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*domain.ImportProgress, error) {
	p, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return p, nil
}

func (f *fakeJobs) List(ctx context.Context, limit int) ([]domain.ImportProgress, error) {
	var out []domain.ImportProgress
	for _, p := range f.jobs {
		out = append(out, *p)
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func newTestRouter(jobs *fakeJobs, health map[string]handler.Pinger) http.Handler {
	return SetupRouter(RouterDeps{
		Jobs:   jobs,
		Health: health,
		Mode:   "test",
		CORS:   middleware.CORSConfig{AllowAllOrigins: true},
	})
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJobEndpoints(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.ImportProgress{
		"job-1": {ID: "job-1", ImportType: domain.ImportTypeFull, Status: domain.ImportStatusInProgress, TotalAvailable: intPtr(200), ItemsProcessed: 50},
		"job-2": {ID: "job-2", ImportType: domain.ImportTypeSync, Status: domain.ImportStatusCompleted},
	}}
	r := newTestRouter(jobs, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"get existing", http.MethodGet, "/api/v1/admin/imports/job-1", "", http.StatusOK},
		{"get missing", http.MethodGet, "/api/v1/admin/imports/nope", "", http.StatusNotFound},
		{"list", http.MethodGet, "/api/v1/admin/imports", "", http.StatusOK},
		{"active bad type", http.MethodGet, "/api/v1/admin/imports/active?type=bogus", "", http.StatusBadRequest},
		{"active full", http.MethodGet, "/api/v1/admin/imports/active?type=full_import", "", http.StatusOK},
		{"pause completed", http.MethodPost, "/api/v1/admin/imports/job-2/pause", "", http.StatusConflict},
		{"pause running", http.MethodPost, "/api/v1/admin/imports/job-1/pause", "", http.StatusOK},
		{"resume paused", http.MethodPost, "/api/v1/admin/imports/job-1/resume", "", http.StatusOK},
		{"resume missing", http.MethodPost, "/api/v1/admin/imports/nope/resume", "", http.StatusNotFound},
		{"start bad body", http.MethodPost, "/api/v1/admin/imports", "{", http.StatusBadRequest},
		{"start", http.MethodPost, "/api/v1/admin/imports", `{"type":"recalculate","dry_run":true}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(r, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	if len(jobs.started) != 1 || !jobs.started[0].DryRun || jobs.started[0].Type != domain.ImportTypeRecalculate {
		t.Fatalf("started = %+v", jobs.started)
	}
}

func TestGetJobIncludesPercent(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.ImportProgress{
		"job-1": {ID: "job-1", ImportType: domain.ImportTypeFull, Status: domain.ImportStatusInProgress, TotalAvailable: intPtr(200), ItemsProcessed: 50},
	}}
	rec := do(newTestRouter(jobs, nil), http.MethodGet, "/api/v1/admin/imports/job-1", "")

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != "job-1" {
		t.Fatalf("id = %v", body["id"])
	}
	if body["percent_complete"] != 25.0 {
		t.Fatalf("percent_complete = %v, want 25", body["percent_complete"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestStartErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrJobAlreadyActive, http.StatusConflict},
		{domain.ErrMissingCredential, http.StatusBadRequest},
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		jobs := &fakeJobs{jobs: map[string]*domain.ImportProgress{}, startErr: tt.err}
		rec := do(newTestRouter(jobs, nil), http.MethodPost, "/api/v1/admin/imports", `{"type":"full_import"}`)
		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	ok := handler.PingFunc(func(context.Context) error { return nil })
	down := handler.PingFunc(func(context.Context) error { return errors.New("refused") })

	rec := do(newTestRouter(&fakeJobs{}, map[string]handler.Pinger{"db": ok}), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	rec = do(newTestRouter(&fakeJobs{}, map[string]handler.Pinger{"db": ok, "redis": down}), http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := SetupRouter(RouterDeps{
		Jobs: &fakeJobs{},
		Mode: "test",
		CORS: middleware.CORSConfig{AllowedOrigins: []string{"https://admin.example.com"}},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/admin/imports", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Fatalf("allow origin = %q", got)
	}
}
