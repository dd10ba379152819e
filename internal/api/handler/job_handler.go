package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/logger"
	"github.com/timmy/shotguess/internal/service"
)

// JobService is the subset of service.JobService the admin endpoints call.
type JobService interface {
	Start(ctx context.Context, req service.StartRequest) (*domain.ImportProgress, error)
	Pause(ctx context.Context, id string) (*domain.ImportProgress, error)
	Resume(ctx context.Context, id string) (*domain.ImportProgress, error)
	GetActive(ctx context.Context, t domain.ImportType) (*domain.ImportProgress, error)
	Get(ctx context.Context, id string) (*domain.ImportProgress, error)
	List(ctx context.Context, limit int) ([]domain.ImportProgress, error)
}

// JobHandler serves the admin import-job endpoints.
type JobHandler struct {
	jobs JobService
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// JobResponse wraps a job with derived fields for the admin UI.
type JobResponse struct {
	*domain.ImportProgress
	PercentComplete float64 `json:"percent_complete"`
}

func toResponse(p *domain.ImportProgress) JobResponse {
	return JobResponse{ImportProgress: p, PercentComplete: p.PercentComplete()}
}

// Start handles POST /api/v1/admin/imports
func (h *JobHandler) Start(c *gin.Context) {
	var req service.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	p, err := h.jobs.Start(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "start", err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(p))
}

// Active handles GET /api/v1/admin/imports/active?type=
func (h *JobHandler) Active(c *gin.Context) {
	t := domain.ImportType(c.Query("type"))
	if !t.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown import type: " + string(t)})
		return
	}

	p, err := h.jobs.GetActive(c.Request.Context(), t)
	if err != nil {
		h.fail(c, "get active", err)
		return
	}
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"job": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": toResponse(p)})
}

// Get handles GET /api/v1/admin/imports/:id
func (h *JobHandler) Get(c *gin.Context) {
	p, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(p))
}

// List handles GET /api/v1/admin/imports
func (h *JobHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	jobs, err := h.jobs.List(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "list", err)
		return
	}

	results := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		results = append(results, toResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": results, "total": len(results)})
}

// Pause handles POST /api/v1/admin/imports/:id/pause
func (h *JobHandler) Pause(c *gin.Context) {
	p, err := h.jobs.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "pause", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(p))
}

// Resume handles POST /api/v1/admin/imports/:id/resume
func (h *JobHandler) Resume(c *gin.Context) {
	p, err := h.jobs.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "resume", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(p))
}

func (h *JobHandler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.CtxError(c.Request.Context(), "Import job %s failed: %v", op, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJobAlreadyActive), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrMissingCredential):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
