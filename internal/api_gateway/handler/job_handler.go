package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/reelforge-backend/internal/api_gateway/middleware"
	"github.com/reelforge-backend/internal/api_gateway/service"
	"github.com/reelforge-backend/internal/domain/account"
	"github.com/reelforge-backend/internal/domain/event"
	"github.com/reelforge-backend/internal/domain/job"
)

// JobHandler handles HTTP requests for generation jobs
type JobHandler struct {
	jobService service.JobService
	logger     *slog.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(logger *slog.Logger, jobService service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// Create reserves the job's cost and accepts it for asynchronous processing
func (h *JobHandler) Create(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		RespondBadRequest(c, "Invalid account ID")
		return
	}

	jobID, err := h.jobService.RequestJob(c.Request.Context(), accountID, req.Params, req.Cost, middleware.GetCorrelationID(c))
	if err != nil {
		switch {
		case errors.Is(err, account.ErrInsufficientFunds):
			RespondPaymentRequired(c, "Insufficient credits for this job")
		case errors.Is(err, account.ErrAccountNotFound{}):
			RespondNotFound(c, "Account not found")
		case errors.Is(err, job.ErrInvalidCost), errors.Is(err, job.ErrMissingParams):
			RespondBadRequest(c, err.Error())
		default:
			h.logger.Error("Failed to request job", "account_id", req.AccountID, "error", err)
			RespondInternalError(c)
		}
		return
	}

	RespondAccepted(c, gin.H{
		"job_id": jobID.String(),
		"status": string(job.StatusPending),
	})
}

// GetByID returns the job's current state, 404 if unknown
func (h *JobHandler) GetByID(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	j, err := h.jobService.GetJobStatus(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get job", id, err)
		return
	}

	RespondOK(c, mapJobToResponse(j))
}

// Cancel closes a pending or processing job and refunds its cost
func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	var req CancelJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		RespondBadRequest(c, "Invalid account ID")
		return
	}

	j, err := h.jobService.CancelJob(c.Request.Context(), id, accountID)
	if err != nil {
		h.respondError(c, "Failed to cancel job", id, err)
		return
	}

	RespondOK(c, mapJobToResponse(j))
}

// Events returns the job's lifecycle timeline, oldest first
func (h *JobHandler) Events(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	events, err := h.jobService.GetJobEvents(c.Request.Context(), id, pagination.Page, pagination.PerPage)
	if err != nil {
		h.respondError(c, "Failed to get job events", id, err)
		return
	}

	response := make([]JobEventResponse, 0, len(events))
	for _, evt := range events {
		response = append(response, mapEventToResponse(evt))
	}
	RespondOK(c, response)
}

func (h *JobHandler) jobID(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Error("Invalid job ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid job ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *JobHandler) respondError(c *gin.Context, msg string, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound{}):
		RespondNotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobNotOwned):
		RespondForbidden(c, "Job belongs to another account")
	case errors.Is(err, job.ErrInvalidTransition{}):
		RespondConflict(c, "Job has already finished")
	default:
		h.logger.Error(msg, "job_id", id.String(), "error", err)
		RespondInternalError(c)
	}
}

func mapJobToResponse(j *job.Job) JobResponse {
	response := JobResponse{
		ID:              j.ID.String(),
		AccountID:       j.AccountID.String(),
		Status:          string(j.Status),
		Cost:            j.Cost,
		Params:          j.Params,
		DurationSeconds: j.DurationSeconds,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       j.UpdatedAt.Format(time.RFC3339),
	}
	if j.ArtifactRef != nil {
		response.ArtifactRef = *j.ArtifactRef
	}
	if j.ErrorDetail != nil {
		response.ErrorDetail = *j.ErrorDetail
	}
	if j.CompletedAt != nil {
		response.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return response
}

func mapEventToResponse(evt *event.JobEvent) JobEventResponse {
	return JobEventResponse{
		EventID:    evt.EventID.String(),
		Type:       string(evt.Type),
		Status:     evt.Status,
		Detail:     evt.Detail,
		Attempt:    evt.Attempt,
		OccurredAt: evt.OccurredAt.Format(time.RFC3339),
	}
}
