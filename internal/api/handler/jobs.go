package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/anupkhanal/ocrhub/internal/api/response"
	"github.com/anupkhanal/ocrhub/internal/job"
)

// JobReader defines the polling interface the job handlers depend on.
type JobReader interface {
	GetStatus(ctx context.Context, id uuid.UUID) (job.Status, error)
	GetResult(ctx context.Context, id uuid.UUID) (job.ResultPoll, error)
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewJobStatusHandler(reg JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		st, err := reg.GetStatus(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, st)
	}
}

// NewJobResultHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/result.
// A job that is still running answers 200 with its status so clients can keep
// polling the same URL until the terminal payload appears.
func NewJobResultHandler(reg JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		poll, err := reg.GetResult(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}

		response.JSON(w, resultResponse{
			Status: poll.Status,
			Result: poll.Result,
			Error:  poll.Error,
		})
	}
}

type resultResponse struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  any    `json:"error,omitempty"`
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
			"No job with that ID (it may have expired)", nil)
	case errors.Is(err, job.ErrStorageUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE",
			"Job storage is temporarily unavailable", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
