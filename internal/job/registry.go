// Package job manages the asynchronous job lifecycle: submit, poll, progress,
// and terminal transitions. Records persist in the shared Redis backend under
// a TTL that is renewed on every mutation, so jobs expire only after they go
// quiet. Nothing deletes a job explicitly.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anupkhanal/ocrhub/internal/cache"
	"github.com/anupkhanal/ocrhub/pkg/models"
)

var (
	// ErrNotFound means the job ID is unknown or its record has expired.
	ErrNotFound = errors.New("job not found")
	// ErrStorageUnavailable wraps backend failures so callers can retry
	// with backoff instead of silently dropping the mutation.
	ErrStorageUnavailable = errors.New("job storage unavailable")
)

// Registry creates and tracks job records in the shared key-value backend.
type Registry struct {
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewRegistry creates a Registry whose job records live for ttl past their
// last mutation.
func NewRegistry(c cache.Cache, ttl time.Duration) *Registry {
	return &Registry{cache: c, ttl: ttl, now: time.Now}
}

// Submit creates a new queued job and returns it. It fails only when the
// backend is unreachable.
func (r *Registry) Submit(ctx context.Context, kind string, input models.InputDescriptor) (*models.Job, error) {
	now := r.now().UTC()
	j := &models.Job{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    models.JobStatusQueued,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Get loads a job by ID.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	raw, found, err := r.cache.Get(ctx, cache.JobKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	var j models.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// Status is the polling view: where the job is and how far along.
type Status struct {
	Status   string          `json:"status"`
	Progress models.Progress `json:"progress"`
}

// GetStatus returns the job's status and progress without its payload.
func (r *Registry) GetStatus(ctx context.Context, id uuid.UUID) (Status, error) {
	j, err := r.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return Status{Status: j.Status, Progress: j.Progress}, nil
}

// ResultPoll resolves a result fetch to exactly one of: a completed result,
// a terminal error, or a still-processing status. It never blocks.
type ResultPoll struct {
	Status string
	Result *models.ExtractResult
	Error  *models.JobError
}

// GetResult returns the terminal payload when the job is done, or a pending
// indicator otherwise.
func (r *Registry) GetResult(ctx context.Context, id uuid.UUID) (ResultPoll, error) {
	j, err := r.Get(ctx, id)
	if err != nil {
		return ResultPoll{}, err
	}
	return ResultPoll{Status: j.Status, Result: j.Result, Error: j.Error}, nil
}

// MarkProcessing transitions a queued job to processing and records the total
// number of work units (pages). A no-op if the job is already terminal.
func (r *Registry) MarkProcessing(ctx context.Context, id uuid.UUID, totalUnits int) error {
	return r.mutate(ctx, id, func(j *models.Job) {
		if j.Terminal() {
			return
		}
		j.Status = models.JobStatusProcessing
		j.Progress.TotalUnits = totalUnits
	})
}

// UpdateProgress records how many units the owning worker has finished.
// Progress never moves backwards, so redelivered chunk completions that
// arrive out of order cannot make the counter regress.
func (r *Registry) UpdateProgress(ctx context.Context, id uuid.UUID, completedUnits int) error {
	return r.mutate(ctx, id, func(j *models.Job) {
		if j.Terminal() {
			return
		}
		if completedUnits > j.Progress.CompletedUnits {
			j.Progress.CompletedUnits = completedUnits
		}
	})
}

// Complete transitions the job to completed with its result. Calling Complete
// on an already-terminal job is a no-op, so at-least-once task redelivery is
// tolerated rather than prevented.
func (r *Registry) Complete(ctx context.Context, id uuid.UUID, result *models.ExtractResult) error {
	return r.mutate(ctx, id, func(j *models.Job) {
		if j.Terminal() {
			return
		}
		j.Status = models.JobStatusCompleted
		j.Result = result
		j.Error = nil
		j.Progress.CompletedUnits = j.Progress.TotalUnits
	})
}

// Fail transitions the job to failed with an error kind and message. Like
// Complete, it is idempotent on terminal jobs.
func (r *Registry) Fail(ctx context.Context, id uuid.UUID, kind, message string) error {
	return r.mutate(ctx, id, func(j *models.Job) {
		if j.Terminal() {
			return
		}
		j.Status = models.JobStatusFailed
		j.Error = &models.JobError{Kind: kind, Message: message}
		j.Result = nil
	})
}

func (r *Registry) mutate(ctx context.Context, id uuid.UUID, apply func(*models.Job)) error {
	j, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	apply(j)
	j.UpdatedAt = r.now().UTC()
	return r.save(ctx, j)
}

func (r *Registry) save(ctx context.Context, j *models.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	if err := r.cache.Set(ctx, cache.JobKey(j.ID), raw, r.ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
