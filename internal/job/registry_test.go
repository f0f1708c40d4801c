package job_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupkhanal/ocrhub/internal/job"
	"github.com/anupkhanal/ocrhub/pkg/models"
)

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	setErr error
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (m *memCache) Ping(_ context.Context) error { return nil }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) IncrWindow(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}
func (m *memCache) AcquireLock(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	return true, nil
}
func (m *memCache) ReleaseLock(_ context.Context, _, _ string) error { return nil }

func testInput() models.InputDescriptor {
	return models.InputDescriptor{
		Filename:    "scan.pdf",
		SizeBytes:   1024,
		ContentHash: "abc123",
		Options:     models.ExtractOptions{DPI: 300, ChunkSize: 5},
	}
}

func TestSubmit_CreatesQueuedJob(t *testing.T) {
	reg := job.NewRegistry(newMemCache(), time.Hour)
	ctx := context.Background()

	j, err := reg.Submit(ctx, models.JobKindHybridPDF, testInput())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, j.ID)
	assert.Equal(t, models.JobStatusQueued, j.Status)
	assert.Equal(t, models.JobKindHybridPDF, j.Kind)

	got, err := reg.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, "scan.pdf", got.Input.Filename)
}

func TestGet_UnknownID(t *testing.T) {
	reg := job.NewRegistry(newMemCache(), time.Hour)

	_, err := reg.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestGet_BackendErrorWrapped(t *testing.T) {
	mc := newMemCache()
	mc.getErr = errors.New("connection refused")
	reg := job.NewRegistry(mc, time.Hour)

	_, err := reg.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, job.ErrStorageUnavailable)
}

func TestLifecycle_QueuedToCompleted(t *testing.T) {
	reg := job.NewRegistry(newMemCache(), time.Hour)
	ctx := context.Background()

	j, err := reg.Submit(ctx, models.JobKindPDF, testInput())
	require.NoError(t, err)

	require.NoError(t, reg.MarkProcessing(ctx, j.ID, 12))
	st, err := reg.GetStatus(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, st.Status)
	assert.Equal(t, 12, st.Progress.TotalUnits)

	require.NoError(t, reg.UpdateProgress(ctx, j.ID, 5))
	st, err = reg.GetStatus(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Progress.CompletedUnits)

	result := &models.ExtractResult{FullText: "done", Stats: models.ExtractStats{PagesText: 12}}
	require.NoError(t, reg.Complete(ctx, j.ID, result))

	got, err := reg.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "done", got.Result.FullText)
	assert.Nil(t, got.Error)
	assert.Equal(t, 12, got.Progress.CompletedUnits)
}

func TestUpdateProgress_NeverRegresses(t *testing.T) {
	reg := job.NewRegistry(newMemCache(), time.Hour)
	ctx := context.Background()

	j, err := reg.Submit(ctx, models.JobKindPDF, testInput())
	require.NoError(t, err)
	require.NoError(t, reg.MarkProcessing(ctx, j.ID, 10))

	require.NoError(t, reg.UpdateProgress(ctx, j.ID, 7))
	require.NoError(t, reg.UpdateProgress(ctx, j.ID, 3))

	st, err := reg.GetStatus(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, st.Progress.CompletedUnits)
}

func TestFail_SetsErrorAndClearsResult(t *testing.T) {
	reg := job.NewRegistry(newMemCache(), time.Hour)
	ctx := context.Background()

	j, err := reg.Submit(ctx, models.JobKindPDF, testInput())
	require.NoError(t, err)

	require.NoError(t, reg.Fail(ctx, j.ID, "chunk_failure", "pages 1-5: panic"))

	got, err := reg.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "chunk_failure", got.Error.Kind)
	assert.Nil(t, got.Result)
}

func TestTerminalTransitions_Idempotent(t *testing.T) {
	reg := job.NewRegistry(newMemCache(), time.Hour)
	ctx := context.Background()

	j, err := reg.Submit(ctx, models.JobKindPDF, testInput())
	require.NoError(t, err)

	require.NoError(t, reg.Complete(ctx, j.ID, &models.ExtractResult{FullText: "first"}))

	// Redelivered transitions after the terminal one are no-ops.
	require.NoError(t, reg.Complete(ctx, j.ID, &models.ExtractResult{FullText: "second"}))
	require.NoError(t, reg.Fail(ctx, j.ID, "internal", "too late"))

	got, err := reg.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "first", got.Result.FullText)
	assert.Nil(t, got.Error)
}

func TestGetResult_ExactlyOneOutcome(t *testing.T) {
	reg := job.NewRegistry(newMemCache(), time.Hour)
	ctx := context.Background()

	j, err := reg.Submit(ctx, models.JobKindImage, testInput())
	require.NoError(t, err)

	poll, err := reg.GetResult(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, poll.Status)
	assert.Nil(t, poll.Result)
	assert.Nil(t, poll.Error)

	require.NoError(t, reg.Fail(ctx, j.ID, "validation", "bad input"))

	poll, err = reg.GetResult(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, poll.Status)
	assert.Nil(t, poll.Result)
	require.NotNil(t, poll.Error)
	assert.Equal(t, "validation", poll.Error.Kind)
}
