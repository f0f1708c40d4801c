package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupkhanal/ocrhub/internal/cache"
	"github.com/anupkhanal/ocrhub/internal/config"
	"github.com/anupkhanal/ocrhub/internal/document"
	"github.com/anupkhanal/ocrhub/internal/job"
	"github.com/anupkhanal/ocrhub/pkg/models"
)

func testExtractConfig() config.ExtractConfig {
	return config.ExtractConfig{
		DefaultDPI:    300,
		MinDPI:        72,
		MaxDPI:        600,
		ChunkSize:     2,
		MaxPages:      100,
		TextThreshold: 30,
		Workers:       2,
		MaxImageBytes: 1024 * 1024,
		MaxPDFBytes:   1024 * 1024,
		LockWait:      time.Second,
		LockLease:     time.Minute,
	}
}

type serviceFixture struct {
	*fixture
	svc     *Service
	results *cache.ResultCache
}

func newServiceFixture(t *testing.T, cfg config.ExtractConfig) *serviceFixture {
	t.Helper()
	fx := newFixture(t, cfg.Workers)
	results := cache.NewResultCache(newMemCache(), time.Hour, cfg.LockWait, cfg.LockLease)
	svc := NewService(fx.registry, results, fx.scheduler, fx.engine, cfg)
	return &serviceFixture{fixture: fx, svc: svc, results: results}
}

// waitTerminal polls the registry until the job reaches a terminal state.
func waitTerminal(t *testing.T, reg *job.Registry, id uuid.UUID) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := reg.Get(context.Background(), id)
		require.NoError(t, err)
		if j.Terminal() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return nil
}

// --- synchronous validation ---

func TestSubmitPDF_TooLarge(t *testing.T) {
	cfg := testExtractConfig()
	cfg.MaxPDFBytes = 16
	fx := newServiceFixture(t, cfg)

	_, err := fx.svc.SubmitPDF(context.Background(), "big.pdf", blankPDF(1), models.ExtractOptions{}, true)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSubmitPDF_InvalidDPI(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())

	_, err := fx.svc.SubmitPDF(context.Background(), "a.pdf", blankPDF(1), models.ExtractOptions{DPI: 1200}, true)
	assert.ErrorIs(t, err, ErrInvalidDPI)

	_, err = fx.svc.SubmitPDF(context.Background(), "a.pdf", blankPDF(1), models.ExtractOptions{DPI: 10}, true)
	assert.ErrorIs(t, err, ErrInvalidDPI)
}

func TestSubmitPDF_UnparseableDocument(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())

	_, err := fx.svc.SubmitPDF(context.Background(), "a.pdf", []byte("not a pdf at all"), models.ExtractOptions{}, true)
	assert.ErrorIs(t, err, document.ErrInvalid)
}

func TestSubmitPDF_TooManyPages(t *testing.T) {
	cfg := testExtractConfig()
	cfg.MaxPages = 2
	fx := newServiceFixture(t, cfg)

	_, err := fx.svc.SubmitPDF(context.Background(), "a.pdf", blankPDF(3), models.ExtractOptions{}, true)
	assert.ErrorIs(t, err, ErrTooManyPages)
}

func TestSubmitImage_TooLarge(t *testing.T) {
	cfg := testExtractConfig()
	cfg.MaxImageBytes = 4
	fx := newServiceFixture(t, cfg)

	_, err := fx.svc.SubmitImage(context.Background(), "a.png", []byte("pretend image"), models.ExtractOptions{})
	assert.ErrorIs(t, err, ErrTooLarge)
}

// --- asynchronous lifecycle ---

func TestSubmitPDF_HybridCompletes(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())

	j, err := fx.svc.SubmitPDF(context.Background(), "doc.pdf", blankPDF(3), models.ExtractOptions{}, true)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindHybridPDF, j.Kind)
	assert.Equal(t, models.JobStatusQueued, j.Status)

	done := waitTerminal(t, fx.registry, j.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Len(t, done.Result.Pages, 3)
	assert.False(t, done.Result.ServedFromCache)
	assert.Equal(t, 3, done.Progress.CompletedUnits)
}

func TestSubmitPDF_SecondSubmissionServedFromCache(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())
	data := blankPDF(2)

	first, err := fx.svc.SubmitPDF(context.Background(), "doc.pdf", data, models.ExtractOptions{}, true)
	require.NoError(t, err)
	waitTerminal(t, fx.registry, first.ID)

	callsAfterFirst := fx.engine.callCount()

	second, err := fx.svc.SubmitPDF(context.Background(), "renamed.pdf", data, models.ExtractOptions{}, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	done := waitTerminal(t, fx.registry, second.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.ServedFromCache)
	assert.Equal(t, callsAfterFirst, fx.engine.callCount(), "cache hit must not recompute")
	assert.Equal(t, 2, done.Progress.TotalUnits)
}

func TestSubmitPDF_DifferentOptionsMissCache(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())
	data := blankPDF(1)

	first, err := fx.svc.SubmitPDF(context.Background(), "doc.pdf", data, models.ExtractOptions{DPI: 150}, true)
	require.NoError(t, err)
	waitTerminal(t, fx.registry, first.ID)

	second, err := fx.svc.SubmitPDF(context.Background(), "doc.pdf", data, models.ExtractOptions{DPI: 300}, true)
	require.NoError(t, err)
	done := waitTerminal(t, fx.registry, second.ID)

	require.NotNil(t, done.Result)
	assert.False(t, done.Result.ServedFromCache)
}

func TestSubmitPDF_ChunkPanicFailsJob(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())
	fx.engine.panicPage = 1

	j, err := fx.svc.SubmitPDF(context.Background(), "doc.pdf", blankPDF(2), models.ExtractOptions{}, true)
	require.NoError(t, err)

	done := waitTerminal(t, fx.registry, j.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, ErrorKindChunk, done.Error.Kind)
	assert.Nil(t, done.Result)
}

func TestSubmitPDF_PartialFailureStillCompletes(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())
	fx.engine.failPage = 2

	j, err := fx.svc.SubmitPDF(context.Background(), "doc.pdf", blankPDF(3), models.ExtractOptions{}, true)
	require.NoError(t, err)

	done := waitTerminal(t, fx.registry, j.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, 1, done.Result.Stats.PagesError)
	assert.False(t, done.Result.Pages[1].Success)
}

func TestSubmitImage_Completes(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())

	j, err := fx.svc.SubmitImage(context.Background(), "scan.png", []byte("page:7"), models.ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.JobKindImage, j.Kind)

	done := waitTerminal(t, fx.registry, j.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	require.Len(t, done.Result.Pages, 1)
	assert.Equal(t, 1, done.Result.Pages[0].PageNumber)
	assert.Equal(t, "recognized page 7", done.Result.Pages[0].Text)
	assert.Equal(t, 1, done.Progress.TotalUnits)
}

func TestSubmitImage_EngineErrorIsFailedPageNotFailedJob(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())
	fx.engine.failPage = 9

	j, err := fx.svc.SubmitImage(context.Background(), "scan.png", []byte("page:9"), models.ExtractOptions{})
	require.NoError(t, err)

	done := waitTerminal(t, fx.registry, j.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.False(t, done.Result.Pages[0].Success)
	assert.Contains(t, done.Result.Pages[0].Error, "recognize")
	assert.Equal(t, 1, done.Result.Stats.PagesError)
}

func TestSubmitPDF_RecordsInputDescriptor(t *testing.T) {
	fx := newServiceFixture(t, testExtractConfig())
	data := blankPDF(1)

	j, err := fx.svc.SubmitPDF(context.Background(), "invoice.pdf", data, models.ExtractOptions{}, false)
	require.NoError(t, err)

	assert.Equal(t, "invoice.pdf", j.Input.Filename)
	assert.Equal(t, int64(len(data)), j.Input.SizeBytes)
	assert.NotEmpty(t, j.Input.ContentHash)
	assert.Equal(t, 300, j.Input.Options.DPI, "defaults applied before recording")
	assert.Equal(t, models.JobKindPDF, j.Kind)
}

// --- error mapping ---

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{document.ErrEncrypted, ErrorKindValidation},
		{document.ErrInvalid, ErrorKindValidation},
		{document.ErrNoPages, ErrorKindValidation},
		{ErrTooLarge, ErrorKindValidation},
		{ErrTooManyPages, ErrorKindValidation},
		{ErrInvalidDPI, ErrorKindValidation},
		{ErrChunkFailure, ErrorKindChunk},
		{job.ErrStorageUnavailable, ErrorKindStorage},
		{context.DeadlineExceeded, ErrorKindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorKind(tt.err), "%v", tt.err)
	}
}
