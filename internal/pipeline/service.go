package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/anupkhanal/ocrhub/internal/cache"
	"github.com/anupkhanal/ocrhub/internal/config"
	"github.com/anupkhanal/ocrhub/internal/document"
	"github.com/anupkhanal/ocrhub/internal/job"
	"github.com/anupkhanal/ocrhub/internal/recognize"
	"github.com/anupkhanal/ocrhub/pkg/models"
)

// Validation failures reported synchronously at submission. These are never
// retried and never reach the pipeline.
var (
	ErrTooLarge     = errors.New("document exceeds the size limit")
	ErrTooManyPages = errors.New("document exceeds the page limit")
	ErrInvalidDPI   = errors.New("dpi outside the supported range")
)

// JobError kinds stored on failed jobs.
const (
	ErrorKindValidation = "validation"
	ErrorKindChunk      = "chunk_failure"
	ErrorKindStorage    = "storage_unavailable"
	ErrorKindInternal   = "internal"
)

// Service is the submission boundary of the pipeline: it validates input,
// creates the job record, returns immediately, and drives the asynchronous
// processing in the background.
type Service struct {
	registry  *job.Registry
	results   *cache.ResultCache
	scheduler *Scheduler
	engine    recognize.Engine
	cfg       config.ExtractConfig
}

// NewService wires the submission service.
func NewService(registry *job.Registry, results *cache.ResultCache, scheduler *Scheduler, engine recognize.Engine, cfg config.ExtractConfig) *Service {
	return &Service{
		registry:  registry,
		results:   results,
		scheduler: scheduler,
		engine:    engine,
		cfg:       cfg,
	}
}

// SubmitPDF validates a PDF submission, creates its job, and starts
// processing in the background. hybrid selects per-page classification;
// otherwise every page goes through the recognition engine.
func (s *Service) SubmitPDF(ctx context.Context, filename string, data []byte, opts models.ExtractOptions, hybrid bool) (*models.Job, error) {
	if int64(len(data)) > s.cfg.MaxPDFBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), s.cfg.MaxPDFBytes)
	}

	opts, err := s.normalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	doc, err := document.OpenPDF(data)
	if err != nil {
		return nil, err
	}
	if pages := doc.PageCount(); pages > opts.MaxPages {
		return nil, fmt.Errorf("%w: %d pages (max %d)", ErrTooManyPages, pages, opts.MaxPages)
	}

	kind := models.JobKindPDF
	if hybrid {
		kind = models.JobKindHybridPDF
	}

	j, err := s.registry.Submit(ctx, kind, descriptor(filename, data, opts))
	if err != nil {
		return nil, err
	}

	go s.run(j.ID, data, opts, !hybrid)
	return j, nil
}

// SubmitImage validates a single-image submission and starts recognition in
// the background. An image counts as a one-page document.
func (s *Service) SubmitImage(ctx context.Context, filename string, data []byte, opts models.ExtractOptions) (*models.Job, error) {
	if int64(len(data)) > s.cfg.MaxImageBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), s.cfg.MaxImageBytes)
	}

	opts, err := s.normalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	j, err := s.registry.Submit(ctx, models.JobKindImage, descriptor(filename, data, opts))
	if err != nil {
		return nil, err
	}

	go s.runImage(j.ID, data, opts)
	return j, nil
}

// run drives a PDF job to its terminal state. It owns the job: no other
// goroutine transitions it. Recovered panics and all errors end in Fail, so
// a polling client can always resolve the job.
func (s *Service) run(jobID uuid.UUID, data []byte, opts models.ExtractOptions, forceRecognition bool) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in pipeline run", "job_id", jobID, "error", r, "stack", string(debug.Stack()))
			s.fail(ctx, jobID, ErrorKindInternal, fmt.Sprintf("panic: %v", r))
		}
	}()

	key := cache.ContentKey(data, opts)
	result, fromCache, err := s.results.ComputeOrShare(ctx, key, func(ctx context.Context) (*models.ExtractResult, error) {
		return s.scheduler.ProcessDocument(ctx, jobID, data, opts, forceRecognition)
	})
	if err != nil {
		s.fail(ctx, jobID, errorKind(err), err.Error())
		return
	}

	s.complete(ctx, jobID, result, fromCache)
}

// runImage recognizes a single image as a one-page job.
func (s *Service) runImage(jobID uuid.UUID, data []byte, opts models.ExtractOptions) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in image run", "job_id", jobID, "error", r, "stack", string(debug.Stack()))
			s.fail(ctx, jobID, ErrorKindInternal, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := s.registry.MarkProcessing(ctx, jobID, 1); err != nil {
		slog.Warn("mark processing failed", "job_id", jobID, "error", err)
	}

	key := cache.ContentKey(data, opts)
	result, fromCache, err := s.results.ComputeOrShare(ctx, key, func(ctx context.Context) (*models.ExtractResult, error) {
		return s.recognizeImage(ctx, data), nil
	})
	if err != nil {
		s.fail(ctx, jobID, errorKind(err), err.Error())
		return
	}

	s.complete(ctx, jobID, result, fromCache)
}

// recognizeImage never returns an error: a failed recognition is a failed
// page inside a completed job, the same partial-failure rule the hybrid
// pipeline applies.
func (s *Service) recognizeImage(ctx context.Context, data []byte) *models.ExtractResult {
	started := time.Now()
	record := models.PageRecord{
		PageNumber:       1,
		Classification:   models.ClassificationImage,
		ExtractionMethod: models.ExtractionRecognition,
	}

	res, err := s.engine.Recognize(ctx, data)
	if err != nil {
		record.Error = fmt.Sprintf("recognize: %v", err)
	} else {
		record.Text = res.Text
		record.Lines = res.Lines
		record.Success = true
	}

	return assemble([]models.PageRecord{record}, started)
}

func (s *Service) complete(ctx context.Context, jobID uuid.UUID, result *models.ExtractResult, fromCache bool) {
	if fromCache {
		// A cache hit skips the pipeline, so the job never learned its
		// page count. Backfill it before completing.
		if err := s.registry.MarkProcessing(ctx, jobID, len(result.Pages)); err != nil {
			slog.Warn("mark processing failed", "job_id", jobID, "error", err)
		}
	}

	final := *result
	final.ServedFromCache = fromCache
	if err := s.registry.Complete(ctx, jobID, &final); err != nil {
		slog.Error("complete job failed", "job_id", jobID, "error", err)
	}
}

func (s *Service) fail(ctx context.Context, jobID uuid.UUID, kind, message string) {
	if err := s.registry.Fail(ctx, jobID, kind, message); err != nil {
		slog.Error("fail job failed", "job_id", jobID, "error", err)
	}
}

// normalizeOptions applies configured defaults and enforces bounds.
func (s *Service) normalizeOptions(opts models.ExtractOptions) (models.ExtractOptions, error) {
	if opts.DPI == 0 {
		opts.DPI = s.cfg.DefaultDPI
	}
	if opts.DPI < s.cfg.MinDPI || opts.DPI > s.cfg.MaxDPI {
		return opts, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidDPI, opts.DPI, s.cfg.MinDPI, s.cfg.MaxDPI)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = s.cfg.ChunkSize
	}
	if opts.TextThreshold <= 0 {
		opts.TextThreshold = s.cfg.TextThreshold
	}
	if opts.MaxPages <= 0 || opts.MaxPages > s.cfg.MaxPages {
		opts.MaxPages = s.cfg.MaxPages
	}
	return opts, nil
}

func descriptor(filename string, data []byte, opts models.ExtractOptions) models.InputDescriptor {
	sum := sha256.Sum256(data)
	return models.InputDescriptor{
		Filename:    filename,
		SizeBytes:   int64(len(data)),
		ContentHash: hex.EncodeToString(sum[:]),
		Options:     opts,
	}
}

// errorKind maps pipeline errors to the stable kinds stored on failed jobs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, document.ErrEncrypted),
		errors.Is(err, document.ErrInvalid),
		errors.Is(err, document.ErrNoPages),
		errors.Is(err, ErrTooManyPages),
		errors.Is(err, ErrTooLarge),
		errors.Is(err, ErrInvalidDPI):
		return ErrorKindValidation
	case errors.Is(err, ErrChunkFailure):
		return ErrorKindChunk
	case errors.Is(err, job.ErrStorageUnavailable):
		return ErrorKindStorage
	default:
		return ErrorKindInternal
	}
}
