package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anupkhanal/ocrhub/internal/classify"
	"github.com/anupkhanal/ocrhub/internal/document"
	"github.com/anupkhanal/ocrhub/internal/job"
	"github.com/anupkhanal/ocrhub/internal/recognize"
	"github.com/anupkhanal/ocrhub/pkg/models"
)

// ErrChunkFailure marks an infrastructure-level chunk failure: the task
// panicked or its context was cancelled. It fails the owning job; page-level
// extraction errors never do.
var ErrChunkFailure = errors.New("chunk processing failed")

// chunkRange is a contiguous, 1-based, inclusive page range processed as one
// scheduling unit.
type chunkRange struct {
	start int
	end   int
}

// chunkPages splits [1, pageCount] into ordered fixed-size ranges.
func chunkPages(pageCount, chunkSize int) []chunkRange {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	var chunks []chunkRange
	for start := 1; start <= pageCount; start += chunkSize {
		end := start + chunkSize - 1
		if end > pageCount {
			end = pageCount
		}
		chunks = append(chunks, chunkRange{start: start, end: end})
	}
	return chunks
}

// Scheduler partitions a document into chunks, dispatches them to the worker
// pool, and reassembles per-page results in ascending page order regardless
// of chunk completion order.
type Scheduler struct {
	registry   *job.Registry
	pool       *Pool
	rasterizer document.Rasterizer
	engine     recognize.Engine
	spool      *document.Spool
}

// NewScheduler wires the scheduler to its collaborators.
func NewScheduler(registry *job.Registry, pool *Pool, rasterizer document.Rasterizer, engine recognize.Engine, spool *document.Spool) *Scheduler {
	return &Scheduler{
		registry:   registry,
		pool:       pool,
		rasterizer: rasterizer,
		engine:     engine,
		spool:      spool,
	}
}

// ProcessDocument runs the hybrid pipeline over an already-validated PDF and
// returns the assembled result. forceRecognition skips classification and
// sends every page through the recognition engine (plain pdf jobs).
func (s *Scheduler) ProcessDocument(ctx context.Context, jobID uuid.UUID, data []byte, opts models.ExtractOptions, forceRecognition bool) (*models.ExtractResult, error) {
	started := time.Now()

	doc, err := document.OpenPDF(data)
	if err != nil {
		return nil, err
	}
	pageCount := doc.PageCount()

	if err := s.registry.MarkProcessing(ctx, jobID, pageCount); err != nil {
		return nil, err
	}

	spoolPath, err := s.spool.Put(jobID, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunkFailure, err)
	}
	defer s.spool.Remove(spoolPath)

	// Arena pattern: one slot per page, written at the page's own index as
	// chunks resolve. Completion order never affects final ordering.
	slots := make([]models.PageRecord, pageCount)

	chunks := chunkPages(pageCount, opts.ChunkSize)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		chunkErrs []error
		completed int
	)

	for _, ch := range chunks {
		ch := ch
		wg.Add(1)
		s.pool.Submit(func() {
			defer wg.Done()
			err := s.processChunk(ctx, data, spoolPath, ch, opts, forceRecognition, slots)

			mu.Lock()
			if err != nil {
				chunkErrs = append(chunkErrs, fmt.Errorf("pages %d-%d: %w", ch.start, ch.end, err))
			}
			completed += ch.end - ch.start + 1
			// The registry mutation is a read-modify-write against the
			// backend, so updates for the same job must not interleave:
			// two racing writers could persist the smaller count last.
			if upErr := s.registry.UpdateProgress(ctx, jobID, completed); upErr != nil {
				slog.Warn("update progress failed", "job_id", jobID, "error", upErr)
			}
			mu.Unlock()
		})
	}
	wg.Wait()

	if len(chunkErrs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrChunkFailure, joinErrors(chunkErrs))
	}

	return assemble(slots, started), nil
}

// processChunk fills the slots for one page range. Each task opens its own
// reader; the parser is not built for concurrent page access. A panic or
// context cancellation fails the chunk; anything page-scoped is recorded on
// the page's slot instead.
func (s *Scheduler) processChunk(ctx context.Context, data []byte, spoolPath string, ch chunkRange, opts models.ExtractOptions, forceRecognition bool, slots []models.PageRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in chunk task", "pages", fmt.Sprintf("%d-%d", ch.start, ch.end), "error", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	doc, err := document.OpenPDF(data)
	if err != nil {
		return err
	}

	for page := ch.start; page <= ch.end; page++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		record, err := s.processPage(ctx, doc, spoolPath, page, opts, forceRecognition)
		if err != nil {
			return err
		}
		slots[page-1] = record
	}
	return nil
}

// processPage classifies one page and routes it to the cheapest correct
// extraction path. The returned error is only non-nil for context
// cancellation; extraction failures are data on the record.
func (s *Scheduler) processPage(ctx context.Context, doc *document.Document, spoolPath string, page int, opts models.ExtractOptions, forceRecognition bool) (models.PageRecord, error) {
	content, readErr := doc.PageContent(page)
	if readErr != nil {
		// Unreadable text layer: fall through to recognition.
		content = document.PageContent{Number: page}
	}

	classification := models.ClassificationImage
	if !forceRecognition {
		classification = classify.Classify(content, opts.TextThreshold)
	}

	if classification == models.ClassificationText {
		return models.PageRecord{
			PageNumber:       page,
			Classification:   models.ClassificationText,
			ExtractionMethod: models.ExtractionDirect,
			Text:             strings.TrimSpace(content.Text),
			Success:          true,
		}, nil
	}

	record := models.PageRecord{
		PageNumber:       page,
		Classification:   models.ClassificationImage,
		ExtractionMethod: models.ExtractionRecognition,
	}

	img, err := s.rasterizer.Render(ctx, spoolPath, page, opts.DPI)
	if err != nil {
		if ctx.Err() != nil {
			return record, ctx.Err()
		}
		record.Error = fmt.Sprintf("render: %v", err)
		return record, nil
	}

	res, err := s.engine.Recognize(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return record, ctx.Err()
		}
		record.Error = fmt.Sprintf("recognize: %v", err)
		return record, nil
	}

	record.Text = res.Text
	record.Lines = res.Lines
	record.Success = true
	return record, nil
}

// assemble builds the final result from filled slots: full text is the
// ordered concatenation of successful pages, and failed pages contribute
// nothing but their error record.
func assemble(slots []models.PageRecord, started time.Time) *models.ExtractResult {
	var sb strings.Builder
	stats := models.ExtractStats{}

	for _, rec := range slots {
		switch {
		case !rec.Success:
			stats.PagesError++
		case rec.ExtractionMethod == models.ExtractionDirect:
			stats.PagesText++
		default:
			stats.PagesOCR++
		}
		if rec.Success && rec.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(rec.Text)
		}
	}
	stats.DurationMS = time.Since(started).Milliseconds()

	return &models.ExtractResult{
		Pages:    slots,
		FullText: sb.String(),
		Stats:    stats,
	}
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
