package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobKindImage     = "image"
	JobKindPDF       = "pdf"
	JobKindHybridPDF = "hybrid-pdf"
)

// Job tracks one asynchronous extraction request. The API returns a job_id on
// submission; the client polls GET /api/v1/jobs/{job_id} until the status is
// completed or failed. Jobs live in Redis with a TTL that is renewed on every
// mutation, so long-running jobs are never evicted mid-flight.
type Job struct {
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Input     InputDescriptor `json:"input"`
	Progress  Progress        `json:"progress"`
	Result    *ExtractResult  `json:"result,omitempty"`
	Error     *JobError       `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state. Terminal jobs
// never transition again; redundant Complete/Fail calls are no-ops.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// InputDescriptor captures what was submitted, without the bytes themselves.
type InputDescriptor struct {
	Filename    string         `json:"filename"`
	SizeBytes   int64          `json:"size_bytes"`
	ContentHash string         `json:"content_hash"`
	Options     ExtractOptions `json:"options"`
}

// ExtractOptions are the processing parameters that participate in the cache
// key. Two submissions with identical bytes but different options must not
// share a cache entry.
type ExtractOptions struct {
	DPI           int      `json:"dpi"`
	ChunkSize     int      `json:"chunk_size"`
	MaxPages      int      `json:"max_pages"`
	TextThreshold int      `json:"text_threshold"`
	Languages     []string `json:"languages,omitempty"`
}

// Progress counts pages for document jobs (a single image counts as one page).
type Progress struct {
	TotalUnits     int `json:"total_units"`
	CompletedUnits int `json:"completed_units"`
}

// JobError is the terminal failure payload. Present only when status=failed,
// and mutually exclusive with Result.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ExtractResult is the terminal success payload: per-page records in ascending
// page order plus the concatenated full text.
type ExtractResult struct {
	Pages           []PageRecord `json:"pages"`
	FullText        string       `json:"full_text"`
	Stats           ExtractStats `json:"stats"`
	ServedFromCache bool         `json:"served_from_cache"`
}

// ExtractStats summarizes how the document was processed.
type ExtractStats struct {
	PagesText  int   `json:"pages_text"`
	PagesOCR   int   `json:"pages_ocr"`
	PagesError int   `json:"pages_error"`
	DurationMS int64 `json:"duration_ms"`
}

const (
	ClassificationText  = "text"
	ClassificationImage = "image"
)

const (
	ExtractionDirect      = "direct"
	ExtractionRecognition = "recognition-engine"
)

// PageRecord is the immutable outcome of processing a single page. A failed
// page is recorded here with Success=false rather than failing the whole job.
type PageRecord struct {
	PageNumber       int    `json:"page_number"` // 1-based, defines final ordering
	Classification   string `json:"classification"`
	ExtractionMethod string `json:"extraction_method"`
	Text             string `json:"text"`
	Lines            []Line `json:"lines,omitempty"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
}

// Line is one recognized or extracted text line with its geometry. Confidence
// is only meaningful for recognition-engine output; direct extraction reports 1.
type Line struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// BoundingBox is the line's position on the page in rendered pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
