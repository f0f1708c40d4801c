// Package recognize defines the Recognition Engine boundary: a synchronous,
// CPU-heavy collaborator that maps an encoded page image to text lines with
// confidence and geometry.
package recognize

import (
	"context"

	"github.com/anupkhanal/ocrhub/pkg/models"
)

// Result is one page's recognition output.
type Result struct {
	Text  string
	Lines []models.Line
}

// Engine is implemented by OCR backends. Failures surface as page-level
// errors; the pipeline records them on the page instead of failing the job.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (Result, error)
}
