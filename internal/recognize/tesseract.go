package recognize

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/anupkhanal/ocrhub/pkg/models"
)

// Tesseract implements Engine with the gosseract client. A fresh client is
// created per recognition: clients are not safe for concurrent use, and the
// worker pool already bounds how many run at once.
type Tesseract struct {
	languages     []string
	minConfidence float64
	maxWidth      int
	maxHeight     int
	clientFactory func() *gosseract.Client
}

// NewTesseract creates a Tesseract engine. Lines below minConfidence
// (0..1 scale) are dropped from the output. Images larger than
// maxWidth x maxHeight are downscaled before recognition.
func NewTesseract(languages []string, minConfidence float64, maxWidth, maxHeight int) *Tesseract {
	return &Tesseract{
		languages:     languages,
		minConfidence: minConfidence,
		maxWidth:      maxWidth,
		maxHeight:     maxHeight,
		clientFactory: gosseract.NewClient,
	}
}

func (t *Tesseract) Recognize(ctx context.Context, image []byte) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	img, err := fitWithin(image, t.maxWidth, t.maxHeight)
	if err != nil {
		return Result{}, fmt.Errorf("prepare image: %w", err)
	}

	c := t.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(img); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	if len(t.languages) > 0 {
		if err := c.SetLanguage(t.languages...); err != nil {
			return Result{}, fmt.Errorf("set languages: %w", err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return Result{}, fmt.Errorf("recognize: %w", err)
	}

	lines := make([]models.Line, 0, len(boxes))
	var sb strings.Builder
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		if conf < t.minConfidence {
			continue
		}
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, models.Line{
			Text:       text,
			Confidence: conf,
			Box: models.BoundingBox{
				X:      float64(b.Box.Min.X),
				Y:      float64(b.Box.Min.Y),
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
		})
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}

	return Result{Text: sb.String(), Lines: lines}, nil
}
