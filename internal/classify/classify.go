// Package classify decides, per page, whether the cheap direct-text path is
// sufficient or the page must go through the recognition engine.
package classify

import (
	"strings"
	"unicode/utf8"

	"github.com/anupkhanal/ocrhub/internal/document"
	"github.com/anupkhanal/ocrhub/pkg/models"
)

// DefaultTextThreshold is the minimum extractable text length (in runes) for
// a page to qualify as a text page.
const DefaultTextThreshold = 30

// Classify is a pure function over decoded page content: the same bytes
// always yield the same classification. A page is "text" only when it carries
// no embedded raster images and its text layer holds at least textThreshold
// runes; anything else is "image" and goes to the recognition engine. The
// signal is purely structural; recognition is never run for text pages.
func Classify(page document.PageContent, textThreshold int) string {
	if textThreshold <= 0 {
		textThreshold = DefaultTextThreshold
	}
	textLen := utf8.RuneCountInString(strings.TrimSpace(page.Text))
	if page.ImageCount == 0 && textLen >= textThreshold {
		return models.ClassificationText
	}
	return models.ClassificationImage
}
