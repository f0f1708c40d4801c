package document

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// Rasterizer renders one page of a spooled PDF to an encoded image for the
// recognition engine. Rendering is an external collaborator; the pipeline only
// depends on this interface.
type Rasterizer interface {
	Render(ctx context.Context, pdfPath string, pageNumber, dpi int) ([]byte, error)
}

// PopplerRasterizer shells out to poppler's pdftoppm, which streams a single
// PNG page to stdout.
type PopplerRasterizer struct {
	bin string
}

// NewPopplerRasterizer creates a rasterizer using the pdftoppm binary on PATH.
func NewPopplerRasterizer() *PopplerRasterizer {
	return &PopplerRasterizer{bin: "pdftoppm"}
}

// Available reports whether the pdftoppm binary can be found. Checked once at
// startup so a misconfigured host fails fast instead of per job.
func (r *PopplerRasterizer) Available() error {
	if _, err := exec.LookPath(r.bin); err != nil {
		return fmt.Errorf("rasterizer binary %q not found: %w", r.bin, err)
	}
	return nil
}

func (r *PopplerRasterizer) Render(ctx context.Context, pdfPath string, pageNumber, dpi int) ([]byte, error) {
	page := strconv.Itoa(pageNumber)
	cmd := exec.CommandContext(ctx, r.bin,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", page,
		"-l", page,
		pdfPath,
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("render page %d of %s: %s", pageNumber, pdfPath, exitErr.Stderr)
		}
		return nil, fmt.Errorf("render page %d of %s: %w", pageNumber, pdfPath, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("render page %d of %s: empty output", pageNumber, pdfPath)
	}
	return out, nil
}
