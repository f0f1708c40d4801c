package recognize

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"

	_ "image/jpeg" // register decoders for submitted images
)

// fitWithin downscales an encoded image so neither dimension exceeds the
// given bounds, preserving aspect ratio. Images already within bounds pass
// through untouched. Oversized scans would otherwise blow up recognition
// memory use.
func fitWithin(data []byte, maxWidth, maxHeight int) ([]byte, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// Not an image Go can decode (e.g. TIFF): let the engine try it as-is.
		return data, nil
	}
	if cfg.Width <= maxWidth && cfg.Height <= maxHeight {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	scale := float64(maxWidth) / float64(cfg.Width)
	if s := float64(maxHeight) / float64(cfg.Height); s < scale {
		scale = s
	}
	w := int(float64(cfg.Width) * scale)
	h := int(float64(cfg.Height) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode scaled image: %w", err)
	}
	return buf.Bytes(), nil
}
