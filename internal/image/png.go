package image

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"rastermap/internal/raster"
)

// RenderPNG encodes a materialized tile as a PNG: 1 band renders as
// grayscale, 3 bands as RGB, with the validity mask as the alpha
// channel. Sample values are clamped to [0,255].
func RenderPNG(td *raster.ImageData) ([]byte, error) {
	count := td.Count()
	if count != 1 && count != 3 {
		return nil, fmt.Errorf("image: cannot render %d bands as PNG, select 1 or 3", count)
	}

	img := image.NewNRGBA(image.Rect(0, 0, td.Width, td.Height))
	for row := 0; row < td.Height; row++ {
		for col := 0; col < td.Width; col++ {
			var r, g, b uint8
			if count == 1 {
				v := clampByte(td.At(0, row, col))
				r, g, b = v, v, v
			} else {
				r = clampByte(td.At(0, row, col))
				g = clampByte(td.At(1, row, col))
				b = clampByte(td.At(2, row, col))
			}
			img.SetNRGBA(col, row, color.NRGBA{r, g, b, td.Mask[row*td.Width+col]})
		}
	}

	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("image: encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
