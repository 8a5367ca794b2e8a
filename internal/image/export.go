package image

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"rastermap/internal/geo"
	"rastermap/internal/raster"
)

// DefaultExportWindowSize is the edge of the sub-windows an export is
// streamed through. A multiple of the COG block size, so each window
// maps onto whole blocks in the output file.
const DefaultExportWindowSize = 1 << 12

// ExportOptions parameterize an export. Scale is the output pixel size
// in meters; BoundsCRS is the system Bounds are expressed in.
type ExportOptions struct {
	Bounds     *orb.Bound
	BoundsCRS  geo.CRS
	CRS        geo.CRS
	Scale      float64
	WindowSize int
}

// Export materializes the image over a geographic region and writes it
// to a cloud-optimized GeoTIFF. Sub-windows are processed row-major,
// strictly sequentially, so peak memory stays bounded by one window.
// Cancellation is honored at window boundaries; a partial file is left
// on disk.
func Export(ctx context.Context, img *Image, path string, opts ExportOptions) error {
	bounds := opts.Bounds
	boundsCRS := opts.BoundsCRS
	if bounds == nil {
		bounds = img.Bounds()
		boundsCRS = img.crs
	}
	if bounds == nil {
		return ErrBoundless
	}

	ws := opts.WindowSize
	if ws <= 0 {
		ws = DefaultExportWindowSize
	}
	if ws%raster.COGBlockSize != 0 {
		return fmt.Errorf("image: export window %d is not a multiple of the %d-pixel block", ws, raster.COGBlockSize)
	}

	width, height, outAffine, _, _, err := geo.GridForRequest(*bounds, boundsCRS, opts.CRS, opts.Scale)
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("image: export grid is empty (%dx%d)", width, height)
	}

	w, err := raster.NewCOGWriter(path, width, height, img.Count(), img.dtype, opts.CRS, outAffine)
	if err != nil {
		return err
	}

	for i := 0; i < height; i += ws {
		for j := 0; j < width; j += ws {
			if err := ctx.Err(); err != nil {
				return err
			}
			win := geo.Window{
				ColOff: j,
				RowOff: i,
				Width:  min(ws, width-j),
				Height: min(ws, height-i),
			}
			winBounds := geo.WindowBounds(win, outAffine)
			td, err := img.Materialize(winBounds, opts.CRS, win.Height, win.Width)
			if err != nil {
				return err
			}
			if err := w.WriteWindow(win, td.Data, td.Mask); err != nil {
				return err
			}
		}
	}

	return w.Close()
}
