package raster

import (
	"github.com/paulmach/orb"

	"rastermap/internal/geo"
)

// ImageData is one materialized pixel tile: band-major samples, a
// parallel validity mask (0 nodata, 255 valid), and the geography the
// tile covers. Each instance has a single owner; tiles are returned by
// value up the evaluation recursion and never shared across goroutines.
type ImageData struct {
	Data      []float64 // len = len(BandNames) * Height * Width
	Mask      []uint8   // len = Height * Width
	Width     int
	Height    int
	Bounds    orb.Bound
	CRS       geo.CRS
	BandNames []string
}

// NewImageData allocates a zeroed tile of the given shape.
func NewImageData(bandNames []string, height, width int, bounds orb.Bound, crs geo.CRS) *ImageData {
	return &ImageData{
		Data:      make([]float64, len(bandNames)*height*width),
		Mask:      make([]uint8, height*width),
		Width:     width,
		Height:    height,
		Bounds:    bounds,
		CRS:       crs,
		BandNames: bandNames,
	}
}

// Count returns the number of bands.
func (d *ImageData) Count() int { return len(d.BandNames) }

// Band returns the sample slice of one band.
func (d *ImageData) Band(i int) []float64 {
	n := d.Width * d.Height
	return d.Data[i*n : (i+1)*n]
}

// At returns the sample of band b at (row, col).
func (d *ImageData) At(b, row, col int) float64 {
	return d.Data[b*d.Width*d.Height+row*d.Width+col]
}

// SelectBands returns a new tile holding the given band indexes in
// order. Indexes must be valid for the receiver.
func (d *ImageData) SelectBands(indexes []int, names []string) *ImageData {
	out := &ImageData{
		Data:      make([]float64, len(indexes)*d.Height*d.Width),
		Mask:      d.Mask,
		Width:     d.Width,
		Height:    d.Height,
		Bounds:    d.Bounds,
		CRS:       d.CRS,
		BandNames: names,
	}
	n := d.Width * d.Height
	for i, idx := range indexes {
		copy(out.Data[i*n:(i+1)*n], d.Band(idx))
	}
	return out
}
