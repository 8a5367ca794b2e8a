package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// Affine maps pixel (col,row) to map (x,y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// Same parameter order as the GDAL/rasterio affine convention.
type Affine struct {
	A, B, C, D, E, F float64
}

// FromOrigin builds a north-up transform anchored at the top-left corner
// with square-ish pixels of size (xsize, ysize).
func FromOrigin(west, north, xsize, ysize float64) Affine {
	return Affine{A: xsize, B: 0, C: west, D: 0, E: -ysize, F: north}
}

// FromBounds builds a north-up transform fitting bounds into a
// width×height pixel grid.
func FromBounds(b orb.Bound, width, height int) Affine {
	return Affine{
		A: (b.Max[0] - b.Min[0]) / float64(width),
		B: 0,
		C: b.Min[0],
		D: 0,
		E: -(b.Max[1] - b.Min[1]) / float64(height),
		F: b.Max[1],
	}
}

// Apply maps pixel coordinates to map coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert maps map coordinates back to fractional pixel coordinates.
func (t Affine) Invert(x, y float64) (col, row float64) {
	det := t.A*t.E - t.B*t.D
	col = (t.E*(x-t.C) - t.B*(y-t.F)) / det
	row = (t.A*(y-t.F) - t.D*(x-t.C)) / det
	return
}

// Window is an integer sub-region of a pixel grid.
type Window struct {
	ColOff, RowOff int
	Width, Height  int
}

// WindowFromBounds computes the fractional window covering bounds under
// the transform. Callers round to whole pixels.
func WindowFromBounds(b orb.Bound, t Affine) (colOff, rowOff, width, height float64) {
	c0, r0 := t.Invert(b.Min[0], b.Max[1]) // top-left
	c1, r1 := t.Invert(b.Max[0], b.Min[1]) // bottom-right
	return c0, r0, c1 - c0, r1 - r0
}

// WindowBounds returns the map-space bounds of a window under the
// transform.
func WindowBounds(w Window, t Affine) orb.Bound {
	x0, y0 := t.Apply(float64(w.ColOff), float64(w.RowOff))
	x1, y1 := t.Apply(float64(w.ColOff+w.Width), float64(w.RowOff+w.Height))
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// GridForRequest derives the output pixel grid for a bounds/scale/CRS
// request. Scale is in meters, so the grid is sized in a projected
// system: outCRS itself when projected, Web Mercator otherwise. The
// returned transform places that grid in outCRS.
func GridForRequest(bounds orb.Bound, boundsCRS, outCRS CRS, scale float64) (width, height int, outAffine Affine, projBounds orb.Bound, projAffine Affine, err error) {
	projCRS := outCRS
	if !projCRS.IsProjected() {
		projCRS = WebMercator
	}

	projBounds, err = TransformBounds(bounds, boundsCRS, projCRS, DefaultDensify)
	if err != nil {
		return
	}

	projAffine = FromOrigin(projBounds.Min[0], projBounds.Max[1], scale, scale)
	_, _, fw, fh := WindowFromBounds(projBounds, projAffine)
	width = int(math.Round(fw))
	height = int(math.Round(fh))

	outBounds, err := TransformBounds(bounds, boundsCRS, outCRS, DefaultDensify)
	if err != nil {
		return
	}
	outAffine = FromBounds(outBounds, width, height)
	return
}
