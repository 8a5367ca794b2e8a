// Package image implements the lazy raster algebra: symbolic image
// nodes that materialize pixels only when a concrete region is
// requested.
package image

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"rastermap/internal/geo"
	"rastermap/internal/raster"
)

// Recoverable conditions the request boundary maps to client responses.
var (
	ErrUnknownOp         = errors.New("unknown operation")
	ErrInvalidGraph      = errors.New("invalid call graph")
	ErrInvalidBands      = errors.New("invalid band names")
	ErrBoundless         = errors.New("image is boundless, you must specify bounds when exporting")
	ErrTileOutsideBounds = errors.New("tile outside bounds")
)

type kind int

const (
	kindLoad kind = iota
	kindConstant
	kindAbs
	kindOperator
	kindSelect
)

// Op identifies a binary pixel operator.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpTrueDiv
	OpFloorDiv
	OpLt
	OpLe
	OpEq
	OpNe
	OpGt
	OpGe
)

// Image is one node of a lazy expression tree. Nodes are immutable
// after construction; Materialize is the only data-producing operation.
type Image struct {
	kind  kind
	path  string  // kindLoad
	value float64 // kindConstant
	op    Op      // kindOperator
	child *Image  // operand (left for operators)
	other *Image  // right operand

	selection  []string // kindSelect: requested band names
	selIndexes []int    // kindSelect: positions in child's band list

	dtype     raster.DataType
	bounds    *orb.Bound
	crs       geo.CRS
	bandNames []string
	minZoom   *int
	maxZoom   *int
}

func (img *Image) DType() raster.DataType { return img.dtype }
func (img *Image) CRS() geo.CRS           { return img.crs }
func (img *Image) BandNames() []string    { return img.bandNames }
func (img *Image) Count() int             { return len(img.bandNames) }
func (img *Image) MinZoom() *int          { return img.minZoom }
func (img *Image) MaxZoom() *int          { return img.maxZoom }

// Bounds returns the image extent in its own CRS, or nil for boundless
// images such as constants.
func (img *Image) Bounds() *orb.Bound {
	if img.bounds == nil {
		return nil
	}
	b := *img.bounds
	return &b
}

// MapBounds returns the extent reprojected to WGS84, or nil.
func (img *Image) MapBounds() (*orb.Bound, error) {
	if img.bounds == nil {
		return nil, nil
	}
	b, err := geo.TransformBounds(*img.bounds, img.crs, geo.WGS84, geo.DefaultDensify)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Load opens a raster dataset and wraps it as a leaf node, keeping only
// its metadata. The file is decoded in full here and again on every
// materialize.
func Load(path string) (*Image, error) {
	ds, err := raster.OpenDataset(path)
	if err != nil {
		return nil, err
	}

	bandNames := make([]string, ds.Count)
	for i := range bandNames {
		bandNames[i] = fmt.Sprintf("B%d", i+1)
	}

	bounds := ds.Bounds
	minZoom, maxZoom := zoomRange(ds)

	return &Image{
		kind:      kindLoad,
		path:      path,
		dtype:     ds.DType,
		bounds:    &bounds,
		crs:       ds.CRS,
		bandNames: bandNames,
		minZoom:   minZoom,
		maxZoom:   maxZoom,
	}, nil
}

// zoomRange derives the useful zoom span from the dataset's native
// resolution in the tile pyramid's CRS. The maximum matches the native
// pixel size; the minimum matches the largest overview that still
// shrinks the image down to a single tile. Defaults to the full TMS
// range when the resolution cannot be derived.
func zoomRange(ds *raster.Dataset) (*int, *int) {
	minZoom, maxZoom := geo.TMSMinZoom, geo.TMSMaxZoom

	tmsBounds, err := geo.TransformBounds(ds.Bounds, ds.CRS, geo.TMSCRS, geo.DefaultDensify)
	if err == nil && ds.Width > 0 && ds.Height > 0 {
		resX := (tmsBounds.Max[0] - tmsBounds.Min[0]) / float64(ds.Width)
		resY := (tmsBounds.Max[1] - tmsBounds.Min[1]) / float64(ds.Height)
		res := math.Max(resX, resY)
		if res > 0 {
			maxZoom = geo.TMSZoomForResolution(res)
			level := geo.MaxOverviewLevel(ds.Width, ds.Height, geo.TMSTileSize)
			minZoom = geo.TMSZoomForResolution(res * math.Pow(2, float64(level)))
		}
	}
	return &minZoom, &maxZoom
}

// Constant wraps a number as a boundless single-band image.
func Constant(v float64) *Image {
	return &Image{
		kind:      kindConstant,
		value:     v,
		dtype:     raster.MinScalarType(v),
		crs:       geo.WGS84,
		bandNames: []string{"CONSTANT"},
	}
}

// Abs wraps a node with an elementwise absolute value.
func Abs(child *Image) *Image {
	return &Image{
		kind:      kindAbs,
		child:     child,
		dtype:     child.dtype,
		bounds:    child.Bounds(),
		crs:       child.crs,
		bandNames: child.bandNames,
		minZoom:   child.minZoom,
		maxZoom:   child.maxZoom,
	}
}

// NewOperator combines two nodes with a binary pixel operator. Bounds
// are the union of the operands' bounds in the left operand's CRS; when
// the left operand is boundless, the right operand's bounds and CRS are
// used as they are. Band names and zoom range come from the left operand.
func NewOperator(op Op, a, b *Image) (*Image, error) {
	bounds, crs, err := geo.UnionBounds(a.bounds, a.crs, b.bounds, b.crs)
	if err != nil {
		return nil, err
	}
	return &Image{
		kind:      kindOperator,
		op:        op,
		child:     a,
		other:     b,
		dtype:     raster.DTFloat64,
		bounds:    bounds,
		crs:       crs,
		bandNames: a.bandNames,
		minZoom:   a.minZoom,
		maxZoom:   a.maxZoom,
	}, nil
}

// Select projects a subset of the parent's bands, in the requested
// order. Unknown names are a recoverable client error.
func Select(child *Image, bands []string) (*Image, error) {
	indexes := make([]int, 0, len(bands))
	var invalid []string
	for _, name := range bands {
		idx := -1
		for i, have := range child.bandNames {
			if have == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			invalid = append(invalid, name)
			continue
		}
		indexes = append(indexes, idx)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBands, invalid)
	}

	return &Image{
		kind:       kindSelect,
		child:      child,
		selection:  bands,
		selIndexes: indexes,
		dtype:      child.dtype,
		bounds:     child.Bounds(),
		crs:        child.crs,
		bandNames:  bands,
		minZoom:    child.minZoom,
		maxZoom:    child.maxZoom,
	}, nil
}

// Materialize produces the pixels of this node over the requested
// region: a (count, height, width) tile resampled into the given
// bounds and CRS.
func (img *Image) Materialize(bounds orb.Bound, crs geo.CRS, height, width int) (*raster.ImageData, error) {
	switch img.kind {
	case kindLoad:
		ds, err := raster.OpenDataset(img.path)
		if err != nil {
			return nil, err
		}
		return ds.ReadPart(bounds, crs, height, width, img.bandNames)

	case kindConstant:
		out := raster.NewImageData(img.bandNames, height, width, bounds, crs)
		for i := range out.Data {
			out.Data[i] = img.value
		}
		for i := range out.Mask {
			out.Mask[i] = 255
		}
		return out, nil

	case kindAbs:
		td, err := img.child.Materialize(bounds, crs, height, width)
		if err != nil {
			return nil, err
		}
		for i, v := range td.Data {
			td.Data[i] = math.Abs(v)
		}
		return td, nil

	case kindOperator:
		a, err := img.child.Materialize(bounds, crs, height, width)
		if err != nil {
			return nil, err
		}
		b, err := img.other.Materialize(bounds, crs, height, width)
		if err != nil {
			return nil, err
		}
		return applyOperator(img.op, a, b)

	case kindSelect:
		td, err := img.child.Materialize(bounds, crs, height, width)
		if err != nil {
			return nil, err
		}
		return td.SelectBands(img.selIndexes, img.selection), nil

	default:
		return nil, fmt.Errorf("image: unknown node kind %d", img.kind)
	}
}
