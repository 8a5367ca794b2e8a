package image

import (
	"rastermap/internal/geo"
	"rastermap/internal/raster"
)

// Tile materializes one web-map tile. Tiles outside the image's
// reprojected bounds return ErrTileOutsideBounds; the HTTP layer turns
// that into an empty response.
//
// When zoomGate is set, tiles below the image's minimum zoom are
// rejected the same way. The gate is a latency guardrail, not a
// semantic property: rendering a very low zoom tile from a
// high-resolution source reads an enormous source window per request.
func Tile(img *Image, z, x, y, tilesize int, zoomGate bool) (*raster.ImageData, error) {
	if zoomGate && img.minZoom != nil && z < *img.minZoom {
		return nil, ErrTileOutsideBounds
	}

	tileBounds := geo.TMSXYBounds(z, x, y)

	if b := img.Bounds(); b != nil {
		imgBounds, err := geo.TransformBounds(*b, img.crs, geo.TMSCRS, geo.DefaultDensify)
		if err != nil {
			return nil, err
		}
		if !geo.Intersects(imgBounds, tileBounds) {
			return nil, ErrTileOutsideBounds
		}
	}

	return img.Materialize(tileBounds, geo.TMSCRS, tilesize, tilesize)
}
