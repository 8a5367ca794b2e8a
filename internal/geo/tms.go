package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// Web-Mercator tile matrix set (the standard z/x/y pyramid).
const (
	TMSMinZoom  = 0
	TMSMaxZoom  = 24
	TMSTileSize = 256
)

// TMSCRS is the system tile bounds are expressed in.
var TMSCRS = WebMercator

// TMSResolution returns the ground resolution in meters/pixel at a zoom
// level (at the equator).
func TMSResolution(z int) float64 {
	return 2 * OriginShift / TMSTileSize / math.Pow(2, float64(z))
}

// TMSXYBounds returns the EPSG:3857 bounds of tile (z,x,y). Tile rows
// count down from the north edge.
func TMSXYBounds(z, x, y int) orb.Bound {
	tileSpan := 2 * OriginShift / math.Pow(2, float64(z))
	minX := -OriginShift + float64(x)*tileSpan
	maxY := OriginShift - float64(y)*tileSpan
	return orb.Bound{
		Min: orb.Point{minX, maxY - tileSpan},
		Max: orb.Point{minX + tileSpan, maxY},
	}
}

// TMSZoomForResolution returns the highest zoom level whose resolution
// is at least the given ground resolution, so rendering at that zoom
// never oversamples the source.
func TMSZoomForResolution(res float64) int {
	for z := TMSMaxZoom; z >= TMSMinZoom; z-- {
		if TMSResolution(z) >= res {
			return z
		}
	}
	return TMSMinZoom
}

// MaxOverviewLevel returns the number of times a w×h image can be halved
// before both dimensions fit within minsize pixels.
func MaxOverviewLevel(w, h, minsize int) int {
	level := 0
	for w > minsize || h > minsize {
		w = (w + 1) / 2
		h = (h + 1) / 2
		level++
	}
	return level
}
