package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// DefaultDensify is the number of sample points inserted along each edge
// of a bounding box before reprojection, so that curved images of
// straight edges are bounded correctly.
const DefaultDensify = 21

// TransformBounds reprojects a bounding box between two systems. Each
// edge of the box is densified with the given number of sample points
// and the envelope of the projected ring is returned.
func TransformBounds(b orb.Bound, from, to CRS, densify int) (orb.Bound, error) {
	if from == to {
		return b, nil
	}
	if densify < 1 {
		densify = 1
	}

	out := orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}

	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	n := densify + 1
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		// One sample position per edge for each step of t.
		pts := [4]orb.Point{
			{b.Min[0] + t*w, b.Min[1]}, // south edge
			{b.Min[0] + t*w, b.Max[1]}, // north edge
			{b.Min[0], b.Min[1] + t*h}, // west edge
			{b.Max[0], b.Min[1] + t*h}, // east edge
		}
		for _, p := range pts {
			x, y, err := Transform(p[0], p[1], from, to)
			if err != nil {
				return orb.Bound{}, err
			}
			out = out.Extend(orb.Point{x, y})
		}
	}
	return out, nil
}

// UnionBounds merges two optional bounding boxes, reprojecting b into
// a's system when they differ. A nil box is the identity. The returned
// CRS is the system the result is expressed in.
func UnionBounds(a *orb.Bound, aCRS CRS, b *orb.Bound, bCRS CRS) (*orb.Bound, CRS, error) {
	if a == nil && b == nil {
		return nil, aCRS, nil
	}
	if a == nil {
		u := *b
		return &u, bCRS, nil
	}
	if b == nil {
		u := *a
		return &u, aCRS, nil
	}
	other := *b
	if bCRS != aCRS {
		tb, err := TransformBounds(*b, bCRS, aCRS, DefaultDensify)
		if err != nil {
			return nil, aCRS, err
		}
		other = tb
	}
	u := a.Union(other)
	return &u, aCRS, nil
}

// Intersects reports whether two boxes in the same system overlap.
func Intersects(a, b orb.Bound) bool {
	return a.Intersects(b)
}
