package image

import (
	"fmt"
	"math"

	"rastermap/internal/raster"
)

// applyOperator combines two materialized tiles elementwise. The left
// operand's band layout wins; a single-band right operand broadcasts
// across the left's bands. The result mask is the elementwise maximum
// of the input masks.
func applyOperator(op Op, a, b *raster.ImageData) (*raster.ImageData, error) {
	if b.Count() != a.Count() && b.Count() != 1 {
		return nil, fmt.Errorf("image: cannot combine %d-band and %d-band images", a.Count(), b.Count())
	}

	n := a.Width * a.Height
	out := raster.NewImageData(a.BandNames, a.Height, a.Width, a.Bounds, a.CRS)
	for band := 0; band < a.Count(); band++ {
		av := a.Band(band)
		bBand := band
		if b.Count() == 1 {
			bBand = 0
		}
		bv := b.Band(bBand)
		ov := out.Band(band)
		for i := 0; i < n; i++ {
			ov[i] = applyScalar(op, av[i], bv[i])
		}
	}
	for i := 0; i < n; i++ {
		if a.Mask[i] > b.Mask[i] {
			out.Mask[i] = a.Mask[i]
		} else {
			out.Mask[i] = b.Mask[i]
		}
	}
	return out, nil
}

func applyScalar(op Op, x, y float64) float64 {
	switch op {
	case OpAdd:
		return x + y
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpTrueDiv:
		return x / y
	case OpFloorDiv:
		return math.Floor(x / y)
	case OpLt:
		return boolPixel(x < y)
	case OpLe:
		return boolPixel(x <= y)
	case OpEq:
		return boolPixel(x == y)
	case OpNe:
		return boolPixel(x != y)
	case OpGt:
		return boolPixel(x > y)
	case OpGe:
		return boolPixel(x >= y)
	default:
		return math.NaN()
	}
}

func boolPixel(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
