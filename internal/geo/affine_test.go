package geo

import (
	"math"
	"testing"
)

func TestFromOriginApply(t *testing.T) {
	a := FromOrigin(100, 200, 10, 10)
	x, y := a.Apply(0, 0)
	if x != 100 || y != 200 {
		t.Errorf("origin pixel maps to (%v,%v), want (100,200)", x, y)
	}
	x, y = a.Apply(3, 2)
	if x != 130 || y != 180 {
		t.Errorf("(3,2) maps to (%v,%v), want (130,180)", x, y)
	}
}

func TestFromBoundsApply(t *testing.T) {
	b := bound(0, 0, 100, 50)
	a := FromBounds(b, 10, 5)
	x, y := a.Apply(0, 0)
	if x != 0 || y != 50 {
		t.Errorf("top-left maps to (%v,%v), want (0,50)", x, y)
	}
	x, y = a.Apply(10, 5)
	if x != 100 || y != 0 {
		t.Errorf("bottom-right maps to (%v,%v), want (100,0)", x, y)
	}
}

func TestInvertRoundTrip(t *testing.T) {
	a := FromOrigin(-50, 75, 2.5, 1.25)
	for _, p := range [][2]float64{{0, 0}, {13, 7}, {100.5, 42.25}} {
		x, y := a.Apply(p[0], p[1])
		col, row := a.Invert(x, y)
		if math.Abs(col-p[0]) > 1e-9 || math.Abs(row-p[1]) > 1e-9 {
			t.Errorf("invert(apply(%v)) = (%v,%v)", p, col, row)
		}
	}
}

func TestWindowFromBounds(t *testing.T) {
	a := FromOrigin(0, 1000, 10, 10)
	sub := bound(100, 800, 300, 900)
	colOff, rowOff, w, h := WindowFromBounds(sub, a)
	if colOff != 10 || rowOff != 10 || w != 20 || h != 10 {
		t.Errorf("window = (%v,%v,%v,%v), want (10,10,20,10)", colOff, rowOff, w, h)
	}
}

func TestWindowBoundsRoundTrip(t *testing.T) {
	a := FromOrigin(0, 1000, 10, 10)
	win := Window{ColOff: 10, RowOff: 10, Width: 20, Height: 10}
	b := WindowBounds(win, a)
	want := bound(100, 800, 300, 900)
	if b != want {
		t.Errorf("WindowBounds = %v, want %v", b, want)
	}
}

func TestGridForRequestProjected(t *testing.T) {
	b := bound(0, 0, 4096, 2048)
	w, h, outAffine, projBounds, _, err := GridForRequest(b, WebMercator, WebMercator, 1)
	if err != nil {
		t.Fatal(err)
	}
	if w != 4096 || h != 2048 {
		t.Errorf("grid = %dx%d, want 4096x2048", w, h)
	}
	if projBounds != b {
		t.Errorf("projected bounds changed: %v", projBounds)
	}
	if outAffine.A != 1 || outAffine.E != -1 {
		t.Errorf("output pixel size = (%v,%v), want (1,-1)", outAffine.A, outAffine.E)
	}
	if outAffine.C != 0 || outAffine.F != 2048 {
		t.Errorf("output origin = (%v,%v), want (0,2048)", outAffine.C, outAffine.F)
	}
}

// A geographic output CRS still sizes the grid in meters via Web
// Mercator.
func TestGridForRequestGeographic(t *testing.T) {
	b := bound(0, 0, 1, 1)
	w, h, outAffine, _, _, err := GridForRequest(b, WGS84, WGS84, 1000)
	if err != nil {
		t.Fatal(err)
	}
	// One degree of longitude is ~111 km at the equator.
	if w < 100 || w > 125 {
		t.Errorf("width = %d, want ~111", w)
	}
	if h < 100 || h > 125 {
		t.Errorf("height = %d, want ~111", h)
	}
	// Output transform is expressed in degrees.
	if math.Abs(outAffine.C) > 1e-9 || math.Abs(outAffine.F-1) > 1e-9 {
		t.Errorf("output origin = (%v,%v), want (0,1)", outAffine.C, outAffine.F)
	}
}
