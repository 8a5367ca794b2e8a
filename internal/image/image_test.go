package image

import (
	"math"
	"testing"

	"github.com/paulmach/orb"

	"rastermap/internal/geo"
	"rastermap/internal/raster"
)

func bound(minx, miny, maxx, maxy float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minx, miny}, Max: orb.Point{maxx, maxy}}
}

func materialize1x1(t *testing.T, img *Image) *raster.ImageData {
	t.Helper()
	td, err := img.Materialize(bound(0, 0, 1, 1), geo.WGS84, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	return td
}

func TestConstantIdentity(t *testing.T) {
	img := Constant(1)
	if img.DType() != raster.DTUint8 {
		t.Errorf("dtype = %v, want uint8", img.DType())
	}
	if img.Bounds() != nil {
		t.Errorf("constant should be boundless")
	}
	if len(img.BandNames()) != 1 || img.BandNames()[0] != "CONSTANT" {
		t.Errorf("band names = %v", img.BandNames())
	}

	td, err := img.Materialize(bound(0, 0, 10, 10), geo.WebMercator, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(td.Data) != 12 || len(td.Mask) != 12 {
		t.Fatalf("shape = (%d data, %d mask), want 12/12", len(td.Data), len(td.Mask))
	}
	for i := range td.Data {
		if td.Data[i] != 1 {
			t.Fatalf("pixel %d = %v, want 1", i, td.Data[i])
		}
		if td.Mask[i] != 255 {
			t.Fatalf("mask %d = %d, want 255", i, td.Mask[i])
		}
	}
	if td.CRS != geo.WebMercator {
		t.Errorf("tile crs = %v, want caller's", td.CRS)
	}
}

// Shape law: the returned tile always has shape (count, h, w).
func TestMaterializeShape(t *testing.T) {
	imgs := map[string]*Image{
		"constant": Constant(9),
		"abs":      Abs(Constant(-2)),
	}
	sum, err := NewOperator(OpAdd, Constant(1), Constant(2))
	if err != nil {
		t.Fatal(err)
	}
	imgs["operator"] = sum

	for name, img := range imgs {
		t.Run(name, func(t *testing.T) {
			td, err := img.Materialize(bound(0, 0, 5, 7), geo.WGS84, 7, 5)
			if err != nil {
				t.Fatal(err)
			}
			if len(td.Data) != img.Count()*7*5 {
				t.Errorf("data len = %d, want %d", len(td.Data), img.Count()*7*5)
			}
			if len(td.Mask) != 7*5 {
				t.Errorf("mask len = %d, want %d", len(td.Mask), 7*5)
			}
		})
	}
}

func TestAdd(t *testing.T) {
	sum, err := NewOperator(OpAdd, Constant(2), Constant(3))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, sum)
	if td.Data[0] != 5 {
		t.Errorf("2+3 = %v, want 5", td.Data[0])
	}
	if td.Mask[0] != 255 {
		t.Errorf("mask = %d, want 255", td.Mask[0])
	}
	if sum.DType() != raster.DTFloat64 {
		t.Errorf("operator dtype = %v, want float64", sum.DType())
	}
}

func TestAbs(t *testing.T) {
	img := Abs(Constant(-4))
	td := materialize1x1(t, img)
	if td.Data[0] != 4 {
		t.Errorf("abs(-4) = %v, want 4", td.Data[0])
	}
}

func TestFloorDiv(t *testing.T) {
	img, err := NewOperator(OpFloorDiv, Constant(9), Constant(2))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, img)
	if td.Data[0] != 4 {
		t.Errorf("9 // 2 = %v, want 4", td.Data[0])
	}
}

func TestTrueDiv(t *testing.T) {
	img, err := NewOperator(OpTrueDiv, Constant(9), Constant(2))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, img)
	if td.Data[0] != 4.5 {
		t.Errorf("9 / 2 = %v, want 4.5", td.Data[0])
	}
}

// Division by zero follows IEEE semantics; the pixel keeps its mask.
func TestDivisionByZero(t *testing.T) {
	img, err := NewOperator(OpTrueDiv, Constant(1), Constant(0))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, img)
	if !math.IsInf(td.Data[0], 1) {
		t.Errorf("1/0 = %v, want +Inf", td.Data[0])
	}
	if td.Mask[0] != 255 {
		t.Errorf("mask = %d, want 255", td.Mask[0])
	}

	img, err = NewOperator(OpTrueDiv, Constant(0), Constant(0))
	if err != nil {
		t.Fatal(err)
	}
	td = materialize1x1(t, img)
	if !math.IsNaN(td.Data[0]) {
		t.Errorf("0/0 = %v, want NaN", td.Data[0])
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		op   Op
		a, b float64
		want float64
	}{
		{OpLt, 9, 2, 0},
		{OpLt, 2, 9, 1},
		{OpLe, 2, 2, 1},
		{OpEq, 3, 3, 1},
		{OpEq, 3, 4, 0},
		{OpNe, 3, 4, 1},
		{OpGt, 9, 2, 1},
		{OpGe, 2, 9, 0},
	}
	for _, tt := range tests {
		img, err := NewOperator(tt.op, Constant(tt.a), Constant(tt.b))
		if err != nil {
			t.Fatal(err)
		}
		td := materialize1x1(t, img)
		if td.Data[0] != tt.want {
			t.Errorf("op %d on (%v,%v) = %v, want %v", tt.op, tt.a, tt.b, td.Data[0], tt.want)
		}
	}
}

// Operator purity: two materializations of one tree are identical.
func TestOperatorPurity(t *testing.T) {
	img, err := NewOperator(OpMul, Constant(6), Constant(7))
	if err != nil {
		t.Fatal(err)
	}
	a, err := img.Materialize(bound(0, 0, 8, 8), geo.WGS84, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	b, err := img.Materialize(bound(0, 0, 8, 8), geo.WGS84, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("pixel %d differs between materializations", i)
		}
	}
	for i := range a.Mask {
		if a.Mask[i] != b.Mask[i] {
			t.Fatalf("mask %d differs between materializations", i)
		}
	}
}

func TestCommutativity(t *testing.T) {
	for _, op := range []Op{OpAdd, OpMul} {
		ab, err := NewOperator(op, Constant(11), Constant(4))
		if err != nil {
			t.Fatal(err)
		}
		ba, err := NewOperator(op, Constant(4), Constant(11))
		if err != nil {
			t.Fatal(err)
		}
		x := materialize1x1(t, ab)
		y := materialize1x1(t, ba)
		if x.Data[0] != y.Data[0] {
			t.Errorf("op %d not commutative: %v vs %v", op, x.Data[0], y.Data[0])
		}
	}
}

// Bounds union closure: two boundless operands stay boundless, and band
// names come from the left operand.
func TestOperatorBounds(t *testing.T) {
	a := Constant(1)
	b := Constant(2)
	sum, err := NewOperator(OpAdd, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Bounds() != nil {
		t.Errorf("two boundless operands should stay boundless, got %v", sum.Bounds())
	}
	if len(sum.BandNames()) != 1 || sum.BandNames()[0] != "CONSTANT" {
		t.Errorf("band names = %v, want left operand's", sum.BandNames())
	}
}

func TestOperatorMaskMax(t *testing.T) {
	// Masks combine by elementwise maximum: a pixel is valid when either
	// operand is valid there.
	left := Constant(10)
	right := Constant(3)
	sum, err := NewOperator(OpSub, left, right)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := left.Materialize(bound(0, 0, 2, 1), geo.WGS84, 1, 2)
	b, _ := right.Materialize(bound(0, 0, 2, 1), geo.WGS84, 1, 2)
	a.Mask[0] = 0
	b.Mask[1] = 0
	out, err := applyOperator(sum.op, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if out.Mask[0] != 255 || out.Mask[1] != 255 {
		t.Errorf("mask = %v, want elementwise max (255,255)", out.Mask)
	}
	a.Mask[0], b.Mask[0] = 0, 0
	out, err = applyOperator(sum.op, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if out.Mask[0] != 0 {
		t.Errorf("mask[0] = %d, want 0 when both inputs invalid", out.Mask[0])
	}
}

func TestSelectValidation(t *testing.T) {
	img := Constant(5)
	if _, err := Select(img, []string{"B1"}); err == nil {
		t.Fatal("selecting a band the image does not have must fail")
	}
	sel, err := Select(img, []string{"CONSTANT"})
	if err != nil {
		t.Fatal(err)
	}
	if sel.DType() != img.DType() {
		t.Errorf("select changed dtype: %v", sel.DType())
	}
	td := materialize1x1(t, sel)
	if td.Data[0] != 5 {
		t.Errorf("selected pixel = %v, want 5", td.Data[0])
	}
}
