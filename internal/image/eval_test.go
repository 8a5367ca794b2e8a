package image

import (
	"errors"
	"testing"

	"rastermap/internal/geo"
)

func TestEvalConstant(t *testing.T) {
	img, err := Eval([]byte(`{"name": "constant", "args": [42]}`))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, img)
	if td.Data[0] != 42 {
		t.Errorf("constant = %v, want 42", td.Data[0])
	}
}

func TestEvalAdd(t *testing.T) {
	doc := `{
		"name": "add",
		"args": [
			{"name": "constant", "args": [2]},
			{"name": "constant", "args": [3]}
		]
	}`
	img, err := Eval([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, img)
	if td.Data[0] != 5 {
		t.Errorf("2+3 = %v, want 5", td.Data[0])
	}
}

func TestEvalAbsNested(t *testing.T) {
	doc := `{"name": "abs", "args": [{"name": "constant", "args": [-4]}]}`
	img, err := Eval([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, img)
	if td.Data[0] != 4 {
		t.Errorf("abs(-4) = %v, want 4", td.Data[0])
	}
}

func TestEvalScalarOperandLifted(t *testing.T) {
	doc := `{"name": "mul", "args": [{"name": "constant", "args": [6]}, 7]}`
	img, err := Eval([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, img)
	if td.Data[0] != 42 {
		t.Errorf("6*7 = %v, want 42", td.Data[0])
	}
}

func TestEvalDeepExpression(t *testing.T) {
	// ((9 // 2) - 4) < 1  →  (4 - 4) < 1  →  1
	doc := `{
		"name": "lt",
		"args": [
			{"name": "sub", "args": [
				{"name": "floordiv", "args": [
					{"name": "constant", "args": [9]},
					{"name": "constant", "args": [2]}
				]},
				{"name": "constant", "args": [4]}
			]},
			{"name": "constant", "args": [1]}
		]
	}`
	img, err := Eval([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, img)
	if td.Data[0] != 1 {
		t.Errorf("expression = %v, want 1", td.Data[0])
	}
}

// Round-trip graph eval: parsing the same document twice yields images
// equal in metadata and output.
func TestEvalDeterministic(t *testing.T) {
	doc := []byte(`{"name": "add", "args": [{"name": "constant", "args": [2]}, {"name": "constant", "args": [3]}]}`)
	a, err := Eval(doc)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Eval(doc)
	if err != nil {
		t.Fatal(err)
	}
	if a.DType() != b.DType() || a.CRS() != b.CRS() || a.Count() != b.Count() {
		t.Fatalf("metadata differs between evaluations")
	}
	ta, _ := a.Materialize(bound(0, 0, 2, 2), geo.WGS84, 2, 2)
	tb, _ := b.Materialize(bound(0, 0, 2, 2), geo.WGS84, 2, 2)
	for i := range ta.Data {
		if ta.Data[i] != tb.Data[i] {
			t.Fatalf("pixel %d differs", i)
		}
	}
}

func TestEvalUnknownOperation(t *testing.T) {
	_, err := Eval([]byte(`{"name": "sqrt", "args": [{"name": "constant", "args": [4]}]}`))
	if !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("err = %v, want ErrUnknownOp", err)
	}
}

func TestEvalMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"name": "constant", "args": []}`,
		`{"name": "constant", "args": ["x"]}`,
		`{"name": "add", "args": [{"name": "constant", "args": [1]}]}`,
		`{"name": "load", "args": [42]}`,
		`{"name": "select", "args": [{"name": "constant", "args": [1]}, 5]}`,
	}
	for _, doc := range cases {
		if _, err := Eval([]byte(doc)); err == nil {
			t.Errorf("Eval(%s) should fail", doc)
		}
	}
}

func TestEvalSelect(t *testing.T) {
	doc := `{"name": "select", "args": [{"name": "constant", "args": [8]}, ["CONSTANT"]]}`
	img, err := Eval([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	td := materialize1x1(t, img)
	if td.Data[0] != 8 {
		t.Errorf("selected pixel = %v, want 8", td.Data[0])
	}

	doc = `{"name": "select", "args": [{"name": "constant", "args": [8]}, ["B9"]]}`
	_, err = Eval([]byte(doc))
	if !errors.Is(err, ErrInvalidBands) {
		t.Fatalf("err = %v, want ErrInvalidBands", err)
	}
}
