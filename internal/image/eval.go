package image

import (
	"encoding/json"
	"fmt"
)

// callGraph is the wire form of an expression node.
type callGraph struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args"`
}

var operatorNames = map[string]Op{
	"add":      OpAdd,
	"sub":      OpSub,
	"mul":      OpMul,
	"truediv":  OpTrueDiv,
	"floordiv": OpFloorDiv,
	"lt":       OpLt,
	"le":       OpLe,
	"eq":       OpEq,
	"ne":       OpNe,
	"gt":       OpGt,
	"ge":       OpGe,
}

// Eval parses a serialized call graph into an Image. Evaluation is
// purely functional: the same document always yields a structurally
// equivalent tree. Intermediate nodes are not memoized; whole-graph
// caching happens at the request boundary.
func Eval(doc []byte) (*Image, error) {
	var g callGraph
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	return evalNode(&g)
}

func evalNode(g *callGraph) (*Image, error) {
	switch g.Name {
	case "load":
		path, err := stringArg(g, 0)
		if err != nil {
			return nil, err
		}
		return Load(path)

	case "constant":
		v, err := numberArg(g, 0)
		if err != nil {
			return nil, err
		}
		return Constant(v), nil

	case "abs":
		child, err := imageArg(g, 0)
		if err != nil {
			return nil, err
		}
		return Abs(child), nil

	case "select":
		child, err := imageArg(g, 0)
		if err != nil {
			return nil, err
		}
		bands, err := stringListArg(g, 1)
		if err != nil {
			return nil, err
		}
		return Select(child, bands)

	default:
		op, ok := operatorNames[g.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOp, g.Name)
		}
		left, err := imageArg(g, 0)
		if err != nil {
			return nil, err
		}
		right, err := imageOrConstantArg(g, 1)
		if err != nil {
			return nil, err
		}
		return NewOperator(op, left, right)
	}
}

func rawArg(g *callGraph, i int) (json.RawMessage, error) {
	if i >= len(g.Args) {
		return nil, fmt.Errorf("%w: %q expects at least %d args, got %d", ErrInvalidGraph, g.Name, i+1, len(g.Args))
	}
	return g.Args[i], nil
}

func stringArg(g *callGraph, i int) (string, error) {
	raw, err := rawArg(g, i)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %q arg %d: expected string", ErrInvalidGraph, g.Name, i)
	}
	return s, nil
}

func numberArg(g *callGraph, i int) (float64, error) {
	raw, err := rawArg(g, i)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %q arg %d: expected number", ErrInvalidGraph, g.Name, i)
	}
	return v, nil
}

func stringListArg(g *callGraph, i int) ([]string, error) {
	raw, err := rawArg(g, i)
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %q arg %d: expected list of band names", ErrInvalidGraph, g.Name, i)
	}
	return list, nil
}

func imageArg(g *callGraph, i int) (*Image, error) {
	raw, err := rawArg(g, i)
	if err != nil {
		return nil, err
	}
	var sub callGraph
	if err := json.Unmarshal(raw, &sub); err != nil || sub.Name == "" {
		return nil, fmt.Errorf("%w: %q arg %d: expected call graph", ErrInvalidGraph, g.Name, i)
	}
	return evalNode(&sub)
}

// imageOrConstantArg lifts a bare number into a constant node, matching
// how clients may serialize scalar operands.
func imageOrConstantArg(g *callGraph, i int) (*Image, error) {
	raw, err := rawArg(g, i)
	if err != nil {
		return nil, err
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return Constant(v), nil
	}
	return imageArg(g, i)
}
