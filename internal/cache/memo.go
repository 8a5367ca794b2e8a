package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"rastermap/internal/image"
)

// EvalMemo caches evaluated images by the verbatim JSON string of their
// expression. The string, not a structural key, is intentional: clients
// that resend byte-identical JSON (repeated tile requests for one map)
// hit; clients that re-serialize differently miss, which is safe.
// Safe for concurrent use from parallel tile requests.
type EvalMemo struct {
	lru    *lru.Cache[string, *image.Image]
	hits   atomic.Int64
	misses atomic.Int64
	size   int
}

// MemoStats mirrors the /cache-info payload.
type MemoStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	MaxSize  int   `json:"maxsize"`
	CurrSize int   `json:"currsize"`
}

func NewEvalMemo(size int) (*EvalMemo, error) {
	c, err := lru.New[string, *image.Image](size)
	if err != nil {
		return nil, err
	}
	return &EvalMemo{lru: c, size: size}, nil
}

// Eval returns the cached image for the expression JSON, evaluating and
// inserting on miss. Errors are not cached.
func (m *EvalMemo) Eval(exprJSON string) (*image.Image, error) {
	if img, ok := m.lru.Get(exprJSON); ok {
		m.hits.Add(1)
		return img, nil
	}
	m.misses.Add(1)
	img, err := image.Eval([]byte(exprJSON))
	if err != nil {
		return nil, err
	}
	m.lru.Add(exprJSON, img)
	return img, nil
}

func (m *EvalMemo) Stats() MemoStats {
	return MemoStats{
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		MaxSize:  m.size,
		CurrSize: m.lru.Len(),
	}
}
