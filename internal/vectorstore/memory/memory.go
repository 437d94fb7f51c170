package memory

import (
	"errors"
	"slices"

	"bartender/internal/domain"
)

var (
	// ErrEmptyIndex signals a build without vectors.
	ErrEmptyIndex = errors.New("no vectors to index")
	// ErrInvalidK signals a non-positive k.
	ErrInvalidK = errors.New("k must be positive")
)

// Storage is an exact in-memory index using brute-force squared L2 distance.
// It is immutable once built and safe for concurrent searches.
type Storage struct {
	dimension int
	vectors   [][]float32
}

// Build creates an index from vectors in insertion order. The first vector fixes the dimension.
func Build(vectors [][]float32) (*Storage, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyIndex
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, errors.New("invalid dimension")
	}
	rows := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, domain.NewDimensionMismatch(dim, len(v))
		}
		rows[i] = slices.Clone(v)
	}
	return &Storage{dimension: dim, vectors: rows}, nil
}

func (s *Storage) Len() int { return len(s.vectors) }

func (s *Storage) Dimension() int { return s.dimension }

// Vector returns a copy of the row at position i.
func (s *Storage) Vector(i int) []float32 { return slices.Clone(s.vectors[i]) }

// Search returns the k nearest rows ordered by ascending distance, ties by position.
// k larger than the index returns every row.
func (s *Storage) Search(vector []float32, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		return nil, ErrInvalidK
	}
	if len(vector) != s.dimension {
		return nil, domain.NewDimensionMismatch(s.dimension, len(vector))
	}
	hits := make([]domain.Hit, len(s.vectors))
	for i := range s.vectors {
		hits[i] = domain.Hit{Position: i, Distance: squaredL2(s.vectors[i], vector)}
	}
	slices.SortStableFunc(hits, func(a, b domain.Hit) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if topK > len(hits) {
		topK = len(hits)
	}
	return hits[:topK:topK], nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
