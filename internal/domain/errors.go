package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady signals a query against a service that has not been opened.
	ErrNotReady = errors.New("index not ready")
	// ErrInvalidTopK signals a non-positive result count.
	ErrInvalidTopK = errors.New("top_k must be positive")
	// ErrEmptyCatalog signals that there is nothing to index.
	ErrEmptyCatalog = errors.New("catalog is empty")
	// ErrDimensionMismatch signals vectors of different lengths meeting in one index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrNoGenerator signals that no generative service is configured.
	ErrNoGenerator = errors.New("no generator configured")
)

// DimensionMismatchError wraps ErrDimensionMismatch with the lengths involved.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrDimensionMismatch.Error(), e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// NewDimensionMismatch creates a dimension mismatch error.
func NewDimensionMismatch(expected, actual int) error {
	return &DimensionMismatchError{Expected: expected, Actual: actual}
}
