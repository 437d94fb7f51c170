package vectorstore

import "bartender/internal/domain"

// Storage is a read-only nearest-neighbor index over positional rows.
// Hits carry the row position; Hit.Record is left empty for the caller to resolve.
type Storage interface {
	Len() int
	Dimension() int
	Search(vector []float32, topK int) ([]domain.Hit, error)
}
