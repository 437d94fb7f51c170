package embedding

import "context"

// Embedder converts free text into numeric vectors of a fixed dimension.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	// Name identifies the provider and model; it is part of the index fingerprint.
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	// Encode returns one vector per text, in the same order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}
