package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"bartender/internal/domain"
)

const (
	defaultBatchSize = 32
	defaultWorkers   = 2
)

// Batcher splits large encode calls into fixed-size batches run on a worker pool.
// Output order always matches input order.
type Batcher struct {
	embedder  Embedder
	pool      *ants.Pool
	batchSize int
	logger    *zap.Logger
}

// NewBatcher creates a batcher with its own pool of workers goroutines.
func NewBatcher(embedder Embedder, workers, batchSize int, logger *zap.Logger) (*Batcher, error) {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	return &Batcher{embedder: embedder, pool: pool, batchSize: batchSize, logger: logger}, nil
}

// Encode embeds every text, batchSize texts per provider call.
func (b *Batcher) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	nBatches := (len(texts) + b.batchSize - 1) / b.batchSize
	errs := make([]error, nBatches)

	var wg sync.WaitGroup
	var submitErr error
	for i := 0; i < nBatches; i++ {
		if err := ctx.Err(); err != nil {
			submitErr = err
			break
		}
		start := i * b.batchSize
		end := min(start+b.batchSize, len(texts))

		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			vecs, err := b.embedder.Encode(ctx, texts[start:end])
			if err != nil {
				errs[i] = fmt.Errorf("batch %d: %w", i, err)
				return
			}
			if len(vecs) != end-start {
				errs[i] = fmt.Errorf("batch %d: got %d vectors for %d texts: %w",
					i, len(vecs), end-start, domain.ErrEmbeddingProvider)
				return
			}
			copy(out[start:end], vecs)
		})
		if err != nil {
			wg.Done()
			submitErr = fmt.Errorf("submit batch %d: %w", i, err)
			break
		}
	}
	wg.Wait()

	if submitErr != nil {
		return nil, submitErr
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	b.logger.Debug("Encoded texts",
		zap.String("embedder", b.embedder.Name()),
		zap.Int("texts", len(texts)),
		zap.Int("batches", nBatches),
	)
	return out, nil
}

// Release stops the worker pool.
func (b *Batcher) Release() {
	b.pool.Release()
}
