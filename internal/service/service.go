// Package service wires catalog, embedder, index, persistence and generator into the
// retrieval pipeline used by every surface (CLI, chat UI, HTTP).
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"bartender/internal/catalog"
	"bartender/internal/domain"
	"bartender/internal/embedding"
	"bartender/internal/metrics"
	"bartender/internal/normalizer"
	"bartender/internal/persistence"
	"bartender/internal/prompt"
	"bartender/internal/query"
	"bartender/internal/vectorstore"
	"bartender/internal/vectorstore/memory"
)

// DefaultTopK is the number of records retrieved when the caller passes 0.
const DefaultTopK = 5

const contextSeparator = "\n\n"

// Deps are the collaborators of a Service. Generator may be nil, in which case every
// reply is degraded.
type Deps struct {
	Catalog   *catalog.Catalog
	Embedder  embedding.Embedder
	Generator domain.Generator
	Store     *persistence.Store
	Logger    *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithBatchSize sets how many catalog texts go into one embedding call.
func WithBatchSize(n int) Option {
	return func(s *Service) { s.batchSize = n }
}

// WithWorkers sets how many embedding batches run concurrently during a build.
func WithWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// WithDefaultTopK overrides DefaultTopK.
func WithDefaultTopK(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.defaultTopK = n
		}
	}
}

// Service answers catalog questions from a persistent exact vector index.
// Open loads or builds the index once; afterwards queries run concurrently.
type Service struct {
	catalog   *catalog.Catalog
	embedder  embedding.Embedder
	generator domain.Generator
	store     *persistence.Store
	logger    *zap.Logger

	batchSize   int
	workers     int
	defaultTopK int

	group   singleflight.Group
	buildMu sync.Mutex
	batcher *embedding.Batcher

	ready  atomic.Bool
	closed atomic.Bool

	mu      sync.RWMutex
	index   vectorstore.Storage
	records []domain.Record
}

// New creates a service. Nothing is loaded until Open or the first query.
func New(deps Deps, opts ...Option) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		catalog:     deps.Catalog,
		embedder:    deps.Embedder,
		generator:   deps.Generator,
		store:       deps.Store,
		logger:      logger,
		defaultTopK: DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open restores the persisted index or builds it from the catalog. Concurrent callers
// share a single load; later calls return immediately. The shared load is detached
// from any one caller's cancellation: a caller whose ctx ends stops waiting, the load
// carries on for the rest.
func (s *Service) Open(ctx context.Context) error {
	if s.closed.Load() {
		return domain.ErrNotReady
	}
	if s.ready.Load() {
		return nil
	}
	buildCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan("open", func() (any, error) {
		if s.ready.Load() {
			return nil, nil
		}
		return nil, s.open(buildCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rebuild discards any persisted artifacts and builds the index from the catalog.
func (s *Service) Rebuild(ctx context.Context) error {
	if s.closed.Load() {
		return domain.ErrNotReady
	}
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if err := s.build(ctx, s.fingerprint()); err != nil {
		metrics.IndexOpenTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.IndexOpenTotal.WithLabelValues("built").Inc()
	return nil
}

func (s *Service) open(ctx context.Context) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	fp := s.fingerprint()
	outcome, err := s.loadOrBuild(ctx, fp)
	if err != nil {
		metrics.IndexOpenTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.IndexOpenTotal.WithLabelValues(outcome).Inc()
	return nil
}

func (s *Service) loadOrBuild(ctx context.Context, fp persistence.Fingerprint) (string, error) {
	if !s.store.Exists() {
		s.logger.Info("No persisted index, building", zap.String("dir", s.store.Dir))
		return "built", s.build(ctx, fp)
	}

	idx, records, err := s.store.Load(fp)
	switch {
	case err == nil:
		if err := s.restore(idx, records); err != nil {
			return "", err
		}
		return "restored", nil
	case errors.Is(err, persistence.ErrStale):
		s.logger.Warn("Persisted index is stale, rebuilding",
			zap.String("dir", s.store.Dir),
			zap.String("embedder", s.embedder.Name()),
		)
		return "rebuilt_stale", s.build(ctx, fp)
	default:
		return "", fmt.Errorf("open index in %s: %w", s.store.Dir, err)
	}
}

func (s *Service) restore(idx *memory.Storage, records []domain.Record) error {
	texts := recordTexts(records)
	if err := s.embedder.Prepare(texts); err != nil {
		return fmt.Errorf("prepare embedder: %w", err)
	}
	// Remote embedders report 0 until their first call.
	if dim := s.embedder.Dimension(); dim > 0 && dim != idx.Dimension() {
		return fmt.Errorf("restored index does not fit embedder %s: %w",
			s.embedder.Name(), domain.NewDimensionMismatch(idx.Dimension(), dim))
	}
	s.install(idx, records)
	s.logger.Info("Index restored",
		zap.String("dir", s.store.Dir),
		zap.Int("entries", idx.Len()),
		zap.Int("dimension", idx.Dimension()),
	)
	return nil
}

func (s *Service) build(ctx context.Context, fp persistence.Fingerprint) error {
	start := time.Now()
	items := s.catalog.Items()
	if len(items) == 0 {
		return domain.ErrEmptyCatalog
	}
	records := normalizer.NormalizeAll(items, s.logger)
	texts := recordTexts(records)

	if err := s.embedder.Prepare(texts); err != nil {
		return fmt.Errorf("prepare embedder: %w", err)
	}
	if s.batcher == nil {
		b, err := embedding.NewBatcher(s.embedder, s.workers, s.batchSize, s.logger)
		if err != nil {
			return err
		}
		s.batcher = b
	}
	vectors, err := s.batcher.Encode(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed catalog: %w", err)
	}
	idx, err := memory.Build(vectors)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := s.store.Save(fp, idx, records); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	s.install(idx, records)
	s.logger.Info("Index built",
		zap.String("dir", s.store.Dir),
		zap.String("embedder", s.embedder.Name()),
		zap.Int("entries", idx.Len()),
		zap.Int("dimension", idx.Dimension()),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Service) install(idx vectorstore.Storage, records []domain.Record) {
	s.mu.Lock()
	s.index = idx
	s.records = records
	s.mu.Unlock()
	s.ready.Store(true)
	metrics.IndexSize.Set(float64(idx.Len()))
}

func (s *Service) fingerprint() persistence.Fingerprint {
	return catalog.Fingerprint(s.catalog.Items(), s.embedder.Name())
}

// Answer retrieves the topK records nearest to text and assembles them into a
// context block, nearest first. A topK of 0 selects the default.
func (s *Service) Answer(ctx context.Context, text string, topK int) (domain.Retrieval, error) {
	if topK == 0 {
		topK = s.defaultTopK
	}
	if topK < 0 {
		return domain.Retrieval{}, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}
	if err := s.Open(ctx); err != nil {
		return domain.Retrieval{}, err
	}

	s.mu.RLock()
	idx, records := s.index, s.records
	s.mu.RUnlock()

	start := time.Now()
	vecs, err := s.embedder.Encode(ctx, []string{text})
	if err != nil {
		return domain.Retrieval{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return domain.Retrieval{}, fmt.Errorf("embed query: got %d vectors: %w", len(vecs), domain.ErrEmbeddingProvider)
	}
	metrics.QueryDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	start = time.Now()
	hits, err := idx.Search(vecs[0], topK)
	if err != nil {
		return domain.Retrieval{}, fmt.Errorf("search index: %w", err)
	}
	metrics.QueryDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())

	texts := make([]string, len(hits))
	for i := range hits {
		hits[i].Record = records[hits[i].Position]
		texts[i] = hits[i].Record.Text
	}

	return domain.Retrieval{
		Query:       text,
		Context:     strings.Join(texts, contextSeparator),
		Constraints: query.Parse(text),
		Hits:        hits,
	}, nil
}

// Reply answers text and asks the generator for a recommendation. Generator failures
// do not fail the call; they come back as a degraded reply carrying the error text.
func (s *Service) Reply(ctx context.Context, text string, topK int) (domain.Reply, error) {
	r, err := s.Answer(ctx, text, topK)
	if err != nil {
		return domain.Reply{}, err
	}

	if s.generator == nil {
		return degraded(r, domain.ErrNoGenerator), nil
	}

	start := time.Now()
	out, err := s.generator.Generate(ctx, prompt.Build(prompt.Input{
		Query:       r.Query,
		Context:     r.Context,
		Constraints: r.Constraints,
	}))
	metrics.QueryDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GenerationFailuresTotal.Inc()
		s.logger.Warn("Generation failed", zap.Error(err))
		return degraded(r, err), nil
	}
	return domain.Reply{Retrieval: r, Text: out}, nil
}

func degraded(r domain.Retrieval, err error) domain.Reply {
	return domain.Reply{Retrieval: r, Text: "Generation failed: " + err.Error(), Degraded: true}
}

// Sections lists the named catalog sections.
func (s *Service) Sections() []string {
	return s.catalog.SectionNames()
}

// Items returns the raw catalog items of a section.
func (s *Service) Items(section string) ([]domain.CatalogItem, bool) {
	return s.catalog.Section(section)
}

// Ready reports whether the index is loaded.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Close releases the embedding workers. Queries after Close fail with ErrNotReady.
func (s *Service) Close() error {
	s.closed.Store(true)
	s.ready.Store(false)
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	if s.batcher != nil {
		s.batcher.Release()
		s.batcher = nil
	}
	return nil
}

func recordTexts(records []domain.Record) []string {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	return texts
}
