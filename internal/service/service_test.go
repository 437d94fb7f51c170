package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bartender/internal/catalog"
	"bartender/internal/domain"
	"bartender/internal/persistence"
)

const testCatalog = `
sections:
  - name: beers
    items:
      - {name: Alpha, category: Beer, price: "100", volume: 650ml}
      - {name: Bravo, category: Beer, price: "1,200", volume: 650ml}
      - {name: Charlie, category: "Craft Beer", price: abc}
      - {name: Delta, category: Beer, price: 300, volume: 330ml}
  - name: rum
    items:
      - {name: Echo, category: Rum, price: 900, volume: 750ml}
`

// keywordEmbedder maps any text mentioning a known name onto that name's vector.
type keywordEmbedder struct {
	name    string
	dim     int
	order   []string
	vectors map[string][]float32
	fail    error

	// gate, when set, holds every Encode call until closed.
	gate      chan struct{}
	started   chan struct{}
	startOnce sync.Once

	prepares atomic.Int32
	encoded  atomic.Int32
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{
		name:  "keyword",
		dim:   2,
		order: []string{"alpha", "bravo", "charlie", "delta", "echo"},
		vectors: map[string][]float32{
			"alpha":   {0, 0},
			"bravo":   {1, 0},
			"charlie": {2, 0},
			"delta":   {3, 0},
			"echo":    {10, 10},
		},
	}
}

func (e *keywordEmbedder) Name() string { return e.name }

func (e *keywordEmbedder) Prepare([]string) error {
	e.prepares.Add(1)
	return nil
}

func (e *keywordEmbedder) Dimension() int { return e.dim }

func (e *keywordEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	if e.gate != nil {
		e.startOnce.Do(func() { close(e.started) })
		<-e.gate
	}
	e.encoded.Add(int32(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = make([]float32, e.dim)
		lower := strings.ToLower(t)
		for _, k := range e.order {
			if strings.Contains(lower, k) {
				copy(out[i], e.vectors[k])
				break
			}
		}
	}
	return out, nil
}

type fakeGenerator struct {
	out    string
	err    error
	prompt string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.out, g.err
}

func mustCatalog(t *testing.T, data string) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(data), false)
	require.NoError(t, err)
	return cat
}

func newTestService(t *testing.T, dir string, emb *keywordEmbedder, gen domain.Generator) *Service {
	t.Helper()
	s := New(Deps{
		Catalog:   mustCatalog(t, testCatalog),
		Embedder:  emb,
		Generator: gen,
		Store:     persistence.NewStore(dir),
	}, WithBatchSize(2), WithWorkers(2))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAnswer_ContextAssembly(t *testing.T) {
	s := newTestService(t, t.TempDir(), newKeywordEmbedder(), nil)

	r, err := s.Answer(context.Background(), "something like Alpha for 5 people, budget 3k", 3)
	require.NoError(t, err)

	want := "Beer: Alpha, Price: 100 INR, Volume: 650ml\n\n" +
		"Beer: Bravo, Price: 1200 INR, Volume: 650ml\n\n" +
		"CraftBeer: Charlie, Price: 0 INR, Volume: N/A"
	assert.Equal(t, want, r.Context)

	require.Len(t, r.Hits, 3)
	for i, wantDist := range []float32{0, 1, 4} {
		assert.Equal(t, i, r.Hits[i].Position)
		assert.Equal(t, wantDist, r.Hits[i].Distance)
	}
	assert.Equal(t, "Alpha", r.Hits[0].Record.Original.Name)
	assert.Equal(t, "beers", r.Hits[0].Record.Original.Section)

	require.NotNil(t, r.Constraints.Budget)
	require.NotNil(t, r.Constraints.People)
	assert.Equal(t, 3000, *r.Constraints.Budget)
	assert.Equal(t, 5, *r.Constraints.People)
}

func TestAnswer_TopK(t *testing.T) {
	s := newTestService(t, t.TempDir(), newKeywordEmbedder(), nil)
	ctx := context.Background()

	r, err := s.Answer(ctx, "delta", 0)
	require.NoError(t, err)
	assert.Len(t, r.Hits, DefaultTopK)
	assert.Equal(t, 3, r.Hits[0].Position)

	r, err = s.Answer(ctx, "delta", 50)
	require.NoError(t, err)
	assert.Len(t, r.Hits, 5)

	_, err = s.Answer(ctx, "delta", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidTopK)
}

func TestAnswer_Deterministic(t *testing.T) {
	s := newTestService(t, t.TempDir(), newKeywordEmbedder(), nil)
	ctx := context.Background()

	first, err := s.Answer(ctx, "bravo", 4)
	require.NoError(t, err)
	for range 5 {
		again, err := s.Answer(ctx, "bravo", 4)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestOpen_RestoresWithoutReembedding(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	builder := newKeywordEmbedder()
	s1 := newTestService(t, dir, builder, nil)
	require.NoError(t, s1.Open(ctx))
	assert.Equal(t, int32(5), builder.encoded.Load())
	want, err := s1.Answer(ctx, "charlie", 3)
	require.NoError(t, err)

	loader := newKeywordEmbedder()
	s2 := newTestService(t, dir, loader, nil)
	require.NoError(t, s2.Open(ctx))
	assert.Equal(t, int32(0), loader.encoded.Load(), "catalog must not be re-embedded")
	assert.Equal(t, int32(1), loader.prepares.Load())

	got, err := s2.Answer(ctx, "charlie", 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOpen_StaleCatalogRebuilds(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1 := newTestService(t, dir, newKeywordEmbedder(), nil)
	require.NoError(t, s1.Open(ctx))

	changed := strings.Replace(testCatalog, `price: "100"`, `price: "150"`, 1)
	emb := newKeywordEmbedder()
	s2 := New(Deps{
		Catalog:  mustCatalog(t, changed),
		Embedder: emb,
		Store:    persistence.NewStore(dir),
	})
	t.Cleanup(func() { _ = s2.Close() })

	r, err := s2.Answer(ctx, "alpha", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(6), emb.encoded.Load(), "5 catalog texts plus the query")
	assert.Equal(t, "Beer: Alpha, Price: 150 INR, Volume: 650ml", r.Context)
}

func TestOpen_EmbedderChangeIsStale(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, newTestService(t, dir, newKeywordEmbedder(), nil).Open(ctx))

	other := newKeywordEmbedder()
	other.name = "keyword-v2"
	require.NoError(t, newTestService(t, dir, other, nil).Open(ctx))
	assert.Equal(t, int32(5), other.encoded.Load())
}

func TestOpen_CorruptPairIsFatal(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, newTestService(t, dir, newKeywordEmbedder(), nil).Open(ctx))
	require.NoError(t, os.WriteFile(filepath.Join(dir, persistence.IndexFile), []byte("garbage"), 0o644))

	emb := newKeywordEmbedder()
	s := newTestService(t, dir, emb, nil)
	err := s.Open(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrCorrupt)
	assert.Equal(t, int32(0), emb.encoded.Load())
	assert.False(t, s.Ready())

	_, err = s.Answer(ctx, "alpha", 1)
	assert.ErrorIs(t, err, persistence.ErrCorrupt)

	require.NoError(t, s.Rebuild(ctx))
	assert.True(t, s.Ready())
	_, err = s.Answer(ctx, "alpha", 1)
	assert.NoError(t, err)
}

func TestOpen_RestoredDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, newTestService(t, dir, newKeywordEmbedder(), nil).Open(ctx))

	wide := newKeywordEmbedder()
	wide.dim = 3
	err := newTestService(t, dir, wide, nil).Open(ctx)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestOpen_ConcurrentFirstCallsBuildOnce(t *testing.T) {
	emb := newKeywordEmbedder()
	s := newTestService(t, t.TempDir(), emb, nil)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Answer(context.Background(), "echo", 2)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), emb.prepares.Load())
	assert.Equal(t, int32(5+16), emb.encoded.Load())
}

func TestOpen_CancelledCallerDoesNotAbortSharedBuild(t *testing.T) {
	emb := newKeywordEmbedder()
	emb.gate = make(chan struct{})
	emb.started = make(chan struct{})
	s := newTestService(t, t.TempDir(), emb, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- s.Open(ctx) }()
	<-emb.started

	second := make(chan error, 1)
	go func() { second <- s.Open(context.Background()) }()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(emb.gate)
	require.NoError(t, <-second)
	assert.True(t, s.Ready())
	assert.Equal(t, int32(1), emb.prepares.Load())
	assert.Equal(t, int32(5), emb.encoded.Load())
}

func TestAnswer_EmbedderFailure(t *testing.T) {
	emb := newKeywordEmbedder()
	s := newTestService(t, t.TempDir(), emb, nil)
	require.NoError(t, s.Open(context.Background()))

	emb.fail = domain.ErrEmbeddingProvider
	_, err := s.Answer(context.Background(), "alpha", 1)
	assert.ErrorIs(t, err, domain.ErrEmbeddingProvider)
}

func TestReply(t *testing.T) {
	gen := &fakeGenerator{out: "Grab two Alphas."}
	s := newTestService(t, t.TempDir(), newKeywordEmbedder(), gen)

	r, err := s.Reply(context.Background(), "alpha for 4 people under 2k", 2)
	require.NoError(t, err)
	assert.False(t, r.Degraded)
	assert.Equal(t, "Grab two Alphas.", r.Text)
	assert.Contains(t, gen.prompt, `USER QUERY: "alpha for 4 people under 2k"`)
	assert.Contains(t, gen.prompt, "DETECTED BUDGET: 2000 INR")
	assert.Contains(t, gen.prompt, "DETECTED HEADCOUNT: 4 people")
	assert.Contains(t, gen.prompt, r.Context)
}

func TestReply_Degraded(t *testing.T) {
	ctx := context.Background()

	failing := newTestService(t, t.TempDir(), newKeywordEmbedder(), &fakeGenerator{err: errors.New("quota exceeded")})
	r, err := failing.Reply(ctx, "alpha", 1)
	require.NoError(t, err)
	assert.True(t, r.Degraded)
	assert.Equal(t, "Generation failed: quota exceeded", r.Text)
	assert.Equal(t, "Beer: Alpha, Price: 100 INR, Volume: 650ml", r.Context)

	none := newTestService(t, t.TempDir(), newKeywordEmbedder(), nil)
	r, err = none.Reply(ctx, "alpha", 1)
	require.NoError(t, err)
	assert.True(t, r.Degraded)
	assert.Equal(t, "Generation failed: no generator configured", r.Text)
}

func TestClose(t *testing.T) {
	s := newTestService(t, t.TempDir(), newKeywordEmbedder(), nil)
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Close())

	_, err := s.Answer(context.Background(), "alpha", 1)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestSectionsAndItems(t *testing.T) {
	s := newTestService(t, t.TempDir(), newKeywordEmbedder(), nil)
	assert.Equal(t, []string{"beers", "rum"}, s.Sections())

	items, ok := s.Items("RUM")
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "Echo", items[0].Name)

	_, ok = s.Items("gin")
	assert.False(t, ok)
}
