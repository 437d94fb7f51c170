package embedding

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bartender/internal/domain"
)

// lengthEmbedder maps each text to {len(text), position of first byte}.
type lengthEmbedder struct {
	calls atomic.Int32
	fail  string
	short bool
}

func (e *lengthEmbedder) Name() string             { return "length" }
func (e *lengthEmbedder) Prepare(_ []string) error { return nil }
func (e *lengthEmbedder) Dimension() int           { return 2 }

func (e *lengthEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if e.fail != "" && t == e.fail {
			return nil, errors.New("boom")
		}
		out = append(out, []float32{float32(len(t)), float32(t[0])})
	}
	if e.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestBatcher_PreservesOrder(t *testing.T) {
	emb := &lengthEmbedder{}
	b, err := NewBatcher(emb, 4, 3, nil)
	require.NoError(t, err)
	defer b.Release()

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = strings.Repeat(string(rune('a'+i)), i+1)
	}
	vecs, err := b.Encode(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 10)
	for i, v := range vecs {
		assert.Equal(t, []float32{float32(i + 1), float32('a' + i)}, v)
	}
	assert.Equal(t, int32(4), emb.calls.Load())
}

func TestBatcher_PropagatesError(t *testing.T) {
	b, err := NewBatcher(&lengthEmbedder{fail: "ccc"}, 2, 2, nil)
	require.NoError(t, err)
	defer b.Release()

	_, err = b.Encode(context.Background(), []string{"a", "bb", "ccc", "dddd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 1")
}

func TestBatcher_ShortResponse(t *testing.T) {
	b, err := NewBatcher(&lengthEmbedder{short: true}, 1, 5, nil)
	require.NoError(t, err)
	defer b.Release()

	_, err = b.Encode(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingProvider)
}

func TestBatcher_Canceled(t *testing.T) {
	b, err := NewBatcher(&lengthEmbedder{}, 1, 1, nil)
	require.NoError(t, err)
	defer b.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Encode(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
}
