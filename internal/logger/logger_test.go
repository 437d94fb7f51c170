package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"prod", "dev", "local"} {
		l, err := NewLogger(env, "", "")
		require.NoError(t, err, env)
		assert.NotNil(t, l)
	}

	_, err := NewLogger("staging", "", "")
	assert.Error(t, err)

	_, err = NewLogger("prod", "loud", "")
	assert.Error(t, err)
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bartender.log")
	l, err := NewLogger("prod", "debug", path)
	require.NoError(t, err)

	l.Debug("hello", zap.String("k", "v"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := zap.NewExample()
	ctx := ContextWithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}
