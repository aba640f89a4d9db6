package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")
	l, err := New("order-api", "debug", path)
	require.NoError(t, err)

	l.Info("order placed", zap.String("order_id", "o-1"))
	_ = l.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(b, &line))
	assert.Equal(t, "order placed", line["msg"])
	assert.Equal(t, "order-api", line["service"])
	assert.Equal(t, "o-1", line["order_id"])
	assert.Contains(t, line, "ts")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("svc", "loud", "")
	assert.Error(t, err)
}

func TestFromCtx(t *testing.T) {
	fallback := zap.NewExample()
	assert.Same(t, fallback, FromCtx(context.Background(), fallback))
	assert.NotNil(t, FromCtx(context.Background(), nil))

	scoped := zap.NewExample().Named("req")
	assert.Same(t, scoped, FromCtx(WithCtx(context.Background(), scoped), fallback))
}
