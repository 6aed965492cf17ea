package integrationtests

import (
	"context"
	"tabular-backend/internal/cache"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rc, err := cache.NewRedisCache(setupRedisContainer(t, ctx))
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, rc.Ping(ctx))

	key := cache.DownloadURLKey("obj-1")
	_, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, rc.Set(ctx, key, []byte("https://example.test/obj-1"), time.Second))
	val, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "https://example.test/obj-1", string(val))

	time.Sleep(1500 * time.Millisecond)
	_, found, err = rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found, "key should expire")

	require.NoError(t, rc.Set(ctx, key, []byte("v"), time.Minute))
	require.NoError(t, rc.Delete(ctx, key))
	_, found, err = rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}
