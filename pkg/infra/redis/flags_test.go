package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要真实 Redis：DPJOB_TEST_REDIS_ADDR=127.0.0.1:6379 go test ./pkg/infra/redis/
func newTestStore(t *testing.T) *FlagStore {
	t.Helper()
	addr := os.Getenv("DPJOB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DPJOB_TEST_REDIS_ADDR not set")
	}

	store, err := NewFlagStore(context.Background(), addr, "", 0, "dpjob:test:"+uuid.NewString()+":")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFlagStoreJSON(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v, err := store.GetJSONString(ctx, "consumer_config")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, store.SetJSONString(ctx, "consumer_config", `{"all_queues":{"concurrency":8}}`))
	v, err = store.GetJSONString(ctx, "consumer_config")
	require.NoError(t, err)
	assert.JSONEq(t, `{"all_queues":{"concurrency":8}}`, v)
}

func TestFlagStoreInt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.GetInt(ctx, "consumer_concurrency", "orders")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, store.SetInt(ctx, "consumer_concurrency", "orders", 12))
	n, err = store.GetInt(ctx, "consumer_concurrency", "orders")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = store.GetInt(ctx, "consumer_concurrency", "emails")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, store.client.HSet(ctx, store.prefix+"consumer_concurrency", "bad", "many").Err())
	_, err = store.GetInt(ctx, "consumer_concurrency", "bad")
	assert.Error(t, err)
}
