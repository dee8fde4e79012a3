package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip/dpjob/pkg/config"
	"oip/dpjob/pkg/lmstfy"
	"oip/dpjob/pkg/memqueue"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.TransportConfig{Kind: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memqueue.Broker{}, mem)

	lm, err := Open(ctx, config.TransportConfig{Kind: "lmstfy", Lmstfy: config.LmstfyConfig{Host: "127.0.0.1", Port: 7777, Namespace: "dpjob"}})
	require.NoError(t, err)
	assert.IsType(t, &lmstfy.Client{}, lm)

	_, err = Open(ctx, config.TransportConfig{Kind: "kafka"})
	assert.Error(t, err)
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	b := memqueue.New()

	created, err := Provision(ctx, b, []string{"orders", "emails"}, 45)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"orders", "orders_retryq", "orders_dlq",
		"emails", "emails_retryq", "emails_dlq",
	}, created)

	for _, name := range created {
		_, err := b.ResolveQueueURL(ctx, name)
		assert.NoError(t, err, name)
	}

	// 重复创建是幂等的
	_, err = Provision(ctx, b, []string{"orders"}, 45)
	assert.NoError(t, err)
}

func TestProvisionUnsupported(t *testing.T) {
	lm, err := lmstfy.NewClient("127.0.0.1", 7777, "dpjob", "")
	require.NoError(t, err)

	created, err := Provision(context.Background(), lm, []string{"orders"}, 30)
	require.NoError(t, err)
	assert.Empty(t, created)
}
