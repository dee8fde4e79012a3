package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := NewFromZap(zap.New(core))

	ctx := WithQueue(context.Background(), "orders")
	ctx = WithWorkerID(ctx, 3)
	ctx = WithMessageID(ctx, "m-1")
	ctx = WithTraceID(ctx, "tr-1")

	log.Warnf(ctx, "[Processor-%d] change visibility failed", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "[Processor-3] change visibility failed", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "orders", fields["queue"])
	assert.Equal(t, int64(3), fields["worker_id"])
	assert.Equal(t, "m-1", fields["message_id"])
	assert.Equal(t, "tr-1", fields["trace_id"])
}

func TestNewZapLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		l, err := NewZapLogger(level)
		require.NoError(t, err)
		require.NotNil(t, l)
	}
}
