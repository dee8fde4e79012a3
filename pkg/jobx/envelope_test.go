package jobx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip/dpjob/pkg/errorutil"
)

func TestEnvelopeAttributes(t *testing.T) {
	t.Parallel()

	meta, err := NewMetadataAttribute(Metadata{OriginQueue: "orders", IdempotenceKey: "k-1", TraceID: "tr-9"})
	require.NoError(t, err)

	now := time.Now()
	env := NewEnvelope(EnvelopeInput{
		ID:           "m-1",
		Body:         `{"hello":"world"}`,
		QueueName:    "orders",
		ReceiveCount: 2,
		MessageAttributes: map[string]string{
			"tenant":             "acme",
			"SentTimestamp":      "custom",
			JobMetadataAttribute: meta,
		},
		SystemAttributes: map[string]string{
			"SentTimestamp":           "1700000000000",
			"ApproximateReceiveCount": "2",
		},
		ReceivedAt: now,
	})

	assert.Equal(t, "m-1", env.ID())
	assert.Equal(t, `{"hello":"world"}`, env.Body())
	assert.Equal(t, "orders", env.QueueName())
	assert.Equal(t, 2, env.ReceiveCount())
	assert.Equal(t, now, env.ReceivedAt())

	attrs := env.Attributes()
	assert.Equal(t, map[string]string{
		"tenant":                  "acme",
		"SentTimestamp":           "1700000000000",
		"ApproximateReceiveCount": "2",
	}, attrs)
	_, ok := env.Attribute(JobMetadataAttribute)
	assert.False(t, ok)

	// 返回的是副本
	attrs["tenant"] = "other"
	v, _ := env.Attribute("tenant")
	assert.Equal(t, "acme", v)

	key, err := env.IdempotenceKey()
	require.NoError(t, err)
	assert.Equal(t, "k-1", key)
	assert.Equal(t, "orders", env.OriginQueue())
	assert.Equal(t, "tr-9", env.TraceID())
}

func TestEnvelopeIdempotenceKeyErrors(t *testing.T) {
	t.Parallel()

	t.Run("attribute missing", func(t *testing.T) {
		env := NewEnvelope(EnvelopeInput{ID: "m-2", QueueName: "orders"})

		_, err := env.IdempotenceKey()
		require.Error(t, err)
		assert.True(t, errorutil.IsKind(err, errorutil.KindData))
		assert.Contains(t, err.Error(), JobMetadataAttribute)
		assert.Empty(t, env.OriginQueue())
	})

	t.Run("field missing", func(t *testing.T) {
		meta, err := NewMetadataAttribute(Metadata{OriginQueue: "orders"})
		require.NoError(t, err)
		env := NewEnvelope(EnvelopeInput{
			ID:                "m-3",
			MessageAttributes: map[string]string{JobMetadataAttribute: meta},
		})

		_, err = env.IdempotenceKey()
		require.Error(t, err)
		assert.True(t, errorutil.IsKind(err, errorutil.KindData))
		assert.Contains(t, err.Error(), "idempotence_key")
	})

	t.Run("malformed json", func(t *testing.T) {
		env := NewEnvelope(EnvelopeInput{
			ID:                "m-4",
			MessageAttributes: map[string]string{JobMetadataAttribute: "{not json"},
		})

		_, err := env.IdempotenceKey()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed")
	})
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	cases := map[Outcome]string{
		Ack:              "ack",
		RetryLater:       "retry_later",
		RetryWithBackoff: "retry_with_backoff",
		DeadLetter:       "dead_letter",
		Outcome(42):      "outcome(42)",
	}
	for o, want := range cases {
		assert.Equal(t, want, o.String())
	}
	assert.False(t, Outcome(42).Valid())
	assert.True(t, DeadLetter.Valid())
}
