package errorutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := fmt.Errorf("resolve q1: %w", Transport("ResolveQueueURL", cause))

	assert.True(t, IsKind(err, KindTransport))
	assert.False(t, IsKind(err, KindConfig))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ResolveQueueURL: transport call failed: connection reset")

	cfgErr := Config("flags %s configured without a flag backend", "cfg_flag")
	assert.True(t, IsKind(cfgErr, KindConfig))
	assert.False(t, IsRetryable(cfgErr))
	assert.Equal(t, "flags cfg_flag configured without a flag backend", cfgErr.Error())
}

func TestWrap(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Wrap(nil))

	data := Data("missing field %s", "idempotence_key")
	require.Same(t, data, Wrap(fmt.Errorf("outer: %w", data)))

	plain := Wrap(errors.New("boom"))
	require.NotNil(t, plain)
	assert.Equal(t, KindUnknown, plain.Kind)
	assert.Equal(t, "unknown", plain.Kind.String())
	assert.False(t, plain.Retryable)
}
