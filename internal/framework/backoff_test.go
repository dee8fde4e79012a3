package framework

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisibilityBackoffBounds(t *testing.T) {
	t.Parallel()

	b := NewVisibilityBackoff(rand.New(rand.NewSource(7)))
	for _, timeout := range []int{0, 1, 30, 300, 3600, MaxJobDelaySeconds, MaxJobDelaySeconds + 100} {
		floor := timeout
		if floor > MaxJobDelaySeconds {
			floor = MaxJobDelaySeconds
		}
		for rc := -1; rc <= MaxReceiveCountForBackoff+5; rc++ {
			got := b.Next(rc, timeout)
			require.GreaterOrEqual(t, got, floor, "rc=%d timeout=%d", rc, timeout)
			require.LessOrEqual(t, got, MaxJobDelaySeconds, "rc=%d timeout=%d", rc, timeout)
		}
	}
}

func TestVisibilityBackoffMonotonic(t *testing.T) {
	t.Parallel()

	b := NewVisibilityBackoff(nil)
	for _, timeout := range []int{1, 5, 30, 120} {
		for i := 0; i < 50; i++ {
			prev := 0
			for rc := 0; rc <= MaxReceiveCountForBackoff; rc++ {
				got := b.Next(rc, timeout)
				require.GreaterOrEqual(t, got, prev, "rc=%d timeout=%d", rc, timeout)
				prev = got
			}
		}
	}
}

func TestVisibilityBackoffSaturates(t *testing.T) {
	t.Parallel()

	for _, rc := range []int{MaxReceiveCountForBackoff, MaxReceiveCountForBackoff + 1, 1000} {
		atCap := NewVisibilityBackoff(rand.New(rand.NewSource(42))).Next(MaxReceiveCountForBackoff, 3)
		got := NewVisibilityBackoff(rand.New(rand.NewSource(42))).Next(rc, 3)
		assert.Equal(t, atCap, got, "rc=%d", rc)
	}

	// 超过上限后固定为 MaxJobDelaySeconds
	b := NewVisibilityBackoff(nil)
	assert.Equal(t, MaxJobDelaySeconds, b.Next(MaxReceiveCountForBackoff, 3600))
	assert.Equal(t, MaxJobDelaySeconds, b.Next(500, 3600))
}

func TestVisibilityBackoffJitter(t *testing.T) {
	t.Parallel()

	seen := make(map[int]struct{})
	for i := 0; i < 100; i++ {
		seen[NextVisibilityTimeout(3, 30)] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
	for v := range seen {
		assert.GreaterOrEqual(t, v, 240)
		assert.Less(t, v, 480)
	}
}

func TestVisibilityBackoffZeroTimeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, NextVisibilityTimeout(5, 0))
}
