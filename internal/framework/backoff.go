package framework

import (
	"math/rand"
	"sync"
	"time"
)

const (
	// MaxJobDelaySeconds 可见性超时上限（12 小时）
	MaxJobDelaySeconds = 43200
	// MaxReceiveCountForBackoff 超过该接收次数后退避不再增长
	MaxReceiveCountForBackoff = 10
)

// VisibilityBackoff 根据接收次数计算下一次可见性超时
type VisibilityBackoff struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewVisibilityBackoff rnd 为 nil 时使用基于时间的随机源
func NewVisibilityBackoff(rnd *rand.Rand) *VisibilityBackoff {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	return &VisibilityBackoff{rnd: rnd}
}

var defaultBackoff = NewVisibilityBackoff(nil)

// NextVisibilityTimeout 使用进程级随机源计算
func NextVisibilityTimeout(receiveCount, visibilityTimeout int) int {
	return defaultBackoff.Next(receiveCount, visibilityTimeout)
}

// Next 返回秒数，满足 visibilityTimeout <= 结果 <= MaxJobDelaySeconds
// base = t * 2^min(rc, cap)，抖动取 [0, base)，相邻接收次数的取值区间不重叠
func (b *VisibilityBackoff) Next(receiveCount, visibilityTimeout int) int {
	floor := clampInt(visibilityTimeout, 0, MaxJobDelaySeconds)
	n := clampInt(receiveCount, 0, MaxReceiveCountForBackoff)

	base := int64(floor) << uint(n)
	if base > MaxJobDelaySeconds {
		base = MaxJobDelaySeconds
	}
	if base < int64(floor) {
		base = int64(floor)
	}

	next := base
	if base > 0 && base < MaxJobDelaySeconds {
		next += b.jitter(base)
	}

	return clampInt(int(next), floor, MaxJobDelaySeconds)
}

// jitter [0, max)
func (b *VisibilityBackoff) jitter(max int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rnd.Int63n(max)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
