package jobx

import (
	"context"
	"fmt"
)

// Outcome 消息处理结果，Handler 只能返回这四种动作
type Outcome int

const (
	// Ack 处理成功，从来源队列删除消息
	Ack Outcome = iota
	// RetryLater 不做任何传输操作，等可见性超时自然到期后重新投递
	RetryLater
	// RetryWithBackoff 按接收次数指数退避，修改消息可见性超时
	RetryWithBackoff
	// DeadLetter 发布到 <queue>_dlq 后从来源队列删除
	DeadLetter
)

// String 返回 Outcome 名称（日志与指标标签使用）
func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case RetryLater:
		return "retry_later"
	case RetryWithBackoff:
		return "retry_with_backoff"
	case DeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Valid 是否为已定义的 Outcome
func (o Outcome) Valid() bool {
	return o >= Ack && o <= DeadLetter
}

// Handler 业务处理器接口（同步执行）
type Handler interface {
	Handle(ctx context.Context, env *Envelope) (Outcome, error)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, env *Envelope) (Outcome, error)

// Handle 实现 Handler 接口
func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) (Outcome, error) {
	return f(ctx, env)
}

// Result 异步处理结果
type Result struct {
	Outcome Outcome
	Err     error
}

// AsyncHandlerFunc 异步处理器：立即返回，结果通过 channel 送回
// channel 关闭而未写入结果视为处理失败
type AsyncHandlerFunc func(ctx context.Context, env *Envelope) <-chan Result
