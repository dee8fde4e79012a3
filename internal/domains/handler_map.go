package domains

import (
	"context"
	"fmt"
	"sync"

	"oip/dpjob/internal/framework"
	"oip/dpjob/pkg/jobx"
	"oip/dpjob/pkg/logger"
)

// HandlerFactory 内置 Handler 构造函数
type HandlerFactory func(log logger.Logger) jobx.Handler

// HandlerMap 路由表（配置中的 handler 名称 → 构造函数）
var HandlerMap = map[string]HandlerFactory{
	"log_ack":     newLogAckHandler,
	"dead_letter": newDeadLetterHandler,
}

// newLogAckHandler 打印消息后确认
func newLogAckHandler(log logger.Logger) jobx.Handler {
	return jobx.HandlerFunc(func(ctx context.Context, env *jobx.Envelope) (jobx.Outcome, error) {
		log.Infof(ctx, "[log_ack] %s #%d from %s: %s", env.ID(), env.ReceiveCount(), env.QueueName(), env.Body())
		return jobx.Ack, nil
	})
}

// newDeadLetterHandler 所有消息直接进入死信队列（排空队列时使用）
func newDeadLetterHandler(log logger.Logger) jobx.Handler {
	return jobx.HandlerFunc(func(ctx context.Context, env *jobx.Envelope) (jobx.Outcome, error) {
		log.Warnf(ctx, "[dead_letter] moving %s to dead letter queue", env.ID())
		return jobx.DeadLetter, nil
	})
}

// Registration 一个队列的 Handler 注册信息
type Registration struct {
	QueueName string
	Strategy  Strategy
	Invoke    framework.InvokeFunc
}

// Registry 队列 → Handler，每个队列只能注册一个
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
	order   []string
	logger  logger.Logger
}

// NewRegistry 创建注册表
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		entries: make(map[string]Registration),
		logger:  log,
	}
}

// Register 注册同步 Handler
func (r *Registry) Register(queue string, h jobx.Handler) error {
	if h == nil {
		return fmt.Errorf("handler for queue %s is nil", queue)
	}
	return r.add(Registration{
		QueueName: queue,
		Strategy:  StrategyDirect,
		Invoke:    DirectInvoker(queue, h, r.logger),
	})
}

// RegisterAsync 注册异步 Handler
func (r *Registry) RegisterAsync(queue string, h jobx.AsyncHandlerFunc) error {
	if h == nil {
		return fmt.Errorf("handler for queue %s is nil", queue)
	}
	return r.add(Registration{
		QueueName: queue,
		Strategy:  StrategyAsync,
		Invoke:    AsyncInvoker(queue, h, r.logger),
	})
}

// RegisterNamed 按 HandlerMap 中的名称注册
func (r *Registry) RegisterNamed(queue string, name string) error {
	factory, ok := HandlerMap[name]
	if !ok {
		return fmt.Errorf("handler %q not found for queue %s", name, queue)
	}
	return r.Register(queue, factory(r.logger))
}

// Registrations 按注册顺序返回
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Queues 已注册的队列名
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) add(reg Registration) error {
	if reg.QueueName == "" {
		return fmt.Errorf("queue name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[reg.QueueName]; ok {
		return fmt.Errorf("queue %s already has a handler", reg.QueueName)
	}
	r.entries[reg.QueueName] = reg
	r.order = append(r.order, reg.QueueName)
	return nil
}
