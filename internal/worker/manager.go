package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"oip/dpjob/internal/domains"
	"oip/dpjob/internal/framework"
	"oip/dpjob/pkg/jobx"
	"oip/dpjob/pkg/logger"
)

// Manager 接口（JobConsumer）
type Manager interface {
	Subscribe(ctx context.Context, queue string, handler jobx.Handler, cfg *framework.QueueConfig) error
	SubscribeFunc(ctx context.Context, queue string, invoke framework.InvokeFunc, cfg *framework.QueueConfig) error
	Unsubscribe(ctx context.Context, queue string) error
	Shutdown(ctx context.Context) error
}

// Option Manager 配置项
type Option func(*ManagerInstance)

// WithMetrics 设置指标上报
func WithMetrics(m framework.Metrics) Option {
	return func(mi *ManagerInstance) {
		if m != nil {
			mi.metrics = m
		}
	}
}

// WithBackoff 设置退避计算器（测试中可固定随机源）
func WithBackoff(b *framework.VisibilityBackoff) Option {
	return func(mi *ManagerInstance) {
		if b != nil {
			mi.backoff = b
		}
	}
}

// WithResolver 共享已有的地址缓存
func WithResolver(r *framework.Resolver) Option {
	return func(mi *ManagerInstance) {
		if r != nil {
			mi.resolver = r
		}
	}
}

// ManagerInstance Manager 实例
// 地址缓存是各订阅之间唯一共享的可变状态
type ManagerInstance struct {
	transport framework.Transport
	resolver  *framework.Resolver
	backoff   *framework.VisibilityBackoff
	metrics   framework.Metrics
	workers   map[string]*WorkerInstance
	closing   *atomic.Bool
	mu        sync.Mutex
	logger    logger.Logger
}

// NewManagerInstance 创建 Manager
func NewManagerInstance(transport framework.Transport, log logger.Logger, opts ...Option) *ManagerInstance {
	m := &ManagerInstance{
		transport: transport,
		backoff:   framework.NewVisibilityBackoff(nil),
		metrics:   framework.NopMetrics{},
		workers:   make(map[string]*WorkerInstance),
		closing:   atomic.NewBool(false),
		logger:    log,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.resolver == nil {
		m.resolver = framework.NewResolver(transport)
	}
	return m
}

// Subscribe 以直接调用策略订阅
func (m *ManagerInstance) Subscribe(ctx context.Context, queue string, handler jobx.Handler, cfg *framework.QueueConfig) error {
	if handler == nil {
		return fmt.Errorf("subscribe %s: handler is nil", queue)
	}
	return m.SubscribeFunc(ctx, queue, domains.DirectInvoker(queue, handler, m.logger), cfg)
}

// SubscribeFunc 订阅队列，cfg 为 nil 时使用默认配置；同一队列重复订阅返回错误
func (m *ManagerInstance) SubscribeFunc(ctx context.Context, queue string, invoke framework.InvokeFunc, cfg *framework.QueueConfig) error {
	if queue == "" {
		return errors.New("subscribe: queue name is empty")
	}
	if invoke == nil {
		return fmt.Errorf("subscribe %s: handler is nil", queue)
	}
	if m.closing.Load() {
		return fmt.Errorf("subscribe %s: manager is shutting down", queue)
	}

	qc := framework.DefaultQueueConfig()
	if cfg != nil {
		qc = *cfg
	}

	m.mu.Lock()
	if old, ok := m.workers[queue]; ok && old.State() != StateStopped {
		m.mu.Unlock()
		if old.State() == StateDraining {
			return fmt.Errorf("subscribe %s: previous subscription is still draining", queue)
		}
		return fmt.Errorf("subscribe %s: queue is already subscribed", queue)
	}
	w := NewWorkerInstance(queue, qc, m.transport, m.resolver, m.backoff, invoke, m.metrics, m.logger)
	// 先占位，解析地址期间的并发订阅会被拒绝
	m.workers[queue] = w
	m.mu.Unlock()

	if err := w.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.workers, queue)
		m.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", queue, err)
	}

	m.logger.Infof(ctx, "[Manager] Subscribed: %s", queue)
	return nil
}

// Unsubscribe 停止拉取、等待在途消息处理完成后释放；可在任意协程调用
// 排空完成前队列名保持占用，超时返回后旧订阅仍在处理的消息不会与新订阅重叠
func (m *ManagerInstance) Unsubscribe(ctx context.Context, queue string) error {
	m.mu.Lock()
	w, ok := m.workers[queue]
	if ok && w.State() != StateRunning {
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unsubscribe %s: queue is not subscribed", queue)
	}

	m.logger.Infof(ctx, "[Manager] Unsubscribing: %s", queue)
	err := w.Shutdown(ctx)

	select {
	case <-w.Drained():
		m.release(queue, w)
	default:
		go func() {
			<-w.Drained()
			m.release(queue, w)
		}()
	}
	return err
}

// release 排空完成后释放队列名
func (m *ManagerInstance) release(queue string, w *WorkerInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workers[queue] == w {
		delete(m.workers, queue)
		m.logger.Infof(context.Background(), "[Manager] Released: %s", queue)
	}
}

// Shutdown 并发退订所有队列
func (m *ManagerInstance) Shutdown(ctx context.Context) error {
	if !m.closing.CAS(false, true) {
		return nil
	}
	m.logger.Infof(ctx, "[Manager] Began to close")

	m.mu.Lock()
	workers := make([]*WorkerInstance, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*WorkerInstance)
	m.mu.Unlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, w := range workers {
		wg.Add(1)
		go func(w *WorkerInstance) {
			defer wg.Done()
			m.logger.Infof(ctx, "[Manager] Shutting down worker: %s", w.GetName())
			if err := w.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	m.logger.Infof(ctx, "[Manager] Shutdown complete")
	return errors.Join(errs...)
}

// Subscriptions 当前订阅的队列名（排序），不含正在排空的队列
func (m *ManagerInstance) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.workers))
	for name, w := range m.workers {
		if w.State() == StateDraining || w.State() == StateStopped {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// State 队列订阅状态（包括正在排空的队列），未订阅返回 false
func (m *ManagerInstance) State(queue string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[queue]
	if !ok {
		return StateStopped, false
	}
	return w.State(), true
}

// Resolver 共享的地址缓存
func (m *ManagerInstance) Resolver() *framework.Resolver {
	return m.resolver
}

var _ Manager = (*ManagerInstance)(nil)
