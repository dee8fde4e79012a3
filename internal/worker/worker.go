package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"oip/dpjob/internal/framework"
	"oip/dpjob/pkg/logger"
)

// State 订阅状态
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

// String 状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ownerKey 标记 Handler 所属的订阅，避免 Handler 内退订自身时死锁
type ownerKey struct{}

// Worker 接口
type Worker interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	GetName() string
	State() State
}

// WorkerInstance 单个队列的订阅：Subscriber → inputChan → Processor
type WorkerInstance struct {
	name      string
	cfg       framework.QueueConfig
	transport framework.Transport
	resolver  *framework.Resolver
	backoff   *framework.VisibilityBackoff
	invoke    framework.InvokeFunc
	metrics   framework.Metrics

	subscriber *framework.Subscriber
	processor  *framework.Processor
	inputChan  chan *framework.Delivery
	state      *atomic.Int32
	drained    chan struct{}
	logger     logger.Logger
}

// NewWorkerInstance 创建 Worker 实例（Idle）
func NewWorkerInstance(
	name string,
	cfg framework.QueueConfig,
	transport framework.Transport,
	resolver *framework.Resolver,
	backoff *framework.VisibilityBackoff,
	invoke framework.InvokeFunc,
	metrics framework.Metrics,
	log logger.Logger,
) *WorkerInstance {
	return &WorkerInstance{
		name:      name,
		cfg:       cfg.Normalize(),
		transport: transport,
		resolver:  resolver,
		backoff:   backoff,
		invoke:    invoke,
		metrics:   metrics,
		state:     atomic.NewInt32(int32(StateIdle)),
		drained:   make(chan struct{}),
		logger:    log,
	}
}

// Start Idle → Running：解析地址，启动 Processor 和 Subscriber
func (w *WorkerInstance) Start(ctx context.Context) error {
	if !w.state.CAS(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("worker %s is %s, cannot start", w.name, w.State())
	}

	ctx = logger.WithQueue(ctx, w.name)

	sources, dlqURL, err := w.resolve(ctx)
	if err != nil {
		w.state.Store(int32(StateStopped))
		close(w.drained)
		return err
	}

	if setter, ok := w.transport.(framework.VisibilityTimeoutSetter); ok {
		for _, src := range sources {
			setter.SetVisibilityTimeout(src.URL, w.cfg.VisibilityTimeout)
		}
	}

	// 创建 inputChan（容量 0 为同步交接）
	w.inputChan = make(chan *framework.Delivery, w.cfg.ChannelCapacity)

	w.subscriber = framework.NewSubscriber(&framework.SubscriberConfig{
		QueueName:    w.name,
		Parallelism:  w.cfg.Parallelism,
		MaxMessages:  w.cfg.MaxMessages,
		Sources:      sources,
		Rate:         w.cfg.PollInterval,
		ErrorBackoff: w.cfg.ErrorBackoff,
	}, w.transport, w.metrics, w.logger)

	w.processor = framework.NewProcessor(&framework.ProcessorConfig{
		QueueName:         w.name,
		Concurrency:       w.cfg.Concurrency,
		Timeout:           w.cfg.HandlerTimeout,
		VisibilityTimeout: w.cfg.VisibilityTimeout,
		DeadLetterURL:     dlqURL,
		Location:          w.cfg.Location(),
	}, w.transport, w.resolver, w.backoff, w.invoke, w.metrics, w.logger)

	// 订阅的生命周期独立于调用方 ctx
	base := context.WithoutCancel(ctx)

	// 1. 启动 Processor（Handler ctx 不随退订取消）
	if err := w.processor.Start(context.WithValue(base, ownerKey{}, w), w.inputChan); err != nil {
		return err
	}

	// 2. 启动 Subscriber
	if err := w.subscriber.Start(base, w.inputChan); err != nil {
		return err
	}

	w.logger.Infof(ctx, "[Worker] %s started: parallelism=%d concurrency=%d channel_capacity=%d retry_queue=%v region=%s account=%s",
		w.name, w.cfg.Parallelism, w.cfg.Concurrency, w.cfg.ChannelCapacity, w.cfg.InstallRetryQueue, w.cfg.Region, w.cfg.AccountID)
	return nil
}

// resolve 解析主队列，开启重试队列时同时解析 _retryq 和 _dlq
func (w *WorkerInstance) resolve(ctx context.Context) ([]framework.Source, string, error) {
	loc := w.cfg.Location()
	mainURL, err := w.resolver.ResolveAt(ctx, w.name, loc)
	if err != nil {
		return nil, "", err
	}

	sources := []framework.Source{{Name: w.name, URL: mainURL, WaitSeconds: w.cfg.WaitTimeSeconds}}
	if !w.cfg.InstallRetryQueue {
		return sources, "", nil
	}

	retryName := framework.RetryQueueName(w.name)
	retryURL, err := w.resolver.ResolveAt(ctx, retryName, loc)
	if err != nil {
		return nil, "", err
	}
	// 重试队列短轮询，避免拖慢主队列
	sources = append(sources, framework.Source{Name: retryName, URL: retryURL, WaitSeconds: 0})

	dlqURL, err := w.resolver.ResolveAt(ctx, framework.DeadLetterQueueName(w.name), loc)
	if err != nil {
		return nil, "", err
	}

	return sources, dlqURL, nil
}

// Shutdown 优雅退出：Running → Draining → Stopped
// 等待排空的时间受 ShutdownGrace 和 ctx 限制；在本订阅的 Handler 内调用时不等待
// 已在排空中的订阅再次调用时只等待排空
func (w *WorkerInstance) Shutdown(ctx context.Context) error {
	if w.state.CAS(int32(StateRunning), int32(StateDraining)) {
		w.logger.Infof(ctx, "[Worker] %s began to close", w.name)
		go w.drain()
	} else {
		switch w.State() {
		case StateIdle:
			if w.state.CAS(int32(StateIdle), int32(StateStopped)) {
				close(w.drained)
			}
			return nil
		case StateStopped:
			return nil
		}
	}

	if owner, ok := ctx.Value(ownerKey{}).(*WorkerInstance); ok && owner == w {
		w.logger.Infof(ctx, "[Worker] %s unsubscribed from its own handler, not waiting for drain", w.name)
		return nil
	}

	timer := time.NewTimer(w.cfg.ShutdownGrace)
	defer timer.Stop()

	select {
	case <-w.drained:
		return nil
	case <-timer.C:
		w.logger.Warnf(ctx, "[Worker] %s did not drain within %v", w.name, w.cfg.ShutdownGrace)
		return fmt.Errorf("worker %s did not drain within %v", w.name, w.cfg.ShutdownGrace)
	case <-ctx.Done():
		return fmt.Errorf("worker %s shutdown interrupted: %w", w.name, ctx.Err())
	}
}

// drain 按顺序停止 Subscriber 和 Processor
func (w *WorkerInstance) drain() {
	// 【第 1 步】停止拉取新消息
	w.subscriber.Stop()
	// 【第 2 步】等待 Subscriber 完全退出
	w.subscriber.Wait()
	// 【第 3 步】通知 Processor 进入 Drain 模式
	w.processor.SignalShutdown()
	// 【第 4 步】等待 Processor 处理完剩余消息
	w.processor.Wait()

	w.state.Store(int32(StateStopped))
	close(w.drained)
	w.logger.Infof(context.Background(), "[Worker] %s shutdown complete", w.name)
}

// Drained 完全停止后关闭
func (w *WorkerInstance) Drained() <-chan struct{} {
	return w.drained
}

// GetName 获取 Worker 名称（队列名）
func (w *WorkerInstance) GetName() string {
	return w.name
}

// State 当前状态
func (w *WorkerInstance) State() State {
	return State(w.state.Load())
}

// Config 生效配置
func (w *WorkerInstance) Config() framework.QueueConfig {
	return w.cfg
}
