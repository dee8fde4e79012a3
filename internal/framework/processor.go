package framework

import (
	"context"
	"fmt"
	"sync"
	"time"

	"oip/dpjob/pkg/jobx"
	"oip/dpjob/pkg/logger"
)

// Processor 处理器：接收消息，调用 Handler，根据 Outcome 执行确认动作
type Processor struct {
	cfg        *ProcessorConfig
	transport  Transport
	resolver   *Resolver
	backoff    *VisibilityBackoff
	invoke     InvokeFunc // 注册时选定的调用策略
	metrics    Metrics
	logger     Logger
	shutdownCh chan struct{} // 专门的退出信号通道
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewProcessor 创建处理器
func NewProcessor(
	cfg *ProcessorConfig,
	transport Transport,
	resolver *Resolver,
	backoff *VisibilityBackoff,
	invoke InvokeFunc,
	metrics Metrics,
	logger Logger,
) *Processor {
	if backoff == nil {
		backoff = defaultBackoff
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Processor{
		cfg:        cfg,
		transport:  transport,
		resolver:   resolver,
		backoff:    backoff,
		invoke:     invoke,
		metrics:    metrics,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动处理协程
// ctx 不随退订取消，正在执行的 Handler 不会被强制中断
func (p *Processor) Start(ctx context.Context, inputChan <-chan *Delivery) error {
	p.logger.Infof(ctx, "[Processor] Starting %d workers for queue: %s", p.cfg.Concurrency, p.cfg.QueueName)

	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := i
		p.wg.Add(1)
		go p.loop(logger.WithWorkerID(ctx, workerID), workerID, inputChan)
	}

	return nil
}

// SignalShutdown 通知 Processor 准备退出（进入 Drain 模式）
func (p *Processor) SignalShutdown() {
	p.closeOnce.Do(func() {
		p.logger.Infof(context.Background(), "[Processor] Shutdown signal received for %s", p.cfg.QueueName)
		close(p.shutdownCh)
	})
}

// Wait 等待所有处理协程退出
func (p *Processor) Wait() {
	p.wg.Wait()
	p.logger.Infof(context.Background(), "[Processor] All workers of %s exited", p.cfg.QueueName)
}

// loop 处理循环（单个 Worker）
func (p *Processor) loop(ctx context.Context, workerID int, inputChan <-chan *Delivery) {
	defer p.wg.Done()
	p.logger.Debugf(ctx, "[Processor-%d] Started", workerID)

	for {
		select {
		// A. 正常业务处理
		case d := <-inputChan:
			p.process(ctx, d, workerID)

		// B. Drain 模式：处理完剩余消息再退出
		case <-p.shutdownCh:
			p.logger.Debugf(ctx, "[Processor-%d] Entering DRAIN mode", workerID)
			count := 0
			for {
				select {
				case d := <-inputChan:
					p.process(ctx, d, workerID)
					count++
				default:
					// Channel 空了，安全退出
					p.logger.Debugf(ctx, "[Processor-%d] Drained %d messages, exiting", workerID, count)
					return
				}
			}
		}
	}
}

// process 处理单个消息
func (p *Processor) process(ctx context.Context, d *Delivery, workerID int) {
	if d == nil {
		return
	}

	startTime := time.Now()
	ctx = logger.WithMessageID(ctx, d.Envelope.ID())
	if traceID := d.Envelope.TraceID(); traceID != "" {
		ctx = logger.WithTraceID(ctx, traceID)
	}

	outcome, err := p.call(ctx, d)
	duration := time.Since(startTime)
	p.metrics.HandlerDuration(p.cfg.QueueName, duration)

	if err != nil {
		// Handler 失败：不确认，等待队列重新投递
		p.metrics.HandlerFailed(p.cfg.QueueName)
		p.logger.Errorf(ctx, "[Processor-%d] Handler failed on %s (receive_count=%d, duration=%v): %v",
			workerID, d.Queue, d.Envelope.ReceiveCount(), duration, err)
		return
	}

	p.logger.Debugf(ctx, "[Processor-%d] Message processed: outcome=%s, duration=%v", workerID, outcome, duration)
	p.apply(ctx, d, outcome)
	p.metrics.Outcome(p.cfg.QueueName, outcome)
}

// call 调用 Handler（超时控制 + 捕获 panic）
func (p *Processor) call(ctx context.Context, d *Delivery) (outcome jobx.Outcome, err error) {
	procCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		procCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	outcome, err = p.invoke(procCtx, d.Envelope)
	if err == nil && !outcome.Valid() {
		err = fmt.Errorf("handler returned unknown outcome %d", int(outcome))
	}
	return outcome, err
}

// apply 根据 Outcome 执行传输动作，传输失败只记录日志
func (p *Processor) apply(ctx context.Context, d *Delivery, outcome jobx.Outcome) {
	switch outcome {
	case jobx.Ack:
		p.deleteMessage(ctx, d)

	case jobx.RetryLater:
		// 不做任何动作，可见性超时到期后自然重投

	case jobx.RetryWithBackoff:
		seconds := p.backoff.Next(d.Envelope.ReceiveCount(), p.cfg.VisibilityTimeout)
		if err := p.transport.ChangeMessageVisibility(ctx, d.SourceURL, d.Message.ReceiptHandle, seconds); err != nil {
			p.metrics.TransportFailed(p.cfg.QueueName, "change_visibility")
			p.logger.Warnf(ctx, "[Processor] Change visibility to %ds failed, message will expire naturally: %v", seconds, err)
			return
		}
		p.logger.Debugf(ctx, "[Processor] Visibility changed to %ds (receive_count=%d)", seconds, d.Envelope.ReceiveCount())

	case jobx.DeadLetter:
		dlqURL, err := p.deadLetterURL(ctx)
		if err != nil {
			p.metrics.TransportFailed(p.cfg.QueueName, "resolve")
			p.logger.Errorf(ctx, "[Processor] Resolve dead letter queue failed, message kept: %v", err)
			return
		}
		if err := p.transport.SendMessage(ctx, dlqURL, d.Message.Body, d.Message.MessageAttributes); err != nil {
			// 发布失败不删除，消息保留等待重投
			p.metrics.TransportFailed(p.cfg.QueueName, "send")
			p.logger.Errorf(ctx, "[Processor] Publish to dead letter queue failed, message kept: %v", err)
			return
		}
		p.deleteMessage(ctx, d)
	}
}

func (p *Processor) deleteMessage(ctx context.Context, d *Delivery) {
	if err := p.transport.DeleteMessage(ctx, d.SourceURL, d.Message.ReceiptHandle); err != nil {
		p.metrics.TransportFailed(p.cfg.QueueName, "delete")
		p.logger.Warnf(ctx, "[Processor] Delete from %s failed, message will be redelivered: %v", d.Queue, err)
	}
}

func (p *Processor) deadLetterURL(ctx context.Context) (string, error) {
	if p.cfg.DeadLetterURL != "" {
		return p.cfg.DeadLetterURL, nil
	}
	return p.resolver.ResolveAt(ctx, DeadLetterQueueName(p.cfg.QueueName), p.cfg.Location)
}
