package framework

import (
	"context"
	"sync"
	"time"

	"oip/dpjob/pkg/logger"
)

// Subscriber 订阅者：从消息队列拉取消息，转发给 Processor
type Subscriber struct {
	cfg        *SubscriberConfig
	transport  Transport
	metrics    Metrics
	logger     Logger
	cancelFunc context.CancelFunc // 取消函数
	wg         sync.WaitGroup
}

// NewSubscriber 创建订阅者
func NewSubscriber(cfg *SubscriberConfig, transport Transport, metrics Metrics, logger Logger) *Subscriber {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Subscriber{
		cfg:       cfg,
		transport: transport,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start 启动订阅循环
func (s *Subscriber) Start(parentCtx context.Context, inputChan chan<- *Delivery) error {
	// 从父 Context 派生子 Context
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancelFunc = cancel

	s.logger.Infof(ctx, "[Subscriber] Starting %d pollers for queue: %s (sources: %d)",
		s.cfg.Parallelism, s.cfg.QueueName, len(s.cfg.Sources))

	for i := 0; i < s.cfg.Parallelism; i++ {
		pollerID := i
		s.wg.Add(1)
		go s.loop(logger.WithWorkerID(ctx, pollerID), pollerID, inputChan)
	}

	return nil
}

// Stop 停止订阅（不再拉取新消息）
func (s *Subscriber) Stop() {
	s.logger.Infof(context.Background(), "[Subscriber] Stopping %s...", s.cfg.QueueName)
	if s.cancelFunc != nil {
		s.cancelFunc() // 触发 ctx.Done()
	}
}

// Wait 等待所有订阅协程退出
func (s *Subscriber) Wait() {
	s.wg.Wait()
	s.logger.Infof(context.Background(), "[Subscriber] All pollers of %s exited", s.cfg.QueueName)
}

// loop 订阅循环（单个 Poller）
func (s *Subscriber) loop(ctx context.Context, pollerID int, inputChan chan<- *Delivery) {
	defer s.wg.Done()
	s.logger.Debugf(ctx, "[Subscriber-%d] Started", pollerID)

	for {
		received := 0
		for _, src := range s.cfg.Sources {
			n, ok := s.poll(ctx, pollerID, src, inputChan)
			if !ok {
				s.logger.Debugf(ctx, "[Subscriber-%d] Context cancelled, exiting", pollerID)
				return
			}
			received += n
		}

		if received > 0 {
			continue
		}

		// 空轮询：速率控制 + 退出检查
		if !sleepCtx(ctx, s.cfg.Rate) {
			s.logger.Debugf(ctx, "[Subscriber-%d] Context cancelled, exiting", pollerID)
			return
		}
	}
}

// poll 拉取一次并逐条交接；返回拉取条数，ok=false 表示应退出
func (s *Subscriber) poll(ctx context.Context, pollerID int, src Source, inputChan chan<- *Delivery) (int, bool) {
	msgs, err := s.transport.ReceiveMessages(ctx, src.URL, s.cfg.MaxMessages, src.WaitSeconds)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false
		}
		// 网络抖动不退出，只记录日志
		s.metrics.TransportFailed(s.cfg.QueueName, "receive")
		s.logger.Warnf(ctx, "[Subscriber-%d] Receive from %s failed: %v, retrying...", pollerID, src.Name, err)
		return 0, sleepCtx(ctx, s.cfg.ErrorBackoff)
	}

	receivedAt := time.Now()
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		d := newDelivery(msg, src.Name, src.URL, receivedAt)
		s.metrics.MessageReceived(s.cfg.QueueName)

		// 发送给 Processor（防死锁：同时监听退出）
		select {
		case inputChan <- d:
			s.logger.Debugf(ctx, "[Subscriber-%d] Message handed off: %s", pollerID, msg.ID)
		case <-ctx.Done():
			// 未交接的消息不确认，可见性超时后由队列重新投递
			s.logger.Warnf(ctx, "[Subscriber-%d] Dropping message due to shutdown: %s", pollerID, msg.ID)
			return len(msgs), false
		}
	}

	return len(msgs), true
}

// sleepCtx 等待 d，ctx 取消时返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
