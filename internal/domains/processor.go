package domains

import (
	"context"
	"fmt"
	"time"

	"oip/dpjob/internal/framework"
	"oip/dpjob/pkg/errorutil"
	"oip/dpjob/pkg/jobx"
	"oip/dpjob/pkg/logger"
)

// Strategy Handler 调用策略，注册时选定一次
type Strategy int

const (
	// StrategyDirect 在 Worker 协程中直接调用
	StrategyDirect Strategy = iota
	// StrategyAsync Handler 自行调度，Worker 等待结果 channel
	StrategyAsync
)

// String 策略名称
func (s Strategy) String() string {
	if s == StrategyAsync {
		return "async"
	}
	return "direct"
}

// DirectInvoker 同步 Handler 的调用函数（捕获 panic）
func DirectInvoker(queue string, h jobx.Handler, log logger.Logger) framework.InvokeFunc {
	return func(ctx context.Context, env *jobx.Envelope) (outcome jobx.Outcome, err error) {
		startTime := time.Now()

		defer func() {
			if r := recover(); r != nil {
				log.Errorf(ctx, "[Invoker] handler panic on %s: %v", queue, r)
				err = errorutil.Handler(queue, fmt.Errorf("panic: %v", r))
			}
		}()

		outcome, err = h.Handle(ctx, env)
		if err != nil {
			return outcome, errorutil.Handler(queue, err)
		}

		log.Debugf(ctx, "[Invoker] %s handled in %v: %s", queue, time.Since(startTime), outcome)
		return outcome, nil
	}
}

// AsyncInvoker 异步 Handler 的调用函数
// Worker 阻塞等待结果，ctx 结束或 channel 关闭视为失败，消息保持未确认
func AsyncInvoker(queue string, h jobx.AsyncHandlerFunc, log logger.Logger) framework.InvokeFunc {
	return func(ctx context.Context, env *jobx.Envelope) (outcome jobx.Outcome, err error) {
		var resultCh <-chan jobx.Result
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf(ctx, "[Invoker] async handler panic on %s: %v", queue, r)
					err = errorutil.Handler(queue, fmt.Errorf("panic: %v", r))
				}
			}()
			resultCh = h(ctx, env)
		}()
		if err != nil {
			return 0, err
		}
		if resultCh == nil {
			return 0, errorutil.Handler(queue, fmt.Errorf("async handler returned nil channel"))
		}

		select {
		case res, ok := <-resultCh:
			if !ok {
				return 0, errorutil.Handler(queue, fmt.Errorf("async handler closed result channel without a result"))
			}
			if res.Err != nil {
				return res.Outcome, errorutil.Handler(queue, res.Err)
			}
			return res.Outcome, nil
		case <-ctx.Done():
			return 0, errorutil.Handler(queue, fmt.Errorf("waiting for async result: %w", ctx.Err()))
		}
	}
}
