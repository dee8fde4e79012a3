// Package subscription 启动时计算每个队列的生效配置并完成订阅
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"oip/dpjob/internal/domains"
	"oip/dpjob/internal/framework"
	"oip/dpjob/pkg/config"
	"oip/dpjob/pkg/errorutil"
	"oip/dpjob/pkg/logger"
)

// FlagSource 动态开关后端
type FlagSource interface {
	// GetJSONString 开关不存在时返回空字符串
	GetJSONString(ctx context.Context, flag string) (string, error)
	// GetInt 开关不存在时返回 0
	GetInt(ctx context.Context, flag string, queue string) (int, error)
}

// Consumer 订阅目标（worker.ManagerInstance）
type Consumer interface {
	SubscribeFunc(ctx context.Context, queue string, invoke framework.InvokeFunc, cfg *framework.QueueConfig) error
	Unsubscribe(ctx context.Context, queue string) error
}

// RegionFunc 环境默认区域
type RegionFunc func(ctx context.Context) (string, error)

// Option Reconciler 配置项
type Option func(*Reconciler)

// WithFlagSource 绑定动态开关后端
func WithFlagSource(fs FlagSource) Option {
	return func(r *Reconciler) {
		r.flags = fs
	}
}

// WithDefaultRegion 设置区域默认值来源
func WithDefaultRegion(fn RegionFunc) Option {
	return func(r *Reconciler) {
		r.region = fn
	}
}

// Reconciler 启动协调器，只运行一次
type Reconciler struct {
	cfg      config.ConsumerConfig
	registry *domains.Registry
	consumer Consumer
	flags    FlagSource
	region   RegionFunc
	logger   logger.Logger
}

// NewReconciler 创建 Reconciler
func NewReconciler(cfg config.ConsumerConfig, registry *domains.Registry, consumer Consumer, log logger.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		cfg:      cfg,
		registry: registry,
		consumer: consumer,
		logger:   log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Build 计算生效配置，不做订阅
func (r *Reconciler) Build(ctx context.Context) (*EffectiveConfigSet, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	set := &EffectiveConfigSet{
		AllQueues:         r.cfg.AllQueues,
		PerQueueOverrides: r.cfg.PerQueueOverrides,
		Concurrency:       make(map[string]int),
		Parallelism:       make(map[string]int),
	}

	// 1. 动态配置整体替换静态配置
	if flag := r.cfg.ConfigFeatureFlag; flag != "" {
		raw, err := r.flags.GetJSONString(ctx, flag)
		if err != nil {
			return nil, fmt.Errorf("fetch flag %s: %w", flag, err)
		}
		raw = strings.TrimSpace(raw)
		if raw != "" && raw != "null" {
			var override dynamicOverride
			if err := json.Unmarshal([]byte(raw), &override); err != nil {
				return nil, errorutil.Config("flag %s is not a valid consumer config: %v", flag, err)
			}
			set.AllQueues = override.AllQueues
			set.PerQueueOverrides = override.PerQueueOverrides
			set.Dynamic = true
			r.logger.Infof(ctx, "[Reconciler] Consumer config replaced by flag %s", flag)
		} else {
			r.logger.Debugf(ctx, "[Reconciler] Flag %s is empty, using static config", flag)
		}
	}

	queues := r.registry.Queues()
	if unmatched := set.unmatchedOverrides(queues); len(unmatched) > 0 {
		r.logger.Warnf(ctx, "[Reconciler] per_queue_overrides %v match no registered queue", unmatched)
	}

	// 2. 区域默认值
	if r.region != nil && set.needsRegion(queues) {
		region, err := r.region(ctx)
		if err != nil {
			r.logger.Warnf(ctx, "[Reconciler] Load default region failed: %v", err)
		} else {
			set.DefaultRegion = region
		}
	}

	// 3. 旧版单值开关
	if err := r.fetchInts(ctx, r.cfg.ConcurrencyFeatureFlag, queues, set.Concurrency); err != nil {
		return nil, err
	}
	if err := r.fetchInts(ctx, r.cfg.ParallelismFeatureFlag, queues, set.Parallelism); err != nil {
		return nil, err
	}

	return set, nil
}

// Start 计算生效配置并订阅所有已注册队列
// 任意队列订阅失败时退订已启动的队列并返回错误
func (r *Reconciler) Start(ctx context.Context) (*EffectiveConfigSet, error) {
	set, err := r.Build(ctx)
	if err != nil {
		return nil, err
	}

	started := make([]string, 0)
	for _, reg := range r.registry.Registrations() {
		qc := set.Resolve(reg.QueueName)
		if err := r.consumer.SubscribeFunc(ctx, reg.QueueName, reg.Invoke, &qc); err != nil {
			r.rollback(ctx, started)
			return nil, fmt.Errorf("subscribe %s: %w", reg.QueueName, err)
		}
		started = append(started, reg.QueueName)
		r.logger.Infof(ctx, "[Reconciler] %s subscribed: parallelism=%d concurrency=%d channel_capacity=%d visibility_timeout=%d retry_queue=%v region=%s",
			reg.QueueName, qc.Parallelism, qc.Concurrency, qc.ChannelCapacity, qc.VisibilityTimeout, qc.InstallRetryQueue, qc.Region)
	}

	r.logger.Infof(ctx, "[Reconciler] %d queues subscribed (dynamic=%v)", len(started), set.Dynamic)
	return set, nil
}

// validate 配置了开关但没有后端时启动失败
func (r *Reconciler) validate() error {
	if r.flags != nil {
		return nil
	}

	var configured []string
	for _, name := range []string{r.cfg.ConfigFeatureFlag, r.cfg.ConcurrencyFeatureFlag, r.cfg.ParallelismFeatureFlag} {
		if name != "" {
			configured = append(configured, name)
		}
	}
	if len(configured) > 0 {
		return errorutil.Config("feature flags %s are configured but no flag backend is bound", strings.Join(configured, ", "))
	}
	return nil
}

func (r *Reconciler) fetchInts(ctx context.Context, flag string, queues []string, out map[string]int) error {
	if flag == "" {
		return nil
	}
	for _, q := range queues {
		n, err := r.flags.GetInt(ctx, flag, q)
		if err != nil {
			return fmt.Errorf("fetch flag %s for %s: %w", flag, q, err)
		}
		if n < 0 {
			return errorutil.Config("flag %s returned %d for %s", flag, n, q)
		}
		// 0 表示不覆盖
		if n > 0 {
			out[q] = n
			r.logger.Infof(ctx, "[Reconciler] Flag %s overrides %s: %d", flag, q, n)
		}
	}
	return nil
}

func (r *Reconciler) rollback(ctx context.Context, started []string) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := r.consumer.Unsubscribe(ctx, started[i]); err != nil {
			r.logger.Warnf(ctx, "[Reconciler] Rollback %s failed: %v", started[i], err)
		}
	}
}
