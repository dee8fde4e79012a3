package subscription

import (
	"sort"
	"strings"
	"time"

	"oip/dpjob/internal/framework"
	"oip/dpjob/pkg/config"
)

// EffectiveConfigSet 启动时计算一次，之后只读
type EffectiveConfigSet struct {
	AllQueues         config.QueueSettings
	PerQueueOverrides map[string]config.QueueSettings
	// Concurrency / Parallelism 旧版单值开关取到的覆盖值，0 不会写入
	Concurrency   map[string]int
	Parallelism   map[string]int
	DefaultRegion string
	// Dynamic 是否使用了动态开关中的配置
	Dynamic bool
}

// dynamicOverride config_feature_flag 的 JSON 结构
type dynamicOverride struct {
	AllQueues         config.QueueSettings            `json:"all_queues"`
	PerQueueOverrides map[string]config.QueueSettings `json:"per_queue_overrides"`
}

// Resolve 计算队列最终配置
// 顺序：默认值 ← all_queues ← per_queue_overrides[queue] ← 开关整数 ← 区域默认值
func (s *EffectiveConfigSet) Resolve(queue string) framework.QueueConfig {
	cfg := framework.DefaultQueueConfig()
	cfg = Merge(cfg, s.AllQueues)
	if o, ok := s.override(queue); ok {
		cfg = Merge(cfg, o)
	}
	if n, ok := s.Concurrency[queue]; ok && n > 0 {
		cfg.Concurrency = n
	}
	if n, ok := s.Parallelism[queue]; ok && n > 0 {
		cfg.Parallelism = n
	}
	if cfg.Region == "" {
		cfg.Region = s.DefaultRegion
	}
	return cfg
}

// override 查找队列的覆盖配置，精确匹配优先，其次忽略大小写匹配
// viper 读取 YAML 时会把 map 的 key 转成小写
func (s *EffectiveConfigSet) override(queue string) (config.QueueSettings, bool) {
	if o, ok := s.PerQueueOverrides[queue]; ok {
		return o, true
	}

	keys := make([]string, 0, len(s.PerQueueOverrides))
	for k := range s.PerQueueOverrides {
		if strings.EqualFold(k, queue) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return config.QueueSettings{}, false
	}
	sort.Strings(keys)
	return s.PerQueueOverrides[keys[0]], true
}

// unmatchedOverrides 没有对应队列的覆盖配置
func (s *EffectiveConfigSet) unmatchedOverrides(queues []string) []string {
	var out []string
	for k := range s.PerQueueOverrides {
		matched := false
		for _, q := range queues {
			if strings.EqualFold(k, q) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Merge 把 settings 中已设置的字段覆盖到 base
func Merge(base framework.QueueConfig, s config.QueueSettings) framework.QueueConfig {
	if s.Parallelism != nil {
		base.Parallelism = *s.Parallelism
	}
	if s.Concurrency != nil {
		base.Concurrency = *s.Concurrency
	}
	if s.ChannelCapacity != nil {
		base.ChannelCapacity = *s.ChannelCapacity
	}
	if s.VisibilityTimeout != nil {
		base.VisibilityTimeout = *s.VisibilityTimeout
	}
	if s.InstallRetryQueue != nil {
		base.InstallRetryQueue = *s.InstallRetryQueue
	}
	if s.Region != nil {
		base.Region = *s.Region
	}
	if s.AccountID != nil {
		base.AccountID = *s.AccountID
	}
	if s.MaxMessages != nil {
		base.MaxMessages = *s.MaxMessages
	}
	if s.WaitTimeSeconds != nil {
		base.WaitTimeSeconds = *s.WaitTimeSeconds
	}
	if s.HandlerTimeoutSeconds != nil {
		base.HandlerTimeout = time.Duration(*s.HandlerTimeoutSeconds) * time.Second
	}
	return base
}

// needsRegion 是否存在未配置区域的队列
func (s *EffectiveConfigSet) needsRegion(queues []string) bool {
	for _, q := range queues {
		if s.Resolve(q).Region == "" {
			return true
		}
	}
	return false
}
