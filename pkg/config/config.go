package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "DPJOB"

// Config 全局配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Transport TransportConfig `mapstructure:"transport"`
	Flags     FlagsConfig     `mapstructure:"flags"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	Workers   []WorkerConfig  `mapstructure:"workers"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// TransportConfig 队列传输配置
type TransportConfig struct {
	Kind      string       `mapstructure:"kind"`      // sqs | lmstfy | memory
	Provision bool         `mapstructure:"provision"` // 启动时创建 <q>、<q>_retryq、<q>_dlq
	SQS       SQSConfig    `mapstructure:"sqs"`
	Lmstfy    LmstfyConfig `mapstructure:"lmstfy"`
}

// SQSConfig SQS 配置
type SQSConfig struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"` // 本地模拟器地址，可为空
	AccountID string `mapstructure:"account_id"`
}

// LmstfyConfig Lmstfy 配置
type LmstfyConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
}

// FlagsConfig 动态开关后端
type FlagsConfig struct {
	Backend string      `mapstructure:"backend"` // none | redis | mysql
	Redis   RedisConfig `mapstructure:"redis"`
	MySQL   MySQLConfig `mapstructure:"mysql"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ConsumerConfig 订阅配置（静态部分）
type ConsumerConfig struct {
	AllQueues              QueueSettings            `mapstructure:"all_queues" json:"all_queues"`
	PerQueueOverrides      map[string]QueueSettings `mapstructure:"per_queue_overrides" json:"per_queue_overrides"`
	ConfigFeatureFlag      string                   `mapstructure:"config_feature_flag" json:"-"`
	ConcurrencyFeatureFlag string                   `mapstructure:"concurrency_feature_flag" json:"-"`
	ParallelismFeatureFlag string                   `mapstructure:"parallelism_feature_flag" json:"-"`
}

// QueueSettings 队列配置片段，nil 表示未设置
type QueueSettings struct {
	Parallelism           *int    `mapstructure:"parallelism" json:"parallelism,omitempty"`
	Concurrency           *int    `mapstructure:"concurrency" json:"concurrency,omitempty"`
	ChannelCapacity       *int    `mapstructure:"channel_capacity" json:"channel_capacity,omitempty"`
	VisibilityTimeout     *int    `mapstructure:"visibility_timeout" json:"visibility_timeout,omitempty"`
	InstallRetryQueue     *bool   `mapstructure:"install_retry_queue" json:"install_retry_queue,omitempty"`
	Region                *string `mapstructure:"region" json:"region,omitempty"`
	AccountID             *string `mapstructure:"account_id" json:"account_id,omitempty"`
	MaxMessages           *int    `mapstructure:"max_messages" json:"max_messages,omitempty"`
	WaitTimeSeconds       *int    `mapstructure:"wait_time_seconds" json:"wait_time_seconds,omitempty"`
	HandlerTimeoutSeconds *int    `mapstructure:"handler_timeout_seconds" json:"handler_timeout_seconds,omitempty"` // 秒
}

// WorkerConfig 队列 → 内置 Handler
type WorkerConfig struct {
	QueueName string `mapstructure:"queue_name"`
	Handler   string `mapstructure:"handler"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // 为空时不启动 /metrics
}

// ShutdownTimeout 进程退出时等待排空的时间
const ShutdownTimeout = 60 * time.Second

// Load 加载配置文件，环境变量（DPJOB_ 前缀）优先
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.log_level", "info")
	v.SetDefault("transport.kind", "sqs")
	v.SetDefault("flags.backend", "none")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	switch c.Transport.Kind {
	case "sqs", "memory":
	case "lmstfy":
		if c.Transport.Lmstfy.Host == "" {
			return fmt.Errorf("transport.lmstfy.host is required")
		}
	default:
		return fmt.Errorf("unknown transport.kind %q", c.Transport.Kind)
	}

	switch c.Flags.Backend {
	case "", "none":
	case "redis":
		if c.Flags.Redis.Addr == "" {
			return fmt.Errorf("flags.redis.addr is required")
		}
	case "mysql":
		if c.Flags.MySQL.DSN == "" {
			return fmt.Errorf("flags.mysql.dsn is required")
		}
	default:
		return fmt.Errorf("unknown flags.backend %q", c.Flags.Backend)
	}

	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	seen := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		if w.QueueName == "" {
			return fmt.Errorf("workers[%d].queue_name is required", i)
		}
		if w.Handler == "" {
			return fmt.Errorf("workers[%d].handler is required", i)
		}
		if seen[w.QueueName] {
			return fmt.Errorf("queue %s is configured twice", w.QueueName)
		}
		seen[w.QueueName] = true
	}
	return nil
}

// HasFlagBackend 是否配置了动态开关后端
func (c *Config) HasFlagBackend() bool {
	return c.Flags.Backend != "" && c.Flags.Backend != "none"
}

// QueueNames 配置中的所有队列
func (c *Config) QueueNames() []string {
	out := make([]string, 0, len(c.Workers))
	for _, w := range c.Workers {
		out = append(out, w.QueueName)
	}
	return out
}
