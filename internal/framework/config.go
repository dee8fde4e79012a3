package framework

import "time"

const (
	retryQueueSuffix      = "_retryq"
	deadLetterQueueSuffix = "_dlq"
)

// 默认值
const (
	DefaultParallelism       = 1
	DefaultConcurrency       = 1
	DefaultChannelCapacity   = 0
	DefaultVisibilityTimeout = 30 // 秒
	DefaultMaxMessages       = 10
	DefaultWaitTimeSeconds   = 20
	DefaultPollInterval      = 200 * time.Millisecond
	DefaultErrorBackoff      = time.Second
	DefaultShutdownGrace     = 30 * time.Second

	maxBatchSize       = 10
	maxWaitTimeSeconds = 20
)

// RetryQueueName <name>_retryq
func RetryQueueName(queue string) string {
	return queue + retryQueueSuffix
}

// DeadLetterQueueName <name>_dlq
func DeadLetterQueueName(queue string) string {
	return queue + deadLetterQueueSuffix
}

// QueueConfig 单个队列的最终生效配置
// Parallelism 与 Concurrency 是两个独立维度：前者是拉取协程数，后者是处理协程数
type QueueConfig struct {
	Parallelism       int    // 拉取协程数
	Concurrency       int    // 处理协程数
	ChannelCapacity   int    // 交接 channel 容量，0 表示同步交接
	VisibilityTimeout int    // 基础可见性超时（秒）
	InstallRetryQueue bool   // 是否同时消费 _retryq
	Region            string // 区域
	AccountID         string // 账号

	MaxMessages     int           // 单次拉取条数
	WaitTimeSeconds int           // 长轮询等待（秒）
	PollInterval    time.Duration // 空轮询后的间隔
	ErrorBackoff    time.Duration // 拉取出错后的退避
	HandlerTimeout  time.Duration // 单条消息处理超时，0 表示不限制
	ShutdownGrace   time.Duration // 退订时等待排空的最长时间
}

// Location 队列所在区域和账号
func (c QueueConfig) Location() Location {
	return Location{Region: c.Region, AccountID: c.AccountID}
}

// DefaultQueueConfig 默认配置
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Parallelism:       DefaultParallelism,
		Concurrency:       DefaultConcurrency,
		ChannelCapacity:   DefaultChannelCapacity,
		VisibilityTimeout: DefaultVisibilityTimeout,
		InstallRetryQueue: true,
		MaxMessages:       DefaultMaxMessages,
		WaitTimeSeconds:   DefaultWaitTimeSeconds,
		PollInterval:      DefaultPollInterval,
		ErrorBackoff:      DefaultErrorBackoff,
		ShutdownGrace:     DefaultShutdownGrace,
	}
}

// Normalize 修正非法取值
func (c QueueConfig) Normalize() QueueConfig {
	if c.Parallelism < 1 {
		c.Parallelism = DefaultParallelism
	}
	if c.Concurrency < 1 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ChannelCapacity < 0 {
		c.ChannelCapacity = 0
	}
	if c.VisibilityTimeout < 0 {
		c.VisibilityTimeout = 0
	}
	if c.MaxMessages < 1 {
		c.MaxMessages = 1
	}
	if c.MaxMessages > maxBatchSize {
		c.MaxMessages = maxBatchSize
	}
	if c.WaitTimeSeconds < 0 {
		c.WaitTimeSeconds = 0
	}
	if c.WaitTimeSeconds > maxWaitTimeSeconds {
		c.WaitTimeSeconds = maxWaitTimeSeconds
	}
	if c.PollInterval < 0 {
		c.PollInterval = 0
	}
	if c.ErrorBackoff < 0 {
		c.ErrorBackoff = 0
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// Source 拉取来源（主队列或重试队列）
type Source struct {
	Name        string
	URL         string
	WaitSeconds int
}

// SubscriberConfig Subscriber 配置
type SubscriberConfig struct {
	QueueName    string        // 逻辑队列名称
	Parallelism  int           // 并发拉取数
	MaxMessages  int           // 单次拉取条数
	Sources      []Source      // 依次拉取的来源
	Rate         time.Duration // 空轮询间隔
	ErrorBackoff time.Duration // 错误退避时间
}

// ProcessorConfig Processor 配置
type ProcessorConfig struct {
	QueueName         string        // 逻辑队列名称
	Concurrency       int           // 并发处理数
	Timeout           time.Duration // 单个消息处理超时
	VisibilityTimeout int           // 退避计算的基础值（秒）
	DeadLetterURL     string        // 死信队列地址（为空时首次使用再解析）
	Location          Location      // 死信队列按需解析时使用
}
