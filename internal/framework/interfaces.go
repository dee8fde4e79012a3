package framework

import (
	"context"
	"time"

	"oip/dpjob/pkg/jobx"
)

// Transport 消息队列传输接口（适配 SQS / lmstfy / 内存队列）
type Transport interface {
	// ResolveQueueURL 队列名 → 地址，队列不存在时返回错误
	ResolveQueueURL(ctx context.Context, name string) (string, error)

	// ReceiveMessages 长轮询拉取一批消息（最多等待 waitSeconds 秒）
	ReceiveMessages(ctx context.Context, url string, maxBatch int, waitSeconds int) ([]*Message, error)

	// DeleteMessage 确认消息（删除）
	DeleteMessage(ctx context.Context, url string, receiptHandle string) error

	// ChangeMessageVisibility 修改消息可见性超时（秒）
	ChangeMessageVisibility(ctx context.Context, url string, receiptHandle string, seconds int) error

	// SendMessage 发送消息
	SendMessage(ctx context.Context, url string, body string, attributes map[string]string) error
}

// Location 队列所在区域和所属账号，空字段使用传输的默认值
type Location struct {
	Region    string
	AccountID string
}

// IsZero 是否未指定区域和账号
func (l Location) IsZero() bool {
	return l.Region == "" && l.AccountID == ""
}

// QueueLocator 支持按区域/账号解析队列的传输（SQS）
// 未实现该接口的传输忽略 Location
type QueueLocator interface {
	ResolveQueueURLAt(ctx context.Context, name string, loc Location) (string, error)
}

// VisibilityTimeoutSetter 没有队列级可见性属性的传输（lmstfy），订阅时由框架设置拉取用的可见性超时
type VisibilityTimeoutSetter interface {
	SetVisibilityTimeout(url string, seconds int)
}

// QueueProvisioner 队列创建（仅供启动时的队列初始化使用）
type QueueProvisioner interface {
	CreateQueue(ctx context.Context, name string, attributes map[string]string) (string, error)
}

// Logger 日志接口
type Logger interface {
	Debugf(ctx context.Context, format string, args ...interface{})
	Infof(ctx context.Context, format string, args ...interface{})
	Warnf(ctx context.Context, format string, args ...interface{})
	Errorf(ctx context.Context, format string, args ...interface{})
}

// InvokeFunc 调用 Handler 的函数（由注册时选定的调用策略生成）
type InvokeFunc func(ctx context.Context, env *jobx.Envelope) (jobx.Outcome, error)

// Metrics 指标上报接口
type Metrics interface {
	MessageReceived(queue string)
	Outcome(queue string, outcome jobx.Outcome)
	HandlerFailed(queue string)
	HandlerDuration(queue string, d time.Duration)
	TransportFailed(queue string, op string)
}

// NopMetrics 空实现
type NopMetrics struct{}

func (NopMetrics) MessageReceived(string)                {}
func (NopMetrics) Outcome(string, jobx.Outcome)          {}
func (NopMetrics) HandlerFailed(string)                  {}
func (NopMetrics) HandlerDuration(string, time.Duration) {}
func (NopMetrics) TransportFailed(string, string)        {}
