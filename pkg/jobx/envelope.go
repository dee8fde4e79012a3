package jobx

import (
	"encoding/json"
	"time"

	"oip/dpjob/pkg/errorutil"
)

// JobMetadataAttribute 保留的内部元数据属性名，不出现在 Attributes() 中
const JobMetadataAttribute = "x-dp-job-meta"

const idempotenceKeyField = "idempotence_key"

// Metadata 内部元数据（生产者写入保留属性的 JSON）
type Metadata struct {
	OriginQueue    string `json:"origin_queue,omitempty"`
	IdempotenceKey string `json:"idempotence_key,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

// Envelope 单条消息的只读封装
type Envelope struct {
	id           string
	body         string
	queueName    string
	receiveCount int
	receivedAt   time.Time
	attributes   map[string]string
	rawMeta      *string
}

// EnvelopeInput 构造 Envelope 的原始字段
type EnvelopeInput struct {
	ID           string
	Body         string
	QueueName    string
	ReceiveCount int
	// MessageAttributes 自定义消息属性
	MessageAttributes map[string]string
	// SystemAttributes 系统属性（SentTimestamp、ApproximateReceiveCount 等传输原生名称）
	SystemAttributes map[string]string
	ReceivedAt       time.Time
}

// NewEnvelope 合并自定义属性和系统属性，剥离保留元数据
func NewEnvelope(in EnvelopeInput) *Envelope {
	attrs := make(map[string]string, len(in.MessageAttributes)+len(in.SystemAttributes))
	for k, v := range in.MessageAttributes {
		attrs[k] = v
	}
	// 系统属性同名时覆盖自定义属性
	for k, v := range in.SystemAttributes {
		attrs[k] = v
	}

	env := &Envelope{
		id:           in.ID,
		body:         in.Body,
		queueName:    in.QueueName,
		receiveCount: in.ReceiveCount,
		receivedAt:   in.ReceivedAt,
	}

	if raw, ok := in.MessageAttributes[JobMetadataAttribute]; ok {
		env.rawMeta = &raw
	}
	delete(attrs, JobMetadataAttribute)
	env.attributes = attrs

	return env
}

// ID 消息 ID
func (e *Envelope) ID() string { return e.id }

// Body 消息体
func (e *Envelope) Body() string { return e.body }

// QueueName 消息来源队列
func (e *Envelope) QueueName() string { return e.queueName }

// ReceiveCount 近似接收次数（从 1 开始）
func (e *Envelope) ReceiveCount() int { return e.receiveCount }

// ReceivedAt 拉取时间
func (e *Envelope) ReceivedAt() time.Time { return e.receivedAt }

// Attributes 返回属性副本
func (e *Envelope) Attributes() map[string]string {
	out := make(map[string]string, len(e.attributes))
	for k, v := range e.attributes {
		out[k] = v
	}
	return out
}

// Attribute 读取单个属性
func (e *Envelope) Attribute(name string) (string, bool) {
	v, ok := e.attributes[name]
	return v, ok
}

// Metadata 解析保留属性
func (e *Envelope) Metadata() (*Metadata, error) {
	if e.rawMeta == nil {
		return nil, errorutil.Data("message %s has no %s attribute", e.id, JobMetadataAttribute)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(*e.rawMeta), &meta); err != nil {
		de := errorutil.Data("message %s: malformed %s attribute", e.id, JobMetadataAttribute)
		de.Err = err
		return nil, de
	}
	return &meta, nil
}

// IdempotenceKey 返回幂等键，缺失时返回指明字段的错误
func (e *Envelope) IdempotenceKey() (string, error) {
	meta, err := e.Metadata()
	if err != nil {
		return "", err
	}
	if meta.IdempotenceKey == "" {
		return "", errorutil.Data("message %s: %s attribute has no %s field",
			e.id, JobMetadataAttribute, idempotenceKeyField)
	}
	return meta.IdempotenceKey, nil
}

// OriginQueue 原始队列（元数据缺失时返回空）
func (e *Envelope) OriginQueue() string {
	meta, err := e.Metadata()
	if err != nil {
		return ""
	}
	return meta.OriginQueue
}

// TraceID 原始 trace id（元数据缺失时返回空）
func (e *Envelope) TraceID() string {
	meta, err := e.Metadata()
	if err != nil {
		return ""
	}
	return meta.TraceID
}

// NewMetadataAttribute 序列化元数据，供生产者写入 JobMetadataAttribute
func NewMetadataAttribute(meta Metadata) (string, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
