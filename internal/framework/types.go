package framework

import (
	"time"

	"oip/dpjob/pkg/jobx"
)

// Message 传输层返回的原始消息
type Message struct {
	ID            string            // 消息 ID
	ReceiptHandle string            // 本次接收的句柄（删除/修改可见性使用）
	Body          string            // 消息体
	ReceiveCount  int               // 近似接收次数
	Attributes    map[string]string // 系统属性（传输原生名称）
	// MessageAttributes 自定义属性，包含保留元数据属性
	MessageAttributes map[string]string
}

// Delivery 框架内部流转单元：Subscriber 构造，Processor 消费
type Delivery struct {
	Envelope  *jobx.Envelope
	Message   *Message
	Queue     string // 来源队列名（主队列或 _retryq）
	SourceURL string // 来源队列地址
}

// newDelivery 为一条消息构造 Envelope
func newDelivery(msg *Message, queue, url string, receivedAt time.Time) *Delivery {
	env := jobx.NewEnvelope(jobx.EnvelopeInput{
		ID:                msg.ID,
		Body:              msg.Body,
		QueueName:         queue,
		ReceiveCount:      msg.ReceiveCount,
		MessageAttributes: msg.MessageAttributes,
		SystemAttributes:  msg.Attributes,
		ReceivedAt:        receivedAt,
	})

	return &Delivery{
		Envelope:  env,
		Message:   msg,
		Queue:     queue,
		SourceURL: url,
	}
}
