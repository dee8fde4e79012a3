// Package memqueue 进程内队列，语义对齐 SQS（可见性超时、接收次数、接收句柄）
// 用于本地运行（transport.kind=memory）和测试
package memqueue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"oip/dpjob/internal/framework"
)

const (
	urlPrefix = "memory://"

	// AttributeVisibilityTimeout CreateQueue 支持的属性（秒）
	AttributeVisibilityTimeout = "VisibilityTimeout"

	defaultVisibilityTimeout = 30
	pollTick                 = 5 * time.Millisecond
)

var (
	ErrQueueNotFound   = errors.New("queue not found")
	ErrReceiptNotFound = errors.New("receipt handle not found")
)

// Option 配置项
type Option func(*Broker)

// WithSecond 设置“一秒”的实际时长，测试中可以把秒级可见性缩短到毫秒级
func WithSecond(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.second = d
		}
	}
}

// Broker 内存队列集合，实现 framework.Transport 和 framework.QueueProvisioner
type Broker struct {
	mu     sync.RWMutex
	queues map[string]*queue
	second time.Duration
}

type message struct {
	id           string
	body         string
	attributes   map[string]string
	sentAt       time.Time
	firstRecvAt  time.Time
	visibleAt    time.Time
	receiveCount int
	receipt      string
}

type queue struct {
	name       string
	visibility int

	mu       sync.Mutex
	messages *list.List               // *message，按发送顺序
	receipts map[string]*list.Element // receipt -> element
	notify   chan struct{}            // 有新消息时关闭并替换

	visibilityChanges []int
}

// New 创建 Broker
func New(opts ...Option) *Broker {
	b := &Broker{
		queues: make(map[string]*queue),
		second: time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// URL 队列地址
func URL(name string) string {
	return urlPrefix + name
}

// CreateQueue 创建队列（已存在时直接返回地址）
func (b *Broker) CreateQueue(_ context.Context, name string, attributes map[string]string) (string, error) {
	if name == "" {
		return "", errors.New("queue name is empty")
	}

	visibility := defaultVisibilityTimeout
	if v, ok := attributes[AttributeVisibilityTimeout]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid %s %q", AttributeVisibilityTimeout, v)
		}
		visibility = n
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{
			name:       name,
			visibility: visibility,
			messages:   list.New(),
			receipts:   make(map[string]*list.Element),
			notify:     make(chan struct{}),
		}
	}
	return URL(name), nil
}

// ResolveQueueURL 队列不存在时返回 ErrQueueNotFound
func (b *Broker) ResolveQueueURL(_ context.Context, name string) (string, error) {
	if _, err := b.lookup(name); err != nil {
		return "", err
	}
	return URL(name), nil
}

// ReceiveMessages 长轮询拉取
func (b *Broker) ReceiveMessages(ctx context.Context, url string, maxBatch int, waitSeconds int) ([]*framework.Message, error) {
	q, err := b.lookupURL(url)
	if err != nil {
		return nil, err
	}
	if maxBatch < 1 {
		maxBatch = 1
	}

	deadline := time.Now().Add(time.Duration(waitSeconds) * b.second)
	for {
		msgs, notify := q.receive(maxBatch, b.second)
		if len(msgs) > 0 || !time.Now().Before(deadline) {
			return msgs, nil
		}

		wait := time.Until(deadline)
		if wait > pollTick {
			// 定期醒来检查可见性到期的消息
			wait = pollTick
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// DeleteMessage 按接收句柄删除
func (b *Broker) DeleteMessage(_ context.Context, url string, receiptHandle string) error {
	q, err := b.lookupURL(url)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.receipts[receiptHandle]
	if !ok {
		return ErrReceiptNotFound
	}
	delete(q.receipts, receiptHandle)
	q.messages.Remove(el)
	return nil
}

// ChangeMessageVisibility 修改可见性超时
func (b *Broker) ChangeMessageVisibility(_ context.Context, url string, receiptHandle string, seconds int) error {
	q, err := b.lookupURL(url)
	if err != nil {
		return err
	}
	if seconds < 0 || seconds > framework.MaxJobDelaySeconds {
		return fmt.Errorf("visibility timeout %d out of range", seconds)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.receipts[receiptHandle]
	if !ok {
		return ErrReceiptNotFound
	}
	el.Value.(*message).visibleAt = time.Now().Add(time.Duration(seconds) * b.second)
	q.visibilityChanges = append(q.visibilityChanges, seconds)
	return nil
}

// SendMessage 发送消息
func (b *Broker) SendMessage(_ context.Context, url string, body string, attributes map[string]string) error {
	q, err := b.lookupURL(url)
	if err != nil {
		return err
	}

	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}

	now := time.Now()
	q.mu.Lock()
	q.messages.PushBack(&message{
		id:         uuid.New().String(),
		body:       body,
		attributes: attrs,
		sentAt:     now,
		visibleAt:  now,
	})
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()

	return nil
}

// Send 按队列名发送（测试和本地投递使用）
func (b *Broker) Send(ctx context.Context, name string, body string, attributes map[string]string) error {
	return b.SendMessage(ctx, URL(name), body, attributes)
}

// Len 队列中剩余消息数（含不可见）
func (b *Broker) Len(name string) int {
	q, err := b.lookup(name)
	if err != nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.messages.Len()
}

// Bodies 队列中所有消息体（按发送顺序）
func (b *Broker) Bodies(name string) []string {
	q, err := b.lookup(name)
	if err != nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, 0, q.messages.Len())
	for el := q.messages.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*message).body)
	}
	return out
}

// VisibilityChanges 记录的可见性修改（秒）
func (b *Broker) VisibilityChanges(name string) []int {
	q, err := b.lookup(name)
	if err != nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.visibilityChanges...)
}

func (b *Broker) lookup(name string) (*queue, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return q, nil
}

func (b *Broker) lookupURL(url string) (*queue, error) {
	if !strings.HasPrefix(url, urlPrefix) {
		return nil, fmt.Errorf("%w: invalid url %s", ErrQueueNotFound, url)
	}
	return b.lookup(strings.TrimPrefix(url, urlPrefix))
}

// receive 取出最多 max 条可见消息并设为不可见
func (q *queue) receive(max int, second time.Duration) ([]*framework.Message, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var out []*framework.Message
	for el := q.messages.Front(); el != nil && len(out) < max; el = el.Next() {
		m := el.Value.(*message)
		if m.visibleAt.After(now) {
			continue
		}

		if m.receipt != "" {
			delete(q.receipts, m.receipt)
		}
		m.receiveCount++
		if m.firstRecvAt.IsZero() {
			m.firstRecvAt = now
		}
		m.receipt = uuid.New().String()
		m.visibleAt = now.Add(time.Duration(q.visibility) * second)
		q.receipts[m.receipt] = el

		out = append(out, m.snapshot())
	}

	return out, q.notify
}

func (m *message) snapshot() *framework.Message {
	attrs := make(map[string]string, len(m.attributes))
	for k, v := range m.attributes {
		attrs[k] = v
	}
	return &framework.Message{
		ID:            m.id,
		ReceiptHandle: m.receipt,
		Body:          m.body,
		ReceiveCount:  m.receiveCount,
		Attributes: map[string]string{
			"SentTimestamp":                    strconv.FormatInt(m.sentAt.UnixMilli(), 10),
			"ApproximateReceiveCount":          strconv.Itoa(m.receiveCount),
			"ApproximateFirstReceiveTimestamp": strconv.FormatInt(m.firstRecvAt.UnixMilli(), 10),
		},
		MessageAttributes: attrs,
	}
}

var (
	_ framework.Transport        = (*Broker)(nil)
	_ framework.QueueProvisioner = (*Broker)(nil)
)
