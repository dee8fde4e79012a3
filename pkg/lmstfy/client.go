package lmstfy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitleak/lmstfy/client"

	"oip/dpjob/internal/framework"
)

const (
	urlPrefix = "lmstfy://"

	defaultTTR   = 30 // 秒，未通过 SetVisibilityTimeout 设置时使用
	defaultTries = 100
)

// jobAPI lmstfy 客户端中用到的方法
type jobAPI interface {
	Publish(queue string, data []byte, ttl, delay uint32) (string, error)
	Consume(queue string, ttr, timeout uint32) (*client.Job, error)
	Ack(queue, jobID string) error
}

// sdkAPI 包装 *client.LmstfyClient
type sdkAPI struct {
	cli   *client.LmstfyClient
	tries uint16
}

func (a *sdkAPI) Publish(queue string, data []byte, ttl, delay uint32) (string, error) {
	jobID, err := a.cli.Publish(queue, data, ttl, a.tries, delay)
	if err != nil {
		return "", err
	}
	return jobID, nil
}

func (a *sdkAPI) Consume(queue string, ttr, timeout uint32) (*client.Job, error) {
	job, err := a.cli.Consume(queue, ttr, timeout)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (a *sdkAPI) Ack(queue, jobID string) error {
	if err := a.cli.Ack(queue, jobID); err != nil {
		return err
	}
	return nil
}

// wireJob 任务数据的线上格式：lmstfy 只有消息体，属性和接收次数放在这里
type wireJob struct {
	Body         string            `json:"body"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	SentAt       int64             `json:"sent_at"`
	ReceiveCount int               `json:"receive_count,omitempty"` // 改期重发前的接收次数
}

// inflight 已拉取未确认的任务
type inflight struct {
	queue string
	job   wireJob
}

// Client Lmstfy 传输，实现 framework.Transport
// 接收句柄就是 job ID；修改可见性通过“延迟重发 + 确认旧任务”实现
type Client struct {
	api       jobAPI
	namespace string
	ttr       uint32

	mu       sync.Mutex
	counts   map[string]int      // job ID -> 本进程观察到的接收次数
	inflight map[string]inflight // job ID -> 任务
	ttrs     map[string]uint32   // 队列 -> TTR，未设置时使用 ttr
}

// NewClient 创建 Lmstfy 客户端
func NewClient(host string, port int, namespace string, token string) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("lmstfy host is required")
	}
	cli := client.NewLmstfyClient(host, port, namespace, token)
	return newClient(&sdkAPI{cli: cli, tries: defaultTries}, namespace), nil
}

func newClient(api jobAPI, namespace string) *Client {
	return &Client{
		api:       api,
		namespace: namespace,
		ttr:       defaultTTR,
		counts:    make(map[string]int),
		inflight:  make(map[string]inflight),
		ttrs:      make(map[string]uint32),
	}
}

// URL 队列地址
func (c *Client) URL(queue string) string {
	return urlPrefix + c.namespace + "/" + queue
}

// ResolveQueueURL lmstfy 的队列在首次发布时创建，只做名称校验
func (c *Client) ResolveQueueURL(_ context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/ ") {
		return "", fmt.Errorf("invalid lmstfy queue name %q", name)
	}
	return c.URL(name), nil
}

// SetVisibilityTimeout 设置队列的 TTR，未确认的任务在 TTR 后重新投递
func (c *Client) SetVisibilityTimeout(url string, seconds int) {
	queue, err := c.queueOf(url)
	if err != nil || seconds <= 0 {
		return
	}
	c.mu.Lock()
	c.ttrs[queue] = uint32(seconds)
	c.mu.Unlock()
}

func (c *Client) ttrOf(queue string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttr, ok := c.ttrs[queue]; ok {
		return ttr
	}
	return c.ttr
}

// ReceiveMessages 第一条按 waitSeconds 阻塞等待，其余非阻塞拉取
func (c *Client) ReceiveMessages(ctx context.Context, url string, maxBatch int, waitSeconds int) ([]*framework.Message, error) {
	queue, err := c.queueOf(url)
	if err != nil {
		return nil, err
	}
	if maxBatch < 1 {
		maxBatch = 1
	}

	var msgs []*framework.Message
	ttr := c.ttrOf(queue)
	timeout := uint32(waitSeconds)
	for len(msgs) < maxBatch {
		if ctx.Err() != nil {
			break
		}
		job, err := c.api.Consume(queue, ttr, timeout)
		if err != nil {
			if len(msgs) > 0 {
				break
			}
			return nil, fmt.Errorf("lmstfy consume failed: %w", err)
		}
		// 超时未拉到消息
		if job == nil {
			break
		}
		msgs = append(msgs, c.track(queue, job))
		timeout = 0
	}
	return msgs, nil
}

// DeleteMessage 确认任务
func (c *Client) DeleteMessage(_ context.Context, url string, receiptHandle string) error {
	queue, err := c.queueOf(url)
	if err != nil {
		return err
	}
	if err := c.api.Ack(queue, receiptHandle); err != nil {
		return fmt.Errorf("lmstfy ack failed: %w", err)
	}
	c.forget(receiptHandle)
	return nil
}

// ChangeMessageVisibility 以 seconds 延迟重新发布任务并确认旧任务
func (c *Client) ChangeMessageVisibility(_ context.Context, url string, receiptHandle string, seconds int) error {
	queue, err := c.queueOf(url)
	if err != nil {
		return err
	}

	c.mu.Lock()
	in, ok := c.inflight[receiptHandle]
	count := c.counts[receiptHandle]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("lmstfy job %s is not in flight", receiptHandle)
	}

	job := in.job
	job.ReceiveCount = count
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job failed: %w", err)
	}
	if _, err := c.api.Publish(queue, data, 0, uint32(seconds)); err != nil {
		return fmt.Errorf("lmstfy republish failed: %w", err)
	}
	if err := c.api.Ack(queue, receiptHandle); err != nil {
		return fmt.Errorf("lmstfy ack failed: %w", err)
	}
	c.forget(receiptHandle)
	return nil
}

// SendMessage 发布任务
func (c *Client) SendMessage(_ context.Context, url string, body string, attributes map[string]string) error {
	queue, err := c.queueOf(url)
	if err != nil {
		return err
	}

	data, err := json.Marshal(wireJob{Body: body, Attributes: attributes, SentAt: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal job failed: %w", err)
	}
	if _, err := c.api.Publish(queue, data, 0, 0); err != nil {
		return fmt.Errorf("lmstfy publish failed: %w", err)
	}
	return nil
}

// track 记录在途任务并转换为框架 Message
func (c *Client) track(queue string, job *client.Job) *framework.Message {
	var wire wireJob
	if err := json.Unmarshal(job.Data, &wire); err != nil {
		// 非本框架发布的任务，整体作为消息体
		wire = wireJob{Body: string(job.Data)}
	}

	c.mu.Lock()
	count, seen := c.counts[job.ID]
	if !seen {
		count = wire.ReceiveCount
	}
	count++
	c.counts[job.ID] = count
	c.inflight[job.ID] = inflight{queue: queue, job: wire}
	c.mu.Unlock()

	attrs := map[string]string{
		"ApproximateReceiveCount": strconv.Itoa(count),
	}
	if wire.SentAt > 0 {
		attrs["SentTimestamp"] = strconv.FormatInt(wire.SentAt, 10)
	}

	return &framework.Message{
		ID:                job.ID,
		ReceiptHandle:     job.ID,
		Body:              wire.Body,
		ReceiveCount:      count,
		Attributes:        attrs,
		MessageAttributes: wire.Attributes,
	}
}

func (c *Client) forget(jobID string) {
	c.mu.Lock()
	delete(c.counts, jobID)
	delete(c.inflight, jobID)
	c.mu.Unlock()
}

func (c *Client) queueOf(url string) (string, error) {
	prefix := urlPrefix + c.namespace + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("url %s does not belong to lmstfy namespace %s", url, c.namespace)
	}
	return strings.TrimPrefix(url, prefix), nil
}

var (
	_ framework.Transport               = (*Client)(nil)
	_ framework.VisibilityTimeoutSetter = (*Client)(nil)
)
