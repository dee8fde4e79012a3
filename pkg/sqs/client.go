// Package sqs 基于 aws-sdk-go-v2 的队列传输实现
package sqs

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"oip/dpjob/internal/framework"
)

const (
	maxBatchSize       = 10
	maxWaitTimeSeconds = 20
	stringDataType     = "String"
)

// API Client 使用的 SQS 接口（*sqs.Client 实现）
type API interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
}

// Options 客户端配置
type Options struct {
	Region    string
	Endpoint  string // 为空时使用 AWS 默认地址
	AccountID string // 跨账号队列的所有者
}

// APIFactory 创建指定区域的 SQS 接口
type APIFactory func(ctx context.Context, region string) (API, error)

// ClientOption Client 配置项
type ClientOption func(*Client)

// WithRegions 设置默认区域；其他区域的队列通过 factory 按需创建客户端
func WithRegions(defaultRegion string, factory APIFactory) ClientOption {
	return func(c *Client) {
		c.region = defaultRegion
		c.factory = factory
	}
}

// Client SQS 传输，实现 framework.Transport、framework.QueueLocator 和 framework.QueueProvisioner
// 解析到其他区域的队列地址会记住对应的客户端，后续收发按地址路由
type Client struct {
	api       API
	region    string
	accountID string
	factory   APIFactory

	mu      sync.Mutex
	regions map[string]API // region -> API
	routes  sync.Map       // url -> API
}

// New 使用 AWS 默认凭证链创建客户端
func New(ctx context.Context, opts Options) (*Client, error) {
	factory := func(ctx context.Context, region string) (API, error) {
		var loadOpts []func(*config.LoadOptions) error
		if region != "" {
			loadOpts = append(loadOpts, config.WithRegion(region))
		}

		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config failed: %w", err)
		}

		return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
			if opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(opts.Endpoint)
			}
		}), nil
	}

	region := opts.Region
	if region == "" {
		r, err := DefaultRegion(ctx)
		if err != nil {
			return nil, err
		}
		region = r
	}

	api, err := factory(ctx, region)
	if err != nil {
		return nil, err
	}
	return NewFromAPI(api, opts.AccountID, WithRegions(region, factory)), nil
}

// NewFromAPI 包装已有的 SQS 接口
func NewFromAPI(api API, accountID string, opts ...ClientOption) *Client {
	c := &Client{
		api:       api,
		accountID: accountID,
		regions:   make(map[string]API),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRegion 环境默认区域（AWS_REGION、共享配置文件等）
func DefaultRegion(ctx context.Context) (string, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config failed: %w", err)
	}
	return cfg.Region, nil
}

// ResolveQueueURL 按默认区域和账号解析队列地址
func (c *Client) ResolveQueueURL(ctx context.Context, name string) (string, error) {
	return c.ResolveQueueURLAt(ctx, name, framework.Location{})
}

// ResolveQueueURLAt 解析指定区域/账号下的队列地址，AccountID 作为 QueueOwnerAWSAccountId 传递
func (c *Client) ResolveQueueURLAt(ctx context.Context, name string, loc framework.Location) (string, error) {
	api, err := c.regionAPI(ctx, loc.Region)
	if err != nil {
		return "", err
	}

	in := &sqs.GetQueueUrlInput{QueueName: aws.String(name)}
	owner := loc.AccountID
	if owner == "" {
		owner = c.accountID
	}
	if owner != "" {
		in.QueueOwnerAWSAccountId = aws.String(owner)
	}

	out, err := api.GetQueueUrl(ctx, in)
	if err != nil {
		return "", fmt.Errorf("sqs get queue url %s failed: %w", name, err)
	}

	url := aws.ToString(out.QueueUrl)
	if api != c.api {
		c.routes.Store(url, api)
	}
	return url, nil
}

// regionAPI 区域对应的客户端，默认区域复用主客户端
func (c *Client) regionAPI(ctx context.Context, region string) (API, error) {
	if region == "" || region == c.region {
		return c.api, nil
	}
	if c.factory == nil {
		return nil, fmt.Errorf("sqs region %s is not configured (default region %q)", region, c.region)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if api, ok := c.regions[region]; ok {
		return api, nil
	}
	api, err := c.factory(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("create sqs client for %s: %w", region, err)
	}
	c.regions[region] = api
	return api, nil
}

// apiFor 地址所属区域的客户端
func (c *Client) apiFor(url string) API {
	if api, ok := c.routes.Load(url); ok {
		return api.(API)
	}
	return c.api
}

// ReceiveMessages 长轮询拉取，返回系统属性和自定义属性
func (c *Client) ReceiveMessages(ctx context.Context, url string, maxBatch int, waitSeconds int) ([]*framework.Message, error) {
	out, err := c.apiFor(url).ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(url),
		MaxNumberOfMessages:         int32(clamp(maxBatch, 1, maxBatchSize)),
		WaitTimeSeconds:             int32(clamp(waitSeconds, 0, maxWaitTimeSeconds)),
		MessageAttributeNames:       []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameAll},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	msgs := make([]*framework.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, toMessage(m))
	}
	return msgs, nil
}

// DeleteMessage 删除消息
func (c *Client) DeleteMessage(ctx context.Context, url string, receiptHandle string) error {
	_, err := c.apiFor(url).DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// ChangeMessageVisibility 修改可见性超时
func (c *Client) ChangeMessageVisibility(ctx context.Context, url string, receiptHandle string, seconds int) error {
	_, err := c.apiFor(url).ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(seconds),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}

// SendMessage 发送消息，属性以 String 类型发送
func (c *Client) SendMessage(ctx context.Context, url string, body string, attributes map[string]string) error {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(body),
	}
	if len(attributes) > 0 {
		in.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attributes))
		for k, v := range attributes {
			in.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String(stringDataType),
				StringValue: aws.String(v),
			}
		}
	}

	if _, err := c.apiFor(url).SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}
	return nil
}

// CreateQueue 创建队列（已存在且属性一致时 SQS 直接返回地址）
func (c *Client) CreateQueue(ctx context.Context, name string, attributes map[string]string) (string, error) {
	out, err := c.api.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: attributes,
	})
	if err != nil {
		return "", fmt.Errorf("sqs create queue %s failed: %w", name, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

func toMessage(m types.Message) *framework.Message {
	msg := &framework.Message{
		ID:                aws.ToString(m.MessageId),
		ReceiptHandle:     aws.ToString(m.ReceiptHandle),
		Body:              aws.ToString(m.Body),
		Attributes:        make(map[string]string, len(m.Attributes)),
		MessageAttributes: make(map[string]string, len(m.MessageAttributes)),
	}
	for k, v := range m.Attributes {
		msg.Attributes[k] = v
	}
	for k, v := range m.MessageAttributes {
		// 二进制属性没有字符串表示，跳过
		if v.StringValue != nil {
			msg.MessageAttributes[k] = aws.ToString(v.StringValue)
		}
	}
	if n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		msg.ReceiveCount = n
	}
	return msg
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	_ framework.Transport        = (*Client)(nil)
	_ framework.QueueLocator     = (*Client)(nil)
	_ framework.QueueProvisioner = (*Client)(nil)
)
