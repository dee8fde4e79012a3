// Package transport 按配置创建队列传输并初始化队列
package transport

import (
	"context"
	"fmt"
	"strconv"

	"oip/dpjob/internal/framework"
	"oip/dpjob/pkg/config"
	"oip/dpjob/pkg/lmstfy"
	"oip/dpjob/pkg/memqueue"
	"oip/dpjob/pkg/sqs"
)

// Open 根据 transport.kind 创建传输
func Open(ctx context.Context, cfg config.TransportConfig) (framework.Transport, error) {
	switch cfg.Kind {
	case "sqs":
		c, err := sqs.New(ctx, sqs.Options{
			Region:    cfg.SQS.Region,
			Endpoint:  cfg.SQS.Endpoint,
			AccountID: cfg.SQS.AccountID,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "lmstfy":
		return lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
	case "memory":
		return memqueue.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// Provision 为每个队列创建主队列、_retryq 和 _dlq
// 传输不支持创建队列时直接返回
func Provision(ctx context.Context, t framework.Transport, queues []string, visibilityTimeout int) ([]string, error) {
	p, ok := t.(framework.QueueProvisioner)
	if !ok {
		return nil, nil
	}

	attrs := map[string]string{}
	if visibilityTimeout > 0 {
		attrs["VisibilityTimeout"] = strconv.Itoa(visibilityTimeout)
	}

	created := make([]string, 0, len(queues)*3)
	for _, q := range queues {
		for _, name := range []string{q, framework.RetryQueueName(q), framework.DeadLetterQueueName(q)} {
			if _, err := p.CreateQueue(ctx, name, attrs); err != nil {
				return created, fmt.Errorf("create queue %s: %w", name, err)
			}
			created = append(created, name)
		}
	}
	return created, nil
}
