package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// FlagStore 基于 Redis 的动态开关
// JSON 开关存为字符串键 <prefix><flag>；按队列的整数开关存为哈希 <prefix><flag>，field 为队列名
type FlagStore struct {
	client redis.UniversalClient
	prefix string
}

// NewFlagStore 创建 FlagStore 并检查连接
func NewFlagStore(ctx context.Context, addr, password string, db int, prefix string) (*FlagStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFlagStoreFromClient(client, prefix), nil
}

// NewFlagStoreFromClient 使用已有客户端
func NewFlagStoreFromClient(client redis.UniversalClient, prefix string) *FlagStore {
	return &FlagStore{client: client, prefix: prefix}
}

// GetJSONString 开关不存在时返回空字符串
func (s *FlagStore) GetJSONString(ctx context.Context, flag string) (string, error) {
	v, err := s.client.Get(ctx, s.prefix+flag).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get flag %s failed: %w", flag, err)
	}
	return v, nil
}

// GetInt 开关或队列不存在时返回 0
func (s *FlagStore) GetInt(ctx context.Context, flag string, queue string) (int, error) {
	v, err := s.client.HGet(ctx, s.prefix+flag, queue).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis hget flag %s/%s failed: %w", flag, queue, err)
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("flag %s/%s is not an integer: %q", flag, queue, v)
	}
	return n, nil
}

// SetJSONString 写入 JSON 开关（运维工具和测试使用）
func (s *FlagStore) SetJSONString(ctx context.Context, flag string, value string) error {
	return s.client.Set(ctx, s.prefix+flag, value, 0).Err()
}

// SetInt 写入按队列的整数开关
func (s *FlagStore) SetInt(ctx context.Context, flag string, queue string, value int) error {
	return s.client.HSet(ctx, s.prefix+flag, queue, value).Err()
}

// Close 关闭 Redis 连接
func (s *FlagStore) Close() error {
	return s.client.Close()
}
