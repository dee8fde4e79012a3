package framework

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"oip/dpjob/pkg/errorutil"
)

// Resolver 队列名 → 地址缓存
// 同一个 (名字, 区域, 账号) 并发解析只会触发一次传输调用，结果在进程生命周期内不失效
type Resolver struct {
	transport Transport
	cache     sync.Map // key -> url
	group     singleflight.Group
}

// NewResolver 创建 Resolver
func NewResolver(transport Transport) *Resolver {
	return &Resolver{transport: transport}
}

// Resolve 按传输默认区域和账号返回队列地址
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	return r.ResolveAt(ctx, name, Location{})
}

// ResolveAt 返回指定区域/账号下的队列地址
func (r *Resolver) ResolveAt(ctx context.Context, name string, loc Location) (string, error) {
	key := cacheKey(name, loc)
	if url, ok := r.cache.Load(key); ok {
		return url.(string), nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// 上一轮 Do 可能已经写入缓存
		if url, ok := r.cache.Load(key); ok {
			return url, nil
		}

		url, err := r.lookup(ctx, name, loc)
		if err != nil {
			return nil, fmt.Errorf("resolve queue %s: %w", key, errorutil.Transport("ResolveQueueURL", err))
		}

		r.cache.Store(key, url)
		return url, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (r *Resolver) lookup(ctx context.Context, name string, loc Location) (string, error) {
	if locator, ok := r.transport.(QueueLocator); ok && !loc.IsZero() {
		return locator.ResolveQueueURLAt(ctx, name, loc)
	}
	return r.transport.ResolveQueueURL(ctx, name)
}

// cacheKey name 或 name@region/account
func cacheKey(name string, loc Location) string {
	if loc.IsZero() {
		return name
	}
	return name + "@" + loc.Region + "/" + loc.AccountID
}
