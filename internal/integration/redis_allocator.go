package integration

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/mautops/record-gin/pkg/numbering"
)

// redisSequenceAllocator 基于 Redis INCR 的编号计数器,适合多实例部署
type redisSequenceAllocator struct {
	client redis.Cmdable
	prefix string
}

// NewRedisSequenceAllocator 创建 Redis 编号计数器
func NewRedisSequenceAllocator(client redis.Cmdable, prefix string) numbering.Allocator {
	if prefix == "" {
		prefix = "record-gin"
	}
	return &redisSequenceAllocator{client: client, prefix: prefix}
}

// Next 原子递增并返回 (templateID, period) 的新值
func (a *redisSequenceAllocator) Next(ctx context.Context, templateID, period string) (int64, error) {
	value, err := a.client.Incr(ctx, a.key(templateID, period)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}
	return value, nil
}

func (a *redisSequenceAllocator) key(templateID, period string) string {
	if period == "" {
		return fmt.Sprintf("%s:seq:%s", a.prefix, templateID)
	}
	return fmt.Sprintf("%s:seq:%s:%s", a.prefix, templateID, period)
}
