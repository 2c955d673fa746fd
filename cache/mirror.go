package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound 镜像中没有数据
var ErrNotFound = errors.New("cache: not found")

// Mirror 跨进程快照镜像接口
type Mirror interface {
	// Publish 写入最新值，ttl 到期后自动失效
	Publish(ctx context.Context, key string, value any, ttl time.Duration) error

	// Fetch 读取并解码到 dst，无数据时返回 ErrNotFound
	Fetch(ctx context.Context, key string, dst any) error

	// Close 关闭连接
	Close() error
}

// NopMirror 空实现（单进程模式）
type NopMirror struct{}

func NewNopMirror() *NopMirror {
	return &NopMirror{}
}

func (n *NopMirror) Publish(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}

func (n *NopMirror) Fetch(ctx context.Context, key string, dst any) error {
	return ErrNotFound
}

func (n *NopMirror) Close() error {
	return nil
}

// RedisMirror Redis 快照镜像，值以 JSON 存储
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// NewRedisMirror 创建 Redis 镜像
func NewRedisMirror(client *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix}
}

// Publish 写入 JSON 值
func (r *RedisMirror) Publish(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Fetch 读取 JSON 值
func (r *RedisMirror) Fetch(ctx context.Context, key string, dst any) error {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Close 关闭连接
func (r *RedisMirror) Close() error {
	return r.client.Close()
}

// Ping 检查连接
func (r *RedisMirror) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
