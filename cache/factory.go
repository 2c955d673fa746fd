package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// MirrorConfig 镜像配置
type MirrorConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Type     string `yaml:"type" json:"type"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// NewMirror 根据配置创建镜像
// 未启用时返回 NopMirror
func NewMirror(cfg MirrorConfig) (Mirror, error) {
	if !cfg.Enabled {
		return NewNopMirror(), nil
	}

	switch cfg.Type {
	case "", "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		})
		return NewRedisMirror(client, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported mirror type: %s", cfg.Type)
	}
}
