// Package cache 带 TTL 的单槽缓存与跨进程快照镜像
package cache

import (
	"sync/atomic"
	"time"
)

// Entry 缓存条目，写入后不可修改
type Entry[T any] struct {
	Value    T
	StoredAt time.Time
	TTL      time.Duration
}

// IsStale 是否已过期，TTL<=0 视为永不过期
func (e *Entry[T]) IsStale(now time.Time) bool {
	if e == nil {
		return true
	}
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.StoredAt) >= e.TTL
}

// Age 条目年龄
func (e *Entry[T]) Age(now time.Time) time.Duration {
	if e == nil {
		return 0
	}
	return now.Sub(e.StoredAt)
}

// Slot 单槽缓存，读写通过原子指针交换，读者永远看不到半写入的值
type Slot[T any] struct {
	ttl time.Duration
	ptr atomic.Pointer[Entry[T]]
}

// NewSlot 创建单槽缓存
func NewSlot[T any](ttl time.Duration) *Slot[T] {
	return &Slot[T]{ttl: ttl}
}

// TTL 过期时间
func (s *Slot[T]) TTL() time.Duration { return s.ttl }

// Store 整体替换缓存值
func (s *Slot[T]) Store(value T, now time.Time) *Entry[T] {
	e := &Entry[T]{Value: value, StoredAt: now, TTL: s.ttl}
	s.ptr.Store(e)
	return e
}

// Load 读取当前条目（可能为 nil 或已过期）
func (s *Slot[T]) Load() *Entry[T] {
	return s.ptr.Load()
}

// Fresh 读取未过期的值
func (s *Slot[T]) Fresh(now time.Time) (T, bool) {
	e := s.ptr.Load()
	if e.IsStale(now) {
		var zero T
		return zero, false
	}
	return e.Value, true
}

// Invalidate 清空缓存
func (s *Slot[T]) Invalidate() {
	s.ptr.Store(nil)
}
