// Package cache 实现两级缓存：L1 进程内存，L2 持久化（Redis 或本地文件）
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/metrics"
)

const (
	DefaultTTL           = 2 * time.Minute
	DefaultMaxMemorySize = 100
	// 调用方不传 ttl 时，L2 的有效期为 DefaultTTL 的 15 倍
	DefaultPersistentFactor = 15
)

// Backend 是 L2 持久层。Get 未命中时返回 ok=false 且 err=nil。
type Backend interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	// Set 中的 expire 只是给后端的回收提示，过期判断始终以 envelope 中的时间戳为准
	Set(ctx context.Context, key string, data []byte, expire time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type Options struct {
	DefaultTTL       time.Duration
	MaxMemorySize    int
	PersistentFactor int
	Now              func() time.Time
	Logger           *zap.Logger
}

// SetOptions 对应写入参数；Persistent 为 nil 时默认写入 L2
type SetOptions struct {
	TTL        time.Duration
	Persistent *bool
}

// Ephemeral 只写 L1 的写入参数，进程重启后即丢失
func Ephemeral(ttl time.Duration) SetOptions {
	f := false
	return SetOptions{TTL: ttl, Persistent: &f}
}

type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Sets       int64   `json:"sets"`
	HitRate    float64 `json:"hitRate"`
	MemorySize int     `json:"memorySize"`
}

type entry[T any] struct {
	key       string
	value     T
	writtenAt time.Time
}

// envelope 是写入 L2 的格式
type envelope[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// Store 是两级缓存。L1 容量固定，满了之后按写入顺序淘汰最早写入的 key（FIFO），
// 不按访问频率；L2 作为持久兜底，过期条目在读取时才删除。
type Store[T any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	backend Backend

	defaultTTL       time.Duration
	maxMemorySize    int
	persistentFactor int
	now              func() time.Time
	logger           *zap.Logger

	hits, misses, sets int64
}

// New 创建缓存；backend 为 nil 时只有内存层
func New[T any](backend Backend, opts Options) *Store[T] {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.MaxMemorySize <= 0 {
		opts.MaxMemorySize = DefaultMaxMemorySize
	}
	if opts.PersistentFactor <= 0 {
		opts.PersistentFactor = DefaultPersistentFactor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store[T]{
		items:            make(map[string]*list.Element),
		order:            list.New(),
		backend:          backend,
		defaultTTL:       opts.DefaultTTL,
		maxMemorySize:    opts.MaxMemorySize,
		persistentFactor: opts.PersistentFactor,
		now:              opts.Now,
		logger:           logging.OrNop(opts.Logger),
	}
}

// Get 先查 L1 再查 L2，两层都以 age < ttl 判定命中，L2 命中后回写 L1。
// ttl<=0 时 L1 用 DefaultTTL，L2 用 DefaultTTL×factor。
// 未命中返回 ok=false，从不返回错误。
func (s *Store[T]) Get(ctx context.Context, key string, ttl time.Duration) (T, bool) {
	memTTL, persistTTL := ttl, ttl
	if ttl <= 0 {
		memTTL = s.defaultTTL
		persistTTL = s.defaultTTL * time.Duration(s.persistentFactor)
	}
	if v, ok := s.getFromMemory(key, memTTL); ok {
		s.count(&s.hits)
		metrics.ObserveCache("memory", "hit")
		s.logger.Debug("cache memory hit", zap.String("key", key))
		return v, true
	}
	metrics.ObserveCache("memory", "miss")

	if s.backend != nil {
		if v, writtenAt, ok := s.getFromBackend(ctx, key, persistTTL); ok {
			s.count(&s.hits)
			metrics.ObserveCache("persistent", "hit")
			s.logger.Debug("cache persistent hit", zap.String("key", key))
			// 回写时保留原写入时间，不延长有效期
			s.setToMemory(key, v, writtenAt)
			return v, true
		}
		metrics.ObserveCache("persistent", "miss")
	}

	s.count(&s.misses)
	var zero T
	return zero, false
}

// Set 总是写 L1；除非显式关闭持久化，否则同时写 L2。
// L2 写入失败时 L1 仍然生效，错误返回给调用方记录。
func (s *Store[T]) Set(ctx context.Context, key string, value T, opts SetOptions) error {
	s.count(&s.sets)
	now := s.now()
	s.setToMemory(key, value, now)

	if s.backend == nil || (opts.Persistent != nil && !*opts.Persistent) {
		return nil
	}
	expire := opts.TTL
	if expire <= 0 {
		expire = s.defaultTTL * time.Duration(s.persistentFactor)
	}
	data, err := json.Marshal(envelope[T]{Data: value, Timestamp: now.UnixMilli()})
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := s.backend.Set(ctx, key, data, expire); err != nil {
		return fmt.Errorf("cache: persist %s: %w", key, err)
	}
	return nil
}

// Clear 从两级缓存中删除一个 key
func (s *Store[T]) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	if el, ok := s.items[key]; ok {
		s.order.Remove(el)
		delete(s.items, key)
	}
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// ClearAll 清空两级缓存
func (s *Store[T]) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	s.items = make(map[string]*list.Element)
	s.order.Init()
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

func (s *Store[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Hits:       s.hits,
		Misses:     s.misses,
		Sets:       s.sets,
		MemorySize: len(s.items),
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total) * 100
	}
	return st
}

func (s *Store[T]) getFromMemory(key string, ttl time.Duration) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	el, ok := s.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[T])
	if s.now().Sub(e.writtenAt) >= ttl {
		s.order.Remove(el)
		delete(s.items, key)
		return zero, false
	}
	return e.value, true
}

// setToMemory 重复写入同一个 key 视为重新准入，移到队尾
func (s *Store[T]) setToMemory(key string, value T, writtenAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.order.Remove(el)
		delete(s.items, key)
	}
	for len(s.items) >= s.maxMemorySize {
		oldest := s.order.Front()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*entry[T]).key)
	}
	s.items[key] = s.order.PushBack(&entry[T]{key: key, value: value, writtenAt: writtenAt})
}

// getFromBackend 读取失败或内容损坏都当作未命中，只记日志
func (s *Store[T]) getFromBackend(ctx context.Context, key string, ttl time.Duration) (T, time.Time, bool) {
	var zero T
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache persistent read failed", zap.String("key", key), zap.Error(err))
		return zero, time.Time{}, false
	}
	if !ok {
		return zero, time.Time{}, false
	}
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil || env.Timestamp == 0 {
		s.logger.Warn("cache persistent entry unreadable, treating as miss", zap.String("key", key), zap.Error(err))
		return zero, time.Time{}, false
	}
	writtenAt := time.UnixMilli(env.Timestamp)
	if s.now().Sub(writtenAt) >= ttl {
		if err := s.backend.Delete(ctx, key); err != nil {
			s.logger.Warn("cache stale entry delete failed", zap.String("key", key), zap.Error(err))
		}
		return zero, time.Time{}, false
	}
	return env.Data, writtenAt, true
}

func (s *Store[T]) count(c *int64) {
	s.mu.Lock()
	*c++
	s.mu.Unlock()
}
