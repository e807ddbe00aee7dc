package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// CrawlLockKey 防止多个实例同时执行一轮抓取
	CrawlLockKey   = "lock:crawl-hotlist"
	DefaultLockTTL = 120 * time.Second
)

var ErrLockNotHeld = errors.New("lock not held")

// 只有持有者（token 相同）才能释放或续期
var (
	unlockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock 是基于 Redis SET NX 的咨询锁；每个实例持有独立 token，
// 锁过期后即使旧持有者还在运行，也不会误删新持有者的锁。
type DistributedLock struct {
	kv    *RedisKV
	key   string
	token string
	ttl   time.Duration
}

func NewDistributedLock(kv *RedisKV, key string, ttl time.Duration) *DistributedLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &DistributedLock{
		kv:    kv,
		key:   key,
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// TTL 是加锁和每次续期时设置的有效期
func (l *DistributedLock) TTL() time.Duration { return l.ttl }

// TryLock 不阻塞，返回是否拿到锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.kv.SetIfAbsent(ctx, l.key, []byte(l.token), l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.kv.Client(), []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend 把锁的有效期重置为 TTL；锁已过期或被他人持有时返回 ErrLockNotHeld
func (l *DistributedLock) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.kv.Client(), []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
