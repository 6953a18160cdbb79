package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockHeld 同步锁已被其他执行者持有
var ErrLockHeld = errors.New("sync already in progress")

// Locker 同步互斥锁
// TryLock 不阻塞；ok=false 表示锁被占用
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// Acquire 获取锁；被占用时返回 ErrLockHeld
func Acquire(ctx context.Context, l Locker) (func(), error) {
	release, ok, err := l.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return release, nil
}

// redisLockClient RedisLocker 依赖的 Redis 命令
type redisLockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// 只删除自己持有的锁
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker 基于 SET NX PX 的跨进程锁
type RedisLocker struct {
	client redisLockClient
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker 创建 Redis 锁；ttl 应大于单次同步的最长耗时
func NewRedisLocker(client redisLockClient, key string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{client: client, key: key, ttl: ttl, logger: logger}
}

var _ Locker = (*RedisLocker)(nil)

// TryLock 实现 Locker
func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		l.logger.Warn("Failed to acquire sync lock", zap.String("key", l.key), zap.Error(err))
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// 调用方 ctx 此时可能已取消
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release sync lock", zap.String("key", l.key), zap.Error(err))
			}
		})
	}
	return release, true, nil
}

// LocalLocker 进程内锁（未启用 Redis 时使用）
type LocalLocker struct {
	mu sync.Mutex
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

var _ Locker = (*LocalLocker)(nil)

// TryLock 实现 Locker
func (l *LocalLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, true, nil
}
