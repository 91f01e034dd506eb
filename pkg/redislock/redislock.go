package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrTimeout 在 WaitTimeout 內沒有取得鎖
var ErrTimeout = errors.New("redislock: wait timeout")

// 只有持有 token 的人才能刪除 key，避免過期後誤刪別人的鎖
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// 只有持有 token 的人才能延長存活時間
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Config 分散式鎖設定
type Config struct {
	// key 前綴，預設 "ledger:lock"
	Prefix string
	// 鎖的存活時間，持有者當機時自動釋放；持有期間每 TTL/3 續期一次
	TTL time.Duration
	// 最長等待時間
	WaitTimeout time.Duration
	// 輪詢間隔
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	c.Prefix = strings.TrimSuffix(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = "ledger:lock"
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 3 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 20 * time.Millisecond
	}
	return c
}

// Locker 以 Redis SET NX PX 實作的 per-key 分散式鎖
// 多個 core 實例共用同一個 MySQL 時用來序列化同一帳戶的變更。
type Locker struct {
	client   redis.UniversalClient
	cfg      Config
	newToken func() string
}

func New(client redis.UniversalClient, cfg Config) *Locker {
	return &Locker{
		client:   client,
		cfg:      cfg.withDefaults(),
		newToken: uuid.NewString,
	}
}

// Key 回傳帳戶對應的 redis key
func (l *Locker) Key(accountID string) string {
	return fmt.Sprintf("%s:account:%s", l.cfg.Prefix, accountID)
}

// Lock 取得帳戶鎖，等待超過 WaitTimeout 或 ctx 結束時回傳錯誤
//
// 參數:
//
//	ctx: 上下文
//	accountID: 帳戶 ID
//
// 回傳:
//
//	func(): 釋放鎖
//	error: ErrTimeout / ctx 錯誤 / redis 錯誤
func (l *Locker) Lock(ctx context.Context, accountID string) (func(), error) {
	key := l.Key(accountID)
	token := l.newToken()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, l.waitErr(ctx)
			}
			return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
		}
		if ok {
			done := make(chan struct{})
			go l.keepAlive(key, token, done)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(done)
					l.release(key, token)
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, l.waitErr(ctx)
		case <-ticker.C:
		}
	}
}

func (l *Locker) waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// keepAlive 持有期間定期續期，直到 done 關閉或鎖已不屬於自己
func (l *Locker) keepAlive(key, token string, done <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if ok, err := l.renew(key, token); err != nil || !ok {
				return
			}
		}
	}
}

// renew 延長鎖的存活時間，回傳 false 表示鎖已過期或被他人持有
func (l *Locker) renew(key, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL/3)
	defer cancel()
	n, err := l.client.Eval(ctx, renewScript, []string{key}, token, l.cfg.TTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// release 釋放鎖；失敗時等 TTL 到期自動釋放
func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WaitTimeout)
	defer cancel()
	_ = l.client.Eval(ctx, releaseScript, []string{key}, token).Err()
}
