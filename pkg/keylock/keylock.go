package keylock

import (
	"context"
	"sync"
)

// Map 提供以 key 區分的互斥鎖
// 不同 key 之間不會互相等待；沒有人持有或等待的 key 會被回收。
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	// 容量 1 的 channel 當作可取消的 mutex
	sem  chan struct{}
	refs int
}

func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock 取得 key 的鎖，ctx 結束時放棄等待
//
// 參數:
//
//	ctx: 上下文 (控制最長等待時間)
//	key: 鎖的 key (帳戶 ID)
//
// 回傳:
//
//	func(): 釋放鎖，只能呼叫一次
//	error: ctx 的錯誤
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	e := m.acquire(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.release(key, e)
		})
	}, nil
}

// Len 目前仍被追蹤的 key 數量
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
