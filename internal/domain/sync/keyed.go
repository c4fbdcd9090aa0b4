package sync

import (
	"context"
	gosync "sync"
)

// KeyedQueue сериализует операции над одной сущностью. Ожидающие
// получают доступ строго в порядке вызова Acquire, разные ключи
// друг друга не блокируют.
type KeyedQueue struct {
	mu      gosync.Mutex
	waiters map[string][]chan struct{}
}

// NewKeyedQueue создает пустую очередь.
func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{waiters: make(map[string][]chan struct{})}
}

// Acquire ждет своей очереди по ключу key. Возвращенную функцию нужно
// вызвать по завершении операции; повторный вызов ничего не делает.
func (q *KeyedQueue) Acquire(ctx context.Context, key string) (release func(), err error) {
	q.mu.Lock()
	ch := make(chan struct{})
	ahead := q.waiters[key]
	q.waiters[key] = append(ahead, ch)
	if len(ahead) == 0 {
		close(ch)
	}
	q.mu.Unlock()

	select {
	case <-ch:
		var once gosync.Once
		return func() { once.Do(func() { q.release(key) }) }, nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	select {
	case <-ch:
		// очередь дошла до нас одновременно с отменой
		q.mu.Unlock()
		q.release(key)
		return nil, ctx.Err()
	default:
	}
	list := q.waiters[key]
	for i, w := range list {
		if w == ch {
			q.waiters[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	return nil, ctx.Err()
}

// Waiting число операций по ключу, включая выполняющуюся.
func (q *KeyedQueue) Waiting(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters[key])
}

func (q *KeyedQueue) release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.waiters[key]
	if len(list) <= 1 {
		delete(q.waiters, key)
		return
	}
	list = list[1:]
	q.waiters[key] = list
	close(list[0])
}
