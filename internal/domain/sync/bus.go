package sync

import (
	gosync "sync"
)

// Topic типизированная тема шины. Тип T определяет полезную нагрузку
// всех событий темы.
type Topic[T any] struct {
	name string
}

// NewTopic создает тему с именем name.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name возвращает имя темы.
func (t Topic[T]) Name() string {
	return t.name
}

// Bus шина событий процесса терминала. Подписчики вызываются синхронно
// в горутине публикующего, вне блокировки шины.
type Bus struct {
	mu     gosync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(any)
}

// NewBus создает пустую шину.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[uint64]func(any)),
	}
}

// Subscribe подписывает fn на тему и возвращает функцию отписки.
// Повторный вызов функции отписки ничего не делает.
func Subscribe[T any](b *Bus, topic Topic[T], fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic.name] == nil {
		b.subs[topic.name] = make(map[uint64]func(any))
	}
	b.subs[topic.name][id] = func(v any) {
		fn(v.(T))
	}
	b.mu.Unlock()

	var once gosync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic.name], id)
			if len(b.subs[topic.name]) == 0 {
				delete(b.subs, topic.name)
			}
		})
	}
}

// Publish доставляет v всем подписчикам темы.
func Publish[T any](b *Bus, topic Topic[T], v T) {
	b.mu.RLock()
	handlers := make([]func(any), 0, len(b.subs[topic.name]))
	for _, h := range b.subs[topic.name] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(v)
	}
}

// Subscribers возвращает число подписчиков темы.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
