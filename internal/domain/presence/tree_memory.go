package presence

import (
	"context"
	"sync"
)

type memoryTree struct {
	mu       sync.Mutex
	values   map[string][]byte
	watchers map[string]map[uint64]func([]byte)
	nextID   uint64
}

// NewMemoryTree returns a process-local tree.
func NewMemoryTree() Tree {
	return &memoryTree{
		values:   make(map[string][]byte),
		watchers: make(map[string]map[uint64]func([]byte)),
	}
}

func (t *memoryTree) Get(_ context.Context, path string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.values[path]), nil
}

func (t *memoryTree) Set(_ context.Context, path string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[path] = clone(value)
	for _, fn := range t.watchers[path] {
		fn(clone(value))
	}
	return nil
}

func (t *memoryTree) Watch(_ context.Context, path string, fn func([]byte)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	if t.watchers[path] == nil {
		t.watchers[path] = make(map[uint64]func([]byte))
	}
	t.watchers[path][id] = fn
	fn(clone(t.values[path]))

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers[path], id)
			if len(t.watchers[path]) == 0 {
				delete(t.watchers, path)
			}
			t.mu.Unlock()
		})
	}, nil
}

func (t *memoryTree) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
