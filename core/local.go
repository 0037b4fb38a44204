package core

import (
	"context"
	"sync"
)

// localStore holds task-local values. Slots are released when the task
// reaches a terminal state.
type localStore struct {
	mu    sync.Mutex
	slots map[TaskID]map[any]any
}

func newLocalStore() *localStore {
	return &localStore{slots: make(map[TaskID]map[any]any)}
}

func (l *localStore) set(id TaskID, key, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.slots[id]
	if !ok {
		m = make(map[any]any)
		l.slots[id] = m
	}
	m[key] = value
}

func (l *localStore) get(id TaskID, key any) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.slots[id][key]
	return v, ok
}

func (l *localStore) clear(id TaskID) {
	l.mu.Lock()
	delete(l.slots, id)
	l.mu.Unlock()
}

func (l *localStore) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// SetLocal stores a value private to the current task. It returns false
// outside a task.
func SetLocal(ctx context.Context, key, value any) bool {
	t := taskFromContext(ctx)
	if t == nil {
		return false
	}
	t.s.locals.set(t.id, key, value)
	return true
}

// Local returns a value stored with SetLocal by the current task.
func Local(ctx context.Context, key any) (any, bool) {
	t := taskFromContext(ctx)
	if t == nil {
		return nil, false
	}
	return t.s.locals.get(t.id, key)
}
