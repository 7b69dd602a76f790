package fscrypt

import (
	"sync"
)

// lockTable hands out exclusive per-object locks by key
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*objectLock
}

type objectLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until the object lock for key is held and returns its release
// function. Entries are dropped once no caller references them.
func (t *lockTable) lock(key string) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*objectLock)
	}
	l, ok := t.locks[key]
	if !ok {
		l = &objectLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

// writeGuard counts writers on a volume, like a mount write reference
type writeGuard struct {
	mu       sync.Mutex
	readOnly bool
	writers  int
}

// acquire takes a write reference; the returned release must be called
// exactly once
func (g *writeGuard) acquire() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readOnly {
		return nil, ErrReadOnly
	}
	g.writers++

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.writers--
			g.mu.Unlock()
		})
	}, nil
}

// setReadOnly switches the volume mode; going read-only fails while writers
// are active
func (g *writeGuard) setReadOnly(ro bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ro && g.writers > 0 {
		return ErrBusy
	}
	g.readOnly = ro
	return nil
}
