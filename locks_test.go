package fscrypt

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockTable_Exclusive(t *testing.T) {
	var table lockTable
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := table.lock("/d")
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("max holders = %d, want 1", maxInside.Load())
	}
	if len(table.locks) != 0 {
		t.Errorf("lock table holds %d entries after release", len(table.locks))
	}
}

func TestLockTable_IndependentKeys(t *testing.T) {
	var table lockTable
	unlockA := table.lock("/a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := table.lock("/b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock on a different key should not block")
	}
}

func TestWriteGuard(t *testing.T) {
	var g writeGuard

	release, err := g.acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := g.setReadOnly(true); !errors.Is(err, ErrBusy) {
		t.Errorf("setReadOnly with writer error = %v, want ErrBusy", err)
	}

	release()
	release() // second release is a no-op
	if g.writers != 0 {
		t.Errorf("writers = %d, want 0", g.writers)
	}

	if err := g.setReadOnly(true); err != nil {
		t.Fatalf("setReadOnly failed: %v", err)
	}
	if _, err := g.acquire(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("acquire on read-only error = %v, want ErrReadOnly", err)
	}
	if err := g.setReadOnly(false); err != nil {
		t.Fatalf("setReadOnly(false) failed: %v", err)
	}
	if _, err := g.acquire(); err != nil {
		t.Errorf("acquire after remount failed: %v", err)
	}
}

func TestInfoCache(t *testing.T) {
	c := NewInfoCache()
	first := &CryptInfo{ContentsMode: ModeAES256XTS}
	second := &CryptInfo{ContentsMode: ModePrivate}

	if got := c.LoadOrStore(1, first); got != first {
		t.Error("LoadOrStore should store the first entry")
	}
	if got := c.LoadOrStore(1, second); got != first {
		t.Error("LoadOrStore should keep the existing entry")
	}
	if c.Get(1) != first || c.Len() != 1 {
		t.Errorf("Get(1) = %v, Len() = %d", c.Get(1), c.Len())
	}

	c.Evict(1)
	if c.Get(1) != nil || c.Len() != 0 {
		t.Error("Evict should drop the entry")
	}
}

func TestInfoCache_ConcurrentResolve(t *testing.T) {
	env := setupTestVolume(t, nil)
	env.encryptedDir(t, "/d", testPolicy())
	sub, err := env.vol.Mkdir("/d/sub", 0755)
	if err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	var wg sync.WaitGroup
	infos := make([]*CryptInfo, 16)
	for i := range infos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ci, err := env.vol.CryptInfo(sub)
			if err != nil {
				t.Errorf("CryptInfo failed: %v", err)
			}
			infos[i] = ci
		}(i)
	}
	wg.Wait()

	for i, ci := range infos {
		if ci != infos[0] {
			t.Errorf("resolver %d got a different entry", i)
		}
	}
}
