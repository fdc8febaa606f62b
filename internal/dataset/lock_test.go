package dataset

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedLock_SerializesWriters(t *testing.T) {
	locks := NewKeyedLock()
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("a/content/p/dataset.db")
			defer unlock()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("expected one writer at a time, saw %d", maxActive)
	}
}

func TestKeyedLock_IndependentKeysDoNotBlock(t *testing.T) {
	locks := NewKeyedLock()
	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}
	unlockA()
}

func TestKeyedLock_ReadersShareWritersExclude(t *testing.T) {
	locks := NewKeyedLock()
	r1 := locks.RLock("k")
	r2 := locks.RLock("k")

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("k")
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired lock while readers held it")
	case <-time.After(50 * time.Millisecond):
	}

	r1()
	r2()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired lock after readers released")
	}
}

func TestKeyedLock_EntriesAreReclaimed(t *testing.T) {
	locks := NewKeyedLock()
	for i := 0; i < 100; i++ {
		unlock := locks.Lock("transient")
		unlock()
	}
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.entries) != 0 {
		t.Fatalf("expected no retained entries, got %d", len(locks.entries))
	}
}
