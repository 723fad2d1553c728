package engine

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedLocksSerializeSameKey(t *testing.T) {
	locks := newKeyedLocks()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("tile")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("%d holders at once", maxSeen)
	}
	if n := locks.size(); n != 0 {
		t.Fatalf("%d entries left after release", n)
	}
}

func TestKeyedLocksReadersShare(t *testing.T) {
	locks := newKeyedLocks()
	first := locks.RLock("team")
	done := make(chan struct{})
	go func() {
		locks.RLock("team")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked")
	}
	first()
}

func TestLockAllOrdersAndDeduplicates(t *testing.T) {
	locks := newKeyedLocks()
	unlock := locks.LockAll("b", "a", "", "b")
	if n := locks.size(); n != 2 {
		t.Fatalf("holding %d keys, want 2", n)
	}
	done := make(chan struct{})
	go func() {
		locks.LockAll("a", "b")()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("second LockAll did not wait")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done
	if n := locks.size(); n != 0 {
		t.Fatalf("%d entries left", n)
	}
}
