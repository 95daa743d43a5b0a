package nmutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameName(t *testing.T) {
	ns := New()
	var counter int
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ns.Lock("k")
			defer ns.Unlock("k")
			cur := counter
			time.Sleep(time.Microsecond)
			counter = cur + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, ns.Len())
}

func TestDifferentNamesDontBlock(t *testing.T) {
	ns := New()
	done := make(chan struct{})
	ns.Lock("a")
	go func() {
		ns.Lock("b")
		ns.Unlock("b")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on different name blocked")
	}
	ns.Unlock("a")
}

func TestCloseRequiresEmpty(t *testing.T) {
	ns := New()
	ns.Lock("k")
	assert.Panics(t, func() { ns.Close() })
	ns.Unlock("k")
	assert.NotPanics(t, func() { ns.Close() })
}
