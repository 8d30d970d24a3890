package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockFailsWhileHeld(t *testing.T) {
	s := New()
	unlock := s.Lock("conv-1")

	_, ok := s.TryLock("conv-1")
	assert.False(t, ok, "expected TryLock to fail while key is held")

	other, ok := s.TryLock("conv-2")
	require.True(t, ok, "unrelated keys must not block")
	other()

	unlock()
	again, ok := s.TryLock("conv-1")
	require.True(t, ok)
	again()
	assert.Equal(t, 0, s.Len(), "released keys should be dropped")
}

func TestLockSerializesSameKey(t *testing.T) {
	var s Set
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("approval-7")
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, s.Len())
}

func TestUnlockIsIdempotent(t *testing.T) {
	s := New()
	unlock := s.Lock("k")
	unlock()
	unlock()
	assert.Equal(t, 0, s.Len())
}
