package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarkHandled_FirstCallerWins(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(2 * time.Minute)

	assert.True(t, reg.MarkHandled("corr-1"))
	assert.False(t, reg.MarkHandled("corr-1"))
	assert.False(t, reg.MarkHandled("corr-1"))

	// Distinct ids are independent.
	assert.True(t, reg.MarkHandled("corr-2"))
	assert.Equal(t, 2, reg.Len())
}

func TestMarkHandled_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := NewRegistry(2 * time.Minute)
	reg.Now = func() time.Time { return now }

	assert.True(t, reg.MarkHandled("corr-1"))

	now = now.Add(time.Minute)
	assert.False(t, reg.MarkHandled("corr-1"))

	// Past the TTL the id is forgotten and may be handled again.
	now = now.Add(90 * time.Second)
	assert.True(t, reg.MarkHandled("corr-1"))
}

func TestMarkHandled_PrunesOldEntries(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := NewRegistry(time.Minute)
	reg.Now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		reg.MarkHandled(fmt.Sprintf("corr-%d", i))
	}
	assert.Equal(t, 100, reg.Len())

	now = now.Add(2 * time.Minute)
	reg.MarkHandled("fresh")
	assert.Equal(t, 1, reg.Len())
}

func TestMarkHandled_ConcurrentCallersSeeOneWinner(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Minute)

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.MarkHandled("shared") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
