package consumer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PManghan91/boardroom/internal/domain"
)

func TestSingleWriterUnderConcurrentClaims(t *testing.T) {
	table := NewClaimTable(clock.NewMock(), 0)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		refused int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := table.Acquire("demo", id, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if assert.ErrorIs(t, err, domain.ErrAlreadyClaimed) {
				refused++
			}
		}(fmt.Sprintf("w%d", i))
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, workers-1, refused)
	assert.Equal(t, 1, table.Len())
}

func TestWorkerHoldsOneRoomAtATime(t *testing.T) {
	table := NewClaimTable(clock.NewMock(), 0)
	_, err := table.Acquire("a", "w1", time.Minute)
	require.NoError(t, err)

	_, err = table.Acquire("b", "w1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrWorkerBusy)
	_, err = table.Acquire("a", "w1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrWorkerBusy)
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	clk := clock.NewMock()
	table := NewClaimTable(clk, 0)

	old, err := table.Acquire("demo", "w1", 30*time.Second)
	require.NoError(t, err)

	clk.Add(10 * time.Second)
	old, err = table.Renew(old, 30*time.Second)
	require.NoError(t, err)

	clk.Add(29 * time.Second)
	require.NoError(t, table.Validate(old))

	clk.Add(time.Second)
	next, err := table.Acquire("demo", "w2", 30*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, old.Token, next.Token)

	assert.ErrorIs(t, table.Validate(old), domain.ErrLeaseLost)
	_, err = table.Renew(old, time.Minute)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
	assert.False(t, table.Release(old))
	assert.NoError(t, table.Validate(next))

	// w1 is free again after losing its lease.
	_, err = table.Acquire("other", "w1", time.Minute)
	assert.NoError(t, err)
}

func TestClaimTableCapacity(t *testing.T) {
	table := NewClaimTable(clock.NewMock(), 2)
	_, err := table.Acquire("a", "w1", time.Minute)
	require.NoError(t, err)
	b, err := table.Acquire("b", "w2", time.Minute)
	require.NoError(t, err)

	_, err = table.Acquire("c", "w3", time.Minute)
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)

	require.True(t, table.Release(b))
	_, err = table.Acquire("c", "w3", time.Minute)
	assert.NoError(t, err)
}
