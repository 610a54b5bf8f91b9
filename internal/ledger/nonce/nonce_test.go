package nonce

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	pending uint64
}

func (s *stubReader) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return s.pending, nil
}

func TestLocal_SeedsFromPendingCount(t *testing.T) {
	alloc, err := NewLocal(context.Background(), &stubReader{pending: 7}, common.Address{})
	require.NoError(t, err)

	n, err := alloc.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
}

func TestLocal_ConcurrentAllocationsAreUnique(t *testing.T) {
	alloc, err := NewLocal(context.Background(), &stubReader{pending: 100}, common.Address{})
	require.NoError(t, err)

	const goroutines = 64
	results := make([]uint64, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := alloc.Next(context.Background())
			assert.NoError(t, err)
			results[i] = n
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, n := range results {
		assert.Equal(t, uint64(100+i), n, "each nonce used exactly once")
	}
}

func TestLocal_ReturnOnlyMostRecent(t *testing.T) {
	ctx := context.Background()
	alloc, err := NewLocal(ctx, &stubReader{pending: 0}, common.Address{})
	require.NoError(t, err)

	a, _ := alloc.Next(ctx)
	b, _ := alloc.Next(ctx)
	require.Equal(t, uint64(0), a)
	require.Equal(t, uint64(1), b)

	// Returning a stale nonce is a no-op.
	require.NoError(t, alloc.Return(ctx, a))
	next, _ := alloc.Next(ctx)
	assert.Equal(t, uint64(2), next)

	// Returning the most recent one hands it out again.
	require.NoError(t, alloc.Return(ctx, next))
	again, _ := alloc.Next(ctx)
	assert.Equal(t, next, again)
}
