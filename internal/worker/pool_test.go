package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joshgroeneveld/forklift/internal/model"
)

func testPairs(count int) []*model.DatasetPair {
	pairs := make([]*model.DatasetPair, count)
	for i := range pairs {
		pairs[i] = &model.DatasetPair{Name: string(rune('a' + i))}
	}
	return pairs
}

func TestPoolRunsEveryPair(t *testing.T) {
	pairs := testPairs(7)
	pool := NewPool(3, zap.NewNop())

	var ran sync.Map
	outcomes := pool.Run(context.Background(), pairs, func(ctx context.Context, pair *model.DatasetPair) model.Result {
		ran.Store(pair.Name, true)
		return model.Result{Status: model.StatusNoChanges}
	})

	require.Len(t, outcomes, 7)
	for _, pair := range pairs {
		_, ok := ran.Load(pair.Name)
		assert.True(t, ok, "pair %s never ran", pair.Name)
	}
	for _, outcome := range outcomes {
		assert.Equal(t, model.StatusNoChanges, outcome.Result.Status)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pairs := testPairs(10)
	pool := NewPool(2, zap.NewNop())

	var current, peak int64
	pool.Run(context.Background(), pairs, func(ctx context.Context, pair *model.DatasetPair) model.Result {
		n := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		atomic.AddInt64(&current, -1)
		return model.Result{Status: model.StatusNoChanges}
	})

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestPoolRecoversPanics(t *testing.T) {
	pairs := testPairs(3)
	pool := NewPool(2, zap.NewNop())

	outcomes := pool.Run(context.Background(), pairs, func(ctx context.Context, pair *model.DatasetPair) model.Result {
		if pair.Name == "b" {
			panic("worker exploded")
		}
		return model.Result{Status: model.StatusUpdated}
	})

	require.Len(t, outcomes, 3)
	byName := make(map[string]model.Result)
	for _, outcome := range outcomes {
		byName[outcome.Pair.Name] = outcome.Result
	}
	assert.Equal(t, model.StatusUnhandledException, byName["b"].Status)
	assert.Equal(t, model.StatusUpdated, byName["a"].Status)
	assert.Equal(t, model.StatusUpdated, byName["c"].Status)
}

func TestPoolStopsOnCancel(t *testing.T) {
	pairs := testPairs(50)
	pool := NewPool(1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var ran int64
	outcomes := pool.Run(ctx, pairs, func(ctx context.Context, pair *model.DatasetPair) model.Result {
		if atomic.AddInt64(&ran, 1) == 1 {
			cancel()
		}
		return model.Result{Status: model.StatusNoChanges}
	})

	assert.Less(t, len(outcomes), 50, "cancellation should stop dispatching pairs")
}

func TestNewPoolSanitizesWorkerCount(t *testing.T) {
	pool := NewPool(0, nil)
	outcomes := pool.Run(context.Background(), testPairs(2), func(ctx context.Context, pair *model.DatasetPair) model.Result {
		return model.Result{Status: model.StatusNoChanges}
	})
	assert.Len(t, outcomes, 2)
}
