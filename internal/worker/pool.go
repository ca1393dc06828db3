package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joshgroeneveld/forklift/internal/model"
)

// RunFunc synchronizes one dataset pair
type RunFunc func(ctx context.Context, pair *model.DatasetPair) model.Result

// Outcome pairs a dataset pair with its synchronization result
type Outcome struct {
	Pair   *model.DatasetPair
	Result model.Result
}

// Pool runs dataset pairs over a bounded set of workers. Pairs are assumed
// independent: no two entries may target the same destination.
type Pool struct {
	workers int
	logger  *zap.Logger
}

// NewPool creates a worker pool
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{workers: workers, logger: logger}
}

// Run synchronizes every pair and returns one outcome per pair, in
// completion order
func (p *Pool) Run(ctx context.Context, pairs []*model.DatasetPair, run RunFunc) []Outcome {
	jobs := make(chan *model.DatasetPair)
	outcomes := make([]Outcome, 0, len(pairs))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for pair := range jobs {
				start := time.Now()
				result := p.safeRun(ctx, pair, run)

				p.logger.Info("Pair finished",
					zap.Int("worker_id", workerID),
					zap.String("pair", pair.Name),
					zap.String("status", result.Status.String()),
					zap.Duration("duration", time.Since(start)))

				mu.Lock()
				outcomes = append(outcomes, Outcome{Pair: pair, Result: result})
				mu.Unlock()
			}
		}(i)
	}

	for _, pair := range pairs {
		select {
		case <-ctx.Done():
			p.logger.Warn("Run canceled, remaining pairs skipped", zap.Error(ctx.Err()))
		case jobs <- pair:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

// safeRun executes one pair with panic recovery
func (p *Pool) safeRun(ctx context.Context, pair *model.DatasetPair, run RunFunc) (result model.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Pair panic recovered",
				zap.String("pair", pair.Name),
				zap.Any("panic", r))
			result = model.Result{
				Status:  model.StatusUnhandledException,
				Message: fmt.Sprintf("pair panicked: %v", r),
			}
		}
	}()

	return run(ctx, pair)
}
