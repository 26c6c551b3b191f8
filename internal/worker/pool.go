// Package worker drives the task queue: a fixed set of goroutines polls for
// eligible tasks and runs them. Throughput comes from running more workers,
// not from parallelism inside the queue.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Dequeuer claims and runs a batch of eligible tasks, returning how many ran.
type Dequeuer interface {
	DequeueAndRun(ctx context.Context, limit int) (int, error)
}

type Pool struct {
	queue Dequeuer
	size  int
	batch int
	poll  time.Duration
}

func NewPool(queue Dequeuer, size, batch int, poll time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	if batch <= 0 {
		batch = 1
	}
	return &Pool{queue: queue, size: size, batch: batch, poll: poll}
}

// Run blocks until ctx is cancelled and every worker has drained.
func (p *Pool) Run(ctx context.Context) {
	log.Info().Int("workers", p.size).Dur("poll", p.poll).Msg("worker pool started")
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	log.Info().Msg("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	t := time.NewTicker(p.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// Drain everything currently eligible before sleeping again.
			for {
				n, err := p.queue.DequeueAndRun(ctx, p.batch)
				if err != nil {
					log.Error().Err(err).Int("worker", id).Msg("dequeue failed")
					break
				}
				if n == 0 {
					break
				}
			}
		}
	}
}
