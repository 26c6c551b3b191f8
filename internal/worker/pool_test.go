package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeQueue hands out a fixed number of tasks, one batch at a time.
type fakeQueue struct {
	remaining atomic.Int64
}

func (f *fakeQueue) DequeueAndRun(ctx context.Context, limit int) (int, error) {
	n := int64(limit)
	for {
		cur := f.remaining.Load()
		if cur == 0 {
			return 0, nil
		}
		if n > cur {
			n = cur
		}
		if f.remaining.CompareAndSwap(cur, cur-n) {
			return int(n), nil
		}
	}
}

func TestPoolDrainsQueueAndStopsOnCancel(t *testing.T) {
	q := &fakeQueue{}
	q.remaining.Store(57)

	pool := NewPool(q, 3, 5, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return q.remaining.Load() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestNewPoolClampsSizes(t *testing.T) {
	p := NewPool(&fakeQueue{}, 0, -1, time.Millisecond)
	assert.Equal(t, 1, p.size)
	assert.Equal(t, 1, p.batch)
}
