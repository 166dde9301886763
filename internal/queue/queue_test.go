package queue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueue_DrainBatch_Bounds(t *testing.T) {
	q := New[int]("test", IdleBackoff{}, zap.NewNop())

	assert.Nil(t, q.DrainBatch(10))

	for i := 0; i < 25; i++ {
		q.Enqueue(i)
	}
	assert.Equal(t, 25, q.Len())

	first := q.DrainBatch(10)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, first)

	second := q.DrainBatch(10)
	assert.Len(t, second, 10)
	assert.Equal(t, 10, second[0])

	third := q.DrainBatch(10)
	assert.Equal(t, []int{20, 21, 22, 23, 24}, third)

	assert.Nil(t, q.DrainBatch(10))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DrainBatch_NonPositiveSize(t *testing.T) {
	q := New[string]("test", IdleBackoff{}, nil)
	q.Enqueue("a")

	assert.Nil(t, q.DrainBatch(0))
	assert.Nil(t, q.DrainBatch(-1))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]("test", IdleBackoff{}, zap.NewNop())

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(p*100 + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for {
		batch := q.DrainBatch(7)
		if batch == nil {
			break
		}
		for _, v := range batch {
			assert.False(t, seen[v], "duplicate item %d", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, 800)
}

func TestQueue_RunConsumerLoop_ProcessesAllItems(t *testing.T) {
	q := New[int]("test", NewIdleBackoff(5, 10*time.Millisecond), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	processed := make(map[int]int)
	var maxBatch atomic.Int64

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.RunConsumerLoop(ctx, 10, func(_ context.Context, batchSize int, batch []int) error {
			assert.Equal(t, 10, batchSize)
			if int64(len(batch)) > maxBatch.Load() {
				maxBatch.Store(int64(len(batch)))
			}
			mu.Lock()
			for _, v := range batch {
				processed[v]++
			}
			mu.Unlock()
			return nil
		})
	}()

	const total = 150
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
			q.Enqueue(i)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == total
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	for i := 0; i < total; i++ {
		assert.Equal(t, 1, processed[i], "item %d", i)
	}
	mu.Unlock()
	assert.LessOrEqual(t, maxBatch.Load(), int64(10))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer loop did not stop after cancellation")
	}
}

func TestQueue_RunConsumerLoop_SurvivesFailingCallback(t *testing.T) {
	q := New[int]("test", IdleBackoff{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	var handled atomic.Int64
	go q.RunConsumerLoop(ctx, 1, func(_ context.Context, _ int, batch []int) error {
		switch calls.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("failed batch")
		}
		handled.Add(int64(len(batch)))
		return nil
	})

	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}

	assert.Eventually(t, func() bool {
		return handled.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueue_RunConsumerLoop_StopsOnCancel(t *testing.T) {
	q := New[int]("test", NewIdleBackoff(1, time.Hour), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.RunConsumerLoop(ctx, 10, func(context.Context, int, []int) error { return nil })
	}()

	// let the loop enter its idle sleep
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer loop did not exit promptly")
	}
}

func TestQueue_RunConsumerLoop_WakesOnEnqueueDuringBackoff(t *testing.T) {
	q := New[int]("test", NewIdleBackoff(1, time.Hour), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan int, 1)
	go q.RunConsumerLoop(ctx, 10, func(_ context.Context, _ int, batch []int) error {
		got <- batch[0]
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("item not processed while loop was backing off")
	}
}

func TestQueue_RunConsumerLoop_CancelledBeforeStart(t *testing.T) {
	q := New[int]("test", IdleBackoff{}, zap.NewNop())
	q.Enqueue(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	q.RunConsumerLoop(ctx, 10, func(context.Context, int, []int) error {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.Equal(t, 1, q.Len())
}
