package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type job struct{ id int }

type otherJob struct{ name string }

func newTestBroker(grace time.Duration) *Broker {
	return New(Options{
		Backoff:       queue.NewIdleBackoff(5, time.Millisecond),
		ShutdownGrace: grace,
	}, nil, zap.NewNop())
}

func TestBroker_RegisterQueue_Idempotent(t *testing.T) {
	b := newTestBroker(time.Second)

	require.NoError(t, RegisterQueue[job](b, KindVisibilityComputation))
	require.NoError(t, Enqueue(b, KindVisibilityComputation, job{id: 1}))

	// a second registration keeps the existing queue and its items
	require.NoError(t, RegisterQueue[job](b, KindVisibilityComputation))

	n, err := QueueLen[job](b, KindVisibilityComputation)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBroker_RegisterQueue_TypeMismatch(t *testing.T) {
	b := newTestBroker(time.Second)

	require.NoError(t, RegisterQueue[job](b, KindVisibilityComputation))
	err := RegisterQueue[otherJob](b, KindVisibilityComputation)
	assert.ErrorIs(t, err, ErrKindMismatch)

	err = Enqueue(b, KindVisibilityComputation, otherJob{name: "x"})
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestBroker_Enqueue_Unregistered(t *testing.T) {
	b := newTestBroker(time.Second)

	err := Enqueue(b, KindVisibilityLookup, job{id: 1})
	assert.ErrorIs(t, err, ErrUnregisteredType)

	_, err = StartConsumerLoop(context.Background(), b, KindVisibilityLookup, 10,
		func(context.Context, int, []job) error { return nil })
	assert.ErrorIs(t, err, ErrUnregisteredType)
}

func TestBroker_ConsumerLoop_RoundTrip(t *testing.T) {
	b := newTestBroker(time.Second)
	require.NoError(t, RegisterQueue[job](b, KindVisibilityComputation))
	require.NoError(t, RegisterQueue[otherJob](b, KindVisibilityLookup))

	var mu sync.Mutex
	var jobs []int
	var names []string

	_, err := StartConsumerLoop(context.Background(), b, KindVisibilityComputation, 10,
		func(_ context.Context, _ int, batch []job) error {
			mu.Lock()
			defer mu.Unlock()
			for _, j := range batch {
				jobs = append(jobs, j.id)
			}
			return nil
		})
	require.NoError(t, err)

	_, err = StartConsumerLoop(context.Background(), b, KindVisibilityLookup, 10,
		func(_ context.Context, _ int, batch []otherJob) error {
			mu.Lock()
			defer mu.Unlock()
			for _, j := range batch {
				names = append(names, j.name)
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Running())

	for i := 0; i < 25; i++ {
		require.NoError(t, Enqueue(b, KindVisibilityComputation, job{id: i}))
	}
	require.NoError(t, Enqueue(b, KindVisibilityLookup, otherJob{name: "lookup"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(jobs) == 25 && len(names) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, b.StopAll(context.Background()))
	assert.Equal(t, 0, b.Running())
}

func TestBroker_StartConsumerLoop_SingleConsumerPerKind(t *testing.T) {
	b := newTestBroker(time.Second)
	require.NoError(t, RegisterQueue[job](b, KindVisibilityComputation))

	noop := func(context.Context, int, []job) error { return nil }

	l, err := StartConsumerLoop(context.Background(), b, KindVisibilityComputation, 10, noop)
	require.NoError(t, err)
	assert.Equal(t, KindVisibilityComputation, l.Kind())

	_, err = StartConsumerLoop(context.Background(), b, KindVisibilityComputation, 10, noop)
	assert.ErrorIs(t, err, ErrAlreadyConsuming)

	l.Stop()
	<-l.Done()

	_, err = StartConsumerLoop(context.Background(), b, KindVisibilityComputation, 10, noop)
	assert.NoError(t, err)
	b.StopAll(context.Background())
}

func TestBroker_StopAll_AbandonsStuckLoop(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	b := New(Options{ShutdownGrace: 50 * time.Millisecond}, nil, zap.New(core))
	require.NoError(t, RegisterQueue[job](b, KindVisibilityComputation))

	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})

	_, err := StartConsumerLoop(context.Background(), b, KindVisibilityComputation, 1,
		func(context.Context, int, []job) error {
			close(entered)
			<-release
			return nil
		})
	require.NoError(t, err)
	require.NoError(t, Enqueue(b, KindVisibilityComputation, job{id: 1}))
	<-entered

	start := time.Now()
	abandoned := b.StopAll(context.Background())

	assert.Equal(t, 1, abandoned)
	assert.Less(t, time.Since(start), time.Second)

	warnings := logs.FilterMessage("consumer loop did not stop within grace period").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "visibility_computation", warnings[0].ContextMap()["queue"])
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "visibility_computation", KindVisibilityComputation.String())
	assert.Equal(t, "visibility_lookup", KindVisibilityLookup.String())
	assert.Equal(t, "kind_42", Kind(42).String())
}
