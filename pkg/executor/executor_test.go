package executor

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed[T any](items ...T) <-chan T {
	ch := make(chan T, len(items))
	for _, v := range items {
		ch <- v
	}
	close(ch)
	return ch
}

func collect[T any](ch <-chan T) []T {
	var out []T
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"serial", "threaded", "processed"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	_, err := ParseMode("fibers")
	assert.Error(t, err)
}

func TestParseOrder(t *testing.T) {
	for _, s := range []string{"completed", "submitted"} {
		o, err := ParseOrder(s)
		require.NoError(t, err)
		assert.Equal(t, Order(s), o)
	}
	_, err := ParseOrder("random")
	assert.Error(t, err)
}

func TestMap_Serial(t *testing.T) {
	e := New(Config{Mode: ModeSerial})
	defer e.Shutdown(true, false)

	out := Map(e, context.Background(), feed(1, 2, 3), func(_ context.Context, v int) int {
		return v * 2
	})
	assert.Equal(t, []int{2, 4, 6}, collect(out))
}

func TestMap_ThreadedCompleted(t *testing.T) {
	e := New(Config{Mode: ModeThreaded, MaxWorkers: 4})
	defer e.Shutdown(true, false)

	out := Map(e, context.Background(), feed(1, 2, 3, 4, 5), func(_ context.Context, v int) int {
		return v * 10
	})
	got := collect(out)
	sort.Ints(got)
	assert.Equal(t, []int{10, 20, 30, 40, 50}, got)
}

func TestMap_SubmittedOrderPreserved(t *testing.T) {
	e := New(Config{Mode: ModeThreaded, Order: OrderSubmitted, MaxWorkers: 4})
	defer e.Shutdown(true, false)

	// Earlier jobs sleep longer; submitted order must still hold.
	out := Map(e, context.Background(), feed(5, 4, 3, 2, 1), func(_ context.Context, v int) int {
		time.Sleep(time.Duration(v) * 10 * time.Millisecond)
		return v
	})
	assert.Equal(t, []int{5, 4, 3, 2, 1}, collect(out))
}

func TestMap_ProcessedChunked(t *testing.T) {
	e := New(Config{Mode: ModeProcessed, ChunkSize: 3})
	defer e.Shutdown(true, false)

	var calls atomic.Int32
	inputs := make([]int, 10)
	for i := range inputs {
		inputs[i] = i
	}
	out := Map(e, context.Background(), feed(inputs...), func(_ context.Context, v int) int {
		calls.Add(1)
		return v
	})
	got := collect(out)
	assert.Len(t, got, 10)
	assert.Equal(t, int32(10), calls.Load())
}

func TestMap_TimeoutDropsResult(t *testing.T) {
	e := New(Config{Mode: ModeThreaded, MaxWorkers: 2, Timeout: 20 * time.Millisecond})
	defer e.Shutdown(true, false)

	out := Map(e, context.Background(), feed(1, 200, 2), func(ctx context.Context, v int) int {
		select {
		case <-time.After(time.Duration(v) * time.Millisecond):
		case <-ctx.Done():
			// Keep running past cancellation to prove the result is
			// discarded rather than surfaced late.
			time.Sleep(50 * time.Millisecond)
		}
		return v
	})
	got := collect(out)
	sort.Ints(got)
	assert.Equal(t, []int{1, 2}, got)
}

func TestMap_ContextCancellation(t *testing.T) {
	e := New(Config{Mode: ModeThreaded, MaxWorkers: 1})
	defer e.Shutdown(false, true)

	ctx, cancel := context.WithCancel(context.Background())

	inputs := make(chan int)
	go func() {
		defer close(inputs)
		for i := 0; ; i++ {
			select {
			case inputs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	out := Map(e, ctx, inputs, func(_ context.Context, v int) int { return v })

	<-out
	cancel()

	// The output channel must close promptly after cancellation.
	done := make(chan struct{})
	go func() {
		for range out {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("output channel did not close after cancellation")
	}
}

func TestExecutor_ReusableAcrossMaps(t *testing.T) {
	e := New(Config{Mode: ModeThreaded, MaxWorkers: 2})
	defer e.Shutdown(true, false)

	first := collect(Map(e, context.Background(), feed(1, 2), func(_ context.Context, v int) int { return v }))
	second := collect(Map(e, context.Background(), feed(3, 4), func(_ context.Context, v int) int { return v }))
	assert.Len(t, first, 2)
	assert.Len(t, second, 2)
}

func TestShutdown_Idempotent(t *testing.T) {
	e := New(Config{})
	e.Shutdown(true, true)
	e.Shutdown(true, true)
	e.Shutdown(false, false)
}

func TestShutdown_CancelPendingStopsNewWork(t *testing.T) {
	e := New(Config{Mode: ModeThreaded, MaxWorkers: 1})
	e.Shutdown(false, true)

	out := Map(e, context.Background(), feed(1, 2, 3), func(_ context.Context, v int) int { return v })
	assert.Empty(t, collect(out))
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, ModeThreaded, cfg.Mode)
	assert.Equal(t, OrderCompleted, cfg.Order)
	assert.Greater(t, cfg.MaxWorkers, 0)
	assert.Equal(t, 1, cfg.ChunkSize)
}
