package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish")
	}
}

func TestWorker(t *testing.T) {

	t.Run("runs tasks in submission order", func(t *testing.T) {
		w := workerNew(context.Background(), "test")
		var mu sync.Mutex
		var order []int
		for i := 0; i < 100; i++ {
			i := i
			require.True(t, w.Submit(func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}))
		}
		w.Close()
		waitDone(t, w.Done())

		require.Len(t, order, 100)
		for i, v := range order {
			assert.Equal(t, i, v)
		}
	})

	t.Run("survives panicking tasks", func(t *testing.T) {
		w := workerNew(context.Background(), "test")
		ran := false
		w.Submit(func() { panic("boom") })
		w.Submit(func() { ran = true })
		w.Close()
		waitDone(t, w.Done())

		assert.True(t, ran)
	})

	t.Run("rejects tasks once closed", func(t *testing.T) {
		w := workerNew(context.Background(), "test")
		w.Close()
		waitDone(t, w.Done())

		assert.False(t, w.Submit(func() {}))
	})

	t.Run("drains queue when context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		w := workerNew(ctx, "test")
		gate := make(chan struct{})
		count := 0
		w.Submit(func() { <-gate })
		w.Submit(func() { count++ })
		w.Submit(func() { count++ })

		cancel()
		close(gate)
		waitDone(t, w.Done())

		assert.Equal(t, 2, count)
	})
}

func TestLoopDispatcher(t *testing.T) {
	d := LoopDispatcherNew(context.Background())
	var got []string
	d.Post(func() { got = append(got, "a") })
	d.Post(func() { got = append(got, "b") })
	d.Close()
	waitDone(t, d.Done())

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestParseReadPolicy(t *testing.T) {
	for name, want := range map[string]ReadPolicy{"": FirstOfBatch, "first": FirstOfBatch, "ALL": WholeBatch, "batch": WholeBatch} {
		got, err := ParseReadPolicy(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseReadPolicy("random")
	assert.Error(t, err)
}
