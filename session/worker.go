package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// worker runs submitted tasks one at a time, in submission order, on a single goroutine.
// Submit never blocks. Once closed, the worker finishes the queued tasks and exits.
type worker struct {
	name    string
	mu      sync.Mutex
	tasks   []func()
	closing bool
	wake    chan struct{}
	done    chan struct{}
}

func workerNew(ctx context.Context, name string) *worker {
	w := &worker{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		defer log.Debug().Str("worker", name).Msg("worker done")
		w.run(ctx)
	}()

	return w
}

func (w *worker) Submit(task func()) bool {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return false
	}
	w.tasks = append(w.tasks, task)
	w.mu.Unlock()

	w.signal()
	return true
}

func (w *worker) Close() {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()
	w.signal()
}

func (w *worker) Done() <-chan struct{} {
	return w.done
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) run(ctx context.Context) {
	for {
		task, closing := w.next()
		if task != nil {
			w.execute(task)
			continue
		}
		if closing {
			return
		}

		select {
		case <-w.wake:
		case <-ctx.Done():
			w.Close()
		}
	}
}

func (w *worker) next() (task func(), closing bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.tasks) > 0 {
		task = w.tasks[0]
		w.tasks[0] = nil
		w.tasks = w.tasks[1:]
	}
	return task, w.closing
}

func (w *worker) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("worker", w.name).Str("panic", fmt.Sprintf("%v", r)).Msg("task panicked")
		}
	}()
	task()
}
