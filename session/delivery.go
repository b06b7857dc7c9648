package session

import "context"

// Dispatcher is the consumer's delivery context. Posted functions must run one at a time, in
// the order they were posted. Post must not block.
type Dispatcher interface {
	Post(fn func())
}

// DispatcherFunc adapts an existing event loop, e.g. glib.IdleAdd, to a Dispatcher.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Post(fn func()) {
	f(fn)
}

var _ Dispatcher = (*LoopDispatcher)(nil)

// LoopDispatcher is a delivery context backed by its own goroutine.
type LoopDispatcher struct {
	w *worker
}

func LoopDispatcherNew(ctx context.Context) *LoopDispatcher {
	return &LoopDispatcher{w: workerNew(ctx, "delivery")}
}

func (d *LoopDispatcher) Post(fn func()) {
	d.w.Submit(fn)
}

// Close delivers what is already posted and then stops the loop.
func (d *LoopDispatcher) Close() {
	d.w.Close()
}

func (d *LoopDispatcher) Done() <-chan struct{} {
	return d.w.Done()
}
