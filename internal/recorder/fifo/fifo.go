// Package fifo provides a single-consumer queue that hands items to a
// function on its own goroutine.
package fifo

import (
	"context"
	"sync"
)

// Worker delivers pushed items to fn one at a time, in push order. The
// queue is unbounded, so Push never blocks on a slow consumer.
type Worker[T any] struct {
	fn func(T)

	mu      sync.Mutex
	items   []T
	closed  bool
	running bool
	signal  chan struct{}
	done    chan struct{}
}

// Start launches the consumer goroutine.
func Start[T any](fn func(T)) *Worker[T] {
	w := &Worker[T]{
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// Push queues v. It reports false once the worker is closed.
func (w *Worker[T]) Push(v T) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.items = append(w.items, v)
	w.mu.Unlock()
	w.notify()
	return true
}

// Len returns the number of queued and in-flight items.
func (w *Worker[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.items)
	if w.running {
		n++
	}
	return n
}

// Close stops accepting items. Items already queued are still delivered.
func (w *Worker[T]) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.notify()
}

// Done is closed once the worker is closed and fully drained.
func (w *Worker[T]) Done() <-chan struct{} { return w.done }

// CloseAndWait closes the worker and waits for the queue to drain.
func (w *Worker[T]) CloseAndWait(ctx context.Context) error {
	w.Close()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker[T]) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Worker[T]) loop() {
	defer close(w.done)
	var zero T
	for {
		w.mu.Lock()
		if len(w.items) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.signal
			continue
		}
		v := w.items[0]
		w.items[0] = zero
		w.items = w.items[1:]
		w.running = true
		w.mu.Unlock()

		w.fn(v)

		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}
}
