// Package ring is a generic bounded single-producer/single-consumer queue,
// backed by a buffered channel and a non-blocking select/default push and
// pop -- the same idiom the bus package uses for trySend/drainOne, and the
// gpioirq worker uses for its isrQ/outQ channels.
package ring

// Queue is a bounded SPSC FIFO. Exactly one goroutine may call TryPush;
// exactly one (possibly different) goroutine may call TryPop.
type Queue[T any] struct {
	ch chan T
}

// New constructs a queue with the given capacity.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPush enqueues v without blocking, reporting false if the queue is at
// capacity.
func (q *Queue[T]) TryPush(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// TryPop dequeues the oldest value without blocking, reporting false if the
// queue is empty.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len reports the number of values currently queued.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap reports the queue's fixed capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }
