package order

import "context"

// Queue buffers orders before execution. Single producer side is not
// required; single consumer (the bridge worker) gives strict FIFO.
type Queue struct {
	ch chan Order
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan Order, size)}
}

func (q *Queue) Enqueue(o Order) {
	q.ch <- o
}

// TryEnqueue enqueues without blocking; reports false when the queue is full.
func (q *Queue) TryEnqueue(o Order) bool {
	select {
	case q.ch <- o:
		return true
	default:
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Close() {
	close(q.ch)
}

// Drain consumes orders with a handler until context is canceled.
func (q *Queue) Drain(ctx context.Context, handler func(Order)) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-q.ch:
			if !ok {
				return
			}
			handler(o)
		}
	}
}

// Flush removes and returns whatever is currently buffered without executing
// anything; used on shutdown to log abandoned orders.
func (q *Queue) Flush() []Order {
	var out []Order
	for {
		select {
		case o := <-q.ch:
			out = append(out, o)
		default:
			return out
		}
	}
}
