package pipeline

import "sync"

// previewQueue is an unbounded FIFO drained by its own goroutine, so pushing
// never blocks a scan worker on a slow consumer
type previewQueue struct {
	mu     sync.Mutex
	items  []PreviewFrame
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPreviewQueue(handle func(PreviewFrame)) *previewQueue {
	q := &previewQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run(handle)
	return q
}

func (q *previewQueue) push(f PreviewFrame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *previewQueue) run(handle func(PreviewFrame)) {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			batch := q.items
			q.items = nil
			closed := q.closed
			q.mu.Unlock()

			for _, f := range batch {
				if handle != nil {
					handle(f)
				}
			}
			if closed {
				return
			}
			if len(batch) == 0 {
				break
			}
		}
	}
}

// close stops accepting frames and waits until queued ones are delivered
func (q *previewQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}
