// Package queue provides a growable FIFO queue that decouples a fast
// producer from a slower consumer without the producer ever blocking on
// the consumer's pace. indexclient uses one to hold mutations for its flush
// loop, and package payment uses one per subscriber to deliver
// notifications.
package queue

import "container/list"

// ConcurrentQueue is an unbounded, order-preserving queue safe for exactly
// one producer goroutine writing to ChanIn and one consumer goroutine
// reading from ChanOut, with an internal pump goroutine bridging the two
// via a growable buffer so the producer never blocks on the consumer.
type ConcurrentQueue struct {
	chanIn   chan interface{}
	chanOut  chan interface{}
	overflow *list.List

	quit chan struct{}
	done chan struct{}
}

// NewConcurrentQueue creates a queue whose ChanIn/ChanOut channels are each
// buffered to bufferSize; bufferSize only affects how much can be pushed
// before the internal pump goroutine's backlog starts growing, not the
// queue's total capacity, which is unbounded.
func NewConcurrentQueue(bufferSize int) *ConcurrentQueue {
	return &ConcurrentQueue{
		chanIn:   make(chan interface{}, bufferSize),
		chanOut:  make(chan interface{}, bufferSize),
		overflow: list.New(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ChanIn returns the channel producers push items onto.
func (q *ConcurrentQueue) ChanIn() chan<- interface{} {
	return q.chanIn
}

// ChanOut returns the channel consumers pop items from, in FIFO order.
func (q *ConcurrentQueue) ChanOut() <-chan interface{} {
	return q.chanOut
}

// Start launches the pump goroutine. Must be called before use.
func (q *ConcurrentQueue) Start() {
	go q.pump()
}

// Stop halts the pump goroutine and releases any buffered items.
func (q *ConcurrentQueue) Stop() {
	close(q.quit)
	<-q.done
}

func (q *ConcurrentQueue) pump() {
	defer close(q.done)

	for {
		front := q.overflow.Front()
		if front == nil {
			// Nothing buffered: block until a new item arrives or the
			// queue is stopped.
			select {
			case item, ok := <-q.chanIn:
				if !ok {
					return
				}
				q.overflow.PushBack(item)
			case <-q.quit:
				return
			}
			continue
		}

		select {
		case q.chanOut <- front.Value:
			q.overflow.Remove(front)
		case item, ok := <-q.chanIn:
			if !ok {
				return
			}
			q.overflow.PushBack(item)
		case <-q.quit:
			return
		}
	}
}
