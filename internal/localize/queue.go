package localize

import "time"

// frameQueue is a fixed-capacity blocking queue for interleaved sample
// frames, safe for one producer and one consumer. Both ends block with a
// timeout so the session's cooperative stop is bounded by the configured
// timeouts.
type frameQueue struct {
	ch chan []float64
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{ch: make(chan []float64, capacity)}
}

// push enqueues a frame, waiting up to timeout. Returns false on timeout.
func (q *frameQueue) push(buf []float64, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.ch <- buf:
		return true
	case <-timer.C:
		return false
	}
}

// pop dequeues a frame, waiting up to timeout. Returns false on timeout.
func (q *frameQueue) pop(timeout time.Duration) ([]float64, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case buf := <-q.ch:
		return buf, true
	case <-timer.C:
		return nil, false
	}
}

// clear drains any queued frames. Used during teardown only, after both
// loops have stopped.
func (q *frameQueue) clear() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

func (q *frameQueue) len() int { return len(q.ch) }
