package gccphat

import (
	"sort"

	"github.com/teslashibe/go-tdoa/internal/geometry"
)

// DefaultMedianLen is the default smoothing window, in frames.
const DefaultMedianLen = 5

// MedianQueue is a fixed-capacity ring buffer of delay vectors producing
// a per-axis median. It is mutated only by the online consumer loop and
// carries no locking of its own.
type MedianQueue struct {
	buf  []DelayVector
	tail int
	n    int
}

// NewMedianQueue creates a queue of the given capacity (frames).
func NewMedianQueue(capacity int) *MedianQueue {
	if capacity <= 0 {
		capacity = DefaultMedianLen
	}
	return &MedianQueue{
		buf:  make([]DelayVector, capacity),
		tail: -1,
	}
}

// Push appends one delay vector, overwriting the oldest entry once full.
func (q *MedianQueue) Push(d DelayVector) {
	q.tail = (q.tail + 1) % len(q.buf)
	q.buf[q.tail] = d
	if q.n < len(q.buf) {
		q.n++
	}
}

// Full reports whether the warm-up window has been filled.
func (q *MedianQueue) Full() bool {
	return q.n == len(q.buf)
}

// Len returns the number of vectors currently held.
func (q *MedianQueue) Len() int { return q.n }

// Median returns the per-axis median over the held vectors. For an even
// count the mean of the two middle values is used, so the result is not
// necessarily an integer number of samples.
func (q *MedianQueue) Median() [geometry.MicCount - 1]float64 {
	var med [geometry.MicCount - 1]float64
	if q.n == 0 {
		return med
	}
	vals := make([]int, q.n)
	for axis := 0; axis < geometry.MicCount-1; axis++ {
		for i := 0; i < q.n; i++ {
			vals[i] = q.buf[i][axis]
		}
		sort.Ints(vals)
		if q.n%2 == 1 {
			med[axis] = float64(vals[q.n/2])
		} else {
			med[axis] = float64(vals[q.n/2-1]+vals[q.n/2]) / 2
		}
	}
	return med
}

// Clear resets the queue to empty. Called when a new online session
// starts or the geometry or method changes.
func (q *MedianQueue) Clear() {
	q.tail = -1
	q.n = 0
	for i := range q.buf {
		q.buf[i] = DelayVector{}
	}
}
