package gccphat

import "testing"

func TestMedianQueue_ConvergesOnRepeatedVector(t *testing.T) {
	q := NewMedianQueue(5)
	v := DelayVector{3, -7, 12, 0}

	for i := 0; i < 4; i++ {
		q.Push(v)
		if q.Full() {
			t.Fatalf("queue full after %d pushes", i+1)
		}
	}
	q.Push(v)
	if !q.Full() {
		t.Fatal("queue not full after 5 pushes")
	}

	med := q.Median()
	for i := range v {
		if med[i] != float64(v[i]) {
			t.Errorf("axis %d: median %g, want %d", i, med[i], v[i])
		}
	}
}

func TestMedianQueue_RejectsOutlier(t *testing.T) {
	q := NewMedianQueue(5)
	v := DelayVector{3, -7, 12, 0}

	for i := 0; i < 4; i++ {
		q.Push(v)
	}
	q.Push(DelayVector{500, -500, 500, 500})

	med := q.Median()
	for i := range v {
		if med[i] != float64(v[i]) {
			t.Errorf("axis %d: median %g, want %d (outlier must not win)", i, med[i], v[i])
		}
	}
}

func TestMedianQueue_EvenCountAveragesMiddlePair(t *testing.T) {
	q := NewMedianQueue(4)
	for _, v := range []int{1, 2, 3, 4} {
		q.Push(DelayVector{v, v, v, v})
	}

	med := q.Median()
	for i := range med {
		if med[i] != 2.5 {
			t.Errorf("axis %d: median %g, want 2.5", i, med[i])
		}
	}
}

func TestMedianQueue_Clear(t *testing.T) {
	q := NewMedianQueue(3)
	for i := 0; i < 3; i++ {
		q.Push(DelayVector{9, 9, 9, 9})
	}
	if !q.Full() {
		t.Fatal("expected full queue")
	}

	q.Clear()
	if q.Full() || q.Len() != 0 {
		t.Error("expected empty queue after Clear")
	}
}

func TestMedianQueue_RingOverwrite(t *testing.T) {
	q := NewMedianQueue(3)
	q.Push(DelayVector{100, 100, 100, 100})
	for i := 0; i < 3; i++ {
		q.Push(DelayVector{1, 1, 1, 1})
	}

	med := q.Median()
	for i := range med {
		if med[i] != 1 {
			t.Errorf("axis %d: median %g, want 1 (oldest entry must be evicted)", i, med[i])
		}
	}
}
