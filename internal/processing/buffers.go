package processing

import (
	"math"
	"sync"

	"github.com/gammazero/deque"
)

// ResultBuffer queues samples between the sampler and an output writer. The
// sampler pushes to the front, the writer pops from the back. It has no
// capacity limit.
type ResultBuffer struct {
	mu sync.Mutex
	q  deque.Deque[Sample]
}

func NewResultBuffer() *ResultBuffer {
	return &ResultBuffer{}
}

func (b *ResultBuffer) PushFront(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.q.PushFront(s)
}

// PopBack removes the oldest sample.
func (b *ResultBuffer) PopBack() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.q.Len() == 0 {
		return Sample{}, false
	}
	return b.q.PopBack(), true
}

// Drain removes every queued sample, oldest first.
func (b *ResultBuffer) Drain() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.q.Len()
	if n == 0 {
		return nil
	}
	out := make([]Sample, 0, n)
	for b.q.Len() > 0 {
		out = append(out, b.q.PopBack())
	}
	return out
}

func (b *ResultBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Len()
}

// DisplayBuffer keeps the most recent samples for the live display. When full
// the oldest sample is dropped.
type DisplayBuffer struct {
	mu    sync.RWMutex
	buf   []Sample
	pos   int
	count int
}

func NewDisplayBuffer(capacity int) *DisplayBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &DisplayBuffer{buf: make([]Sample, capacity)}
}

func (d *DisplayBuffer) Push(s Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf[d.pos] = s
	d.pos = (d.pos + 1) % len(d.buf)
	if d.count < len(d.buf) {
		d.count++
	}
}

// Snapshot returns the stored samples in chronological order without
// removing them.
func (d *DisplayBuffer) Snapshot() []Sample {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.count == 0 {
		return nil
	}
	result := make([]Sample, d.count)
	if d.count < len(d.buf) {
		copy(result, d.buf[:d.count])
	} else {
		n := copy(result, d.buf[d.pos:])
		copy(result[n:], d.buf[:d.pos])
	}
	return result
}

// Columns returns the snapshot transposed: one slice per value column.
func (d *DisplayBuffer) Columns(width int) [][]float64 {
	snap := d.Snapshot()
	cols := make([][]float64, width)
	for i := range cols {
		cols[i] = make([]float64, 0, len(snap))
	}
	for _, s := range snap {
		for i := 0; i < width; i++ {
			v := math.NaN()
			if i < len(s.Values) {
				v = s.Values[i]
			}
			cols[i] = append(cols[i], v)
		}
	}
	return cols
}

func (d *DisplayBuffer) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.count
}

func (d *DisplayBuffer) Cap() int {
	return len(d.buf)
}
