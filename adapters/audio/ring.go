package audio

import "sync"

// sampleRing is a bounded FIFO of PCM samples shared by one producer and one
// consumer. dataReady and spaceReady wake a waiting consumer or producer.
type sampleRing struct {
	mu     sync.Mutex
	buf    []int16
	head   int
	size   int
	closed bool

	dataReady  chan struct{}
	spaceReady chan struct{}
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{
		buf:        make([]int16, capacity),
		dataReady:  make(chan struct{}, 1),
		spaceReady: make(chan struct{}, 1),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (r *sampleRing) capacity() int {
	return len(r.buf)
}

func (r *sampleRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *sampleRing) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *sampleRing) push(samples []int16) {
	for _, s := range samples {
		r.buf[(r.head+r.size)%len(r.buf)] = s
		r.size++
	}
}

func (r *sampleRing) pop(dst []int16) {
	for i := range dst {
		dst[i] = r.buf[r.head]
		r.head = (r.head + 1) % len(r.buf)
		r.size--
	}
}

// writeOverwrite appends samples, dropping the oldest ones on overflow.
// It returns the number of samples dropped.
func (r *sampleRing) writeOverwrite(samples []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return len(samples)
	}

	if len(samples) > len(r.buf) {
		excess := len(samples) - len(r.buf)
		dropped := excess + r.size
		samples = samples[excess:]
		r.head, r.size = 0, 0
		r.push(samples)
		notify(r.dataReady)
		return dropped
	}

	dropped := 0
	if free := len(r.buf) - r.size; len(samples) > free {
		dropped = len(samples) - free
		r.head = (r.head + dropped) % len(r.buf)
		r.size -= dropped
	}
	r.push(samples)
	notify(r.dataReady)
	return dropped
}

// tryWriteAll appends all samples if they fit and reports whether they did
func (r *sampleRing) tryWriteAll(samples []int16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.buf)-r.size < len(samples) {
		return false
	}
	r.push(samples)
	notify(r.dataReady)
	return true
}

// tryReadExact fills dst completely if enough samples are queued
func (r *sampleRing) tryReadExact(dst []int16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size < len(dst) {
		return false
	}
	r.pop(dst)
	notify(r.spaceReady)
	return true
}

// readUpTo drains at most len(dst) samples and returns how many were read
func (r *sampleRing) readUpTo(dst []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.size
	if n > len(dst) {
		n = len(dst)
	}
	r.pop(dst[:n])
	if n > 0 {
		notify(r.spaceReady)
	}
	return n
}

func (r *sampleRing) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	notify(r.dataReady)
	notify(r.spaceReady)
}
