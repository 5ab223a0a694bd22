package session

import (
	"sync"
)

// Queue is a bounded FIFO of PCM chunks between the client boundary and the
// provider stream writer. The transport already delivers chunks in order,
// so the queue only stages and meters them; it never reorders. Overflow
// rejects the incoming chunk rather than evicting accepted audio, keeping
// what the provider hears a prefix of what the client said.
type Queue struct {
	ch       chan []byte
	maxBytes int

	// Accounting
	pendingBytes  int
	totalChunks   uint64
	totalBytes    uint64
	droppedChunks uint64

	closed bool
	mu     sync.Mutex
}

// QueueStats represents queue statistics for monitoring
type QueueStats struct {
	Depth         int     `json:"depth"`
	PendingBytes  int     `json:"pending_bytes"`
	TotalChunks   uint64  `json:"total_chunks"`
	TotalBytes    uint64  `json:"total_bytes"`
	DroppedChunks uint64  `json:"dropped_chunks"`
	DropRate      float64 `json:"drop_rate"`
}

// NewQueue creates a queue holding at most maxChunks chunks and maxBytes of
// pending audio. Non-positive bounds fall back to defaults sized for a few
// seconds of 16kHz PCM.
func NewQueue(maxChunks, maxBytes int) *Queue {
	if maxChunks <= 0 {
		maxChunks = 256
	}
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	return &Queue{
		ch:       make(chan []byte, maxChunks),
		maxBytes: maxBytes,
	}
}

// Push appends one chunk. It fails fast instead of blocking the caller's
// read loop: ErrQueueFull when either bound is hit, ErrQueueClosed once the
// queue has shut down.
func (q *Queue) Push(pcm []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.pendingBytes+len(pcm) > q.maxBytes {
		q.droppedChunks++
		return ErrQueueFull
	}

	select {
	case q.ch <- pcm:
		q.pendingBytes += len(pcm)
		q.totalChunks++
		q.totalBytes += uint64(len(pcm))
		return nil
	default:
		q.droppedChunks++
		return ErrQueueFull
	}
}

// Pop removes the oldest chunk, blocking until one arrives. ok is false
// once the queue is closed and fully drained.
func (q *Queue) Pop() ([]byte, bool) {
	pcm, ok := <-q.ch
	if !ok {
		return nil, false
	}

	q.mu.Lock()
	q.pendingBytes -= len(pcm)
	q.mu.Unlock()
	return pcm, true
}

// Close stops accepting chunks. Audio already queued stays poppable so a
// stopping session can drain what the client sent before teardown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Depth returns the number of queued chunks
func (q *Queue) Depth() int {
	return len(q.ch)
}

// GetStats returns current queue statistics
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropRate := float64(0)
	if attempts := q.totalChunks + q.droppedChunks; attempts > 0 {
		dropRate = float64(q.droppedChunks) / float64(attempts) * 100
	}

	return QueueStats{
		Depth:         len(q.ch),
		PendingBytes:  q.pendingBytes,
		TotalChunks:   q.totalChunks,
		TotalBytes:    q.totalBytes,
		DroppedChunks: q.droppedChunks,
		DropRate:      dropRate,
	}
}
