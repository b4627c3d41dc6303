package queue

import (
	"sync"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// MemQueue is a bounded in-memory FIFO of journaled patches.
type MemQueue struct {
	mu   sync.Mutex
	data []ports.QueuedPatch
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	return &MemQueue{
		data: make([]ports.QueuedPatch, 0, capacity),
		cap:  capacity,
	}
}

// Enqueue appends p unless the queue is full.
func (q *MemQueue) Enqueue(id ports.WALEntryID, p *domain.Patch) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, ports.QueuedPatch{ID: id, Patch: p})
	return true
}

// DequeueBatch removes up to max patches from the head. max <= 0 drains the queue.
func (q *MemQueue) DequeueBatch(max int) []ports.QueuedPatch {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]ports.QueuedPatch, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.PatchQueue = (*MemQueue)(nil)
