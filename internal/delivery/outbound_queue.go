package delivery

import (
	"sync"

	"meshbridge/internal/models"
)

// QueuedMessage is a message waiting for the scheduler, with the options it was queued with.
type QueuedMessage struct {
	Message *models.UnifiedMessage
	Options models.DeliveryOptions
}

// OutboundQueue holds messages accepted before delivery, in FIFO order.
type OutboundQueue struct {
	mu    sync.Mutex
	items []QueuedMessage
	ids   map[string]struct{}
}

func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{ids: make(map[string]struct{})}
}

// Push queues a copy of msg. It reports false if the ID is already queued.
func (q *OutboundQueue) Push(msg *models.UnifiedMessage, opts models.DeliveryOptions) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.ids[msg.ID]; dup {
		return false
	}
	q.ids[msg.ID] = struct{}{}
	q.items = append(q.items, QueuedMessage{Message: msg.Clone(), Options: opts})
	return true
}

// Drain removes and returns up to n messages. n <= 0 drains everything.
func (q *OutboundQueue) Drain(n int) []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n > len(q.items) {
		n = len(q.items)
	}
	out := make([]QueuedMessage, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0:0], q.items[n:]...)
	for _, item := range out {
		delete(q.ids, item.Message.ID)
	}
	return out
}

func (q *OutboundQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.ids[id]
	return ok
}

func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
