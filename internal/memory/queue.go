// Package memory provides in-process queue and record store providers.
// They honor the same delay, lease and optimistic concurrency contracts as the
// networked backends and are safe for concurrent use within one process.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

var _ core.QueueProvider = (*Queue)(nil)

type queueEntry struct {
	id           string
	seq          uint64
	body         []byte
	insertedAt   time.Time
	visibleAt    time.Time
	receipt      string
	dequeueCount int
}

// Queue is an in-memory delay queue with leased delivery.
type Queue struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]*queueEntry
	seq     uint64
}

// NewQueue creates an empty queue. A nil clock uses time.Now.
func NewQueue(clock func() time.Time) *Queue {
	if clock == nil {
		clock = time.Now
	}
	return &Queue{
		clock:   clock,
		entries: make(map[string]*queueEntry),
	}
}

func (q *Queue) Enqueue(ctx context.Context, body []byte, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	q.seq++
	e := &queueEntry{
		id:         core.NewUUIDv7(),
		seq:        q.seq,
		body:       append([]byte(nil), body...),
		insertedAt: now,
		visibleAt:  now.Add(delay),
	}
	q.entries[e.id] = e
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, lease time.Duration) (*core.QueueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	var next *queueEntry
	for _, e := range q.entries {
		if e.visibleAt.After(now) {
			continue
		}
		if next == nil || e.visibleAt.Before(next.visibleAt) ||
			(e.visibleAt.Equal(next.visibleAt) && e.seq < next.seq) {
			next = e
		}
	}
	if next == nil {
		return nil, nil
	}

	next.receipt = core.NewUUIDv7()
	next.visibleAt = now.Add(lease)
	next.dequeueCount++
	return next.message(), nil
}

func (q *Queue) Delete(ctx context.Context, msg *core.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.leased(msg); err != nil {
		return err
	}
	delete(q.entries, msg.ID)
	return nil
}

func (q *Queue) UpdateContent(ctx context.Context, msg *core.QueueMessage, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.leased(msg)
	if err != nil {
		return err
	}
	e.body = append([]byte(nil), body...)
	msg.Body = append([]byte(nil), body...)
	return nil
}

func (q *Queue) ExtendLease(ctx context.Context, msg *core.QueueMessage, lease time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.leased(msg)
	if err != nil {
		return err
	}
	e.visibleAt = q.clock().Add(lease)
	msg.NextVisibleAt = e.visibleAt
	return nil
}

// leased returns the entry for msg if the delivery's receipt is still current.
func (q *Queue) leased(msg *core.QueueMessage) (*queueEntry, error) {
	if msg == nil {
		return nil, core.NewValidationError("queue message is required.", nil)
	}
	e, ok := q.entries[msg.ID]
	if !ok || e.receipt == "" || e.receipt != msg.Receipt {
		return nil, core.NewNotFoundError("Queue message", msg.ID)
	}
	return e, nil
}

// Len returns the number of messages held, visible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Health reports the queue depth. An in-process queue is always reachable.
func (q *Queue) Health() core.BackendHealth {
	depth := int64(q.Len())
	return core.BackendHealth{Type: "memory", Status: "connected", QueueDepth: &depth}
}

// Bodies returns every held message body ordered by enqueue sequence.
func (q *Queue) Bodies() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := make([]*queueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	bodies := make([][]byte, len(entries))
	for i, e := range entries {
		bodies[i] = append([]byte(nil), e.body...)
	}
	return bodies
}

func (e *queueEntry) message() *core.QueueMessage {
	return &core.QueueMessage{
		ID:            e.id,
		Receipt:       e.receipt,
		Body:          append([]byte(nil), e.body...),
		DequeueCount:  e.dequeueCount,
		InsertedAt:    e.insertedAt,
		NextVisibleAt: e.visibleAt,
	}
}
