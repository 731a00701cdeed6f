// Package queue holds messages that could not be delivered because no
// destination connection existed at forwarding time.
package queue

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gamebridge/relay/internal/protocol"
)

// Entry pairs an undelivered message with its source connection and the
// moment it was queued.
type Entry struct {
	Msg        *protocol.Message
	SourceID   string
	EnqueuedAt time.Time
}

// Queue is a bounded FIFO shared across all message types. At capacity the
// oldest entry is evicted to admit the newest.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
	logger  zerolog.Logger
}

func New(capacity int, logger zerolog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		cap:    capacity,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Push appends an entry, evicting the oldest one first when the queue is
// full. Eviction is logged and reported to the caller.
func (q *Queue) Push(e Entry) (evicted bool) {
	q.mu.Lock()
	var old *Entry
	if len(q.entries) >= q.cap {
		head := q.entries[0]
		old = &head
		q.entries = append(q.entries[:0], q.entries[1:]...)
	}
	q.entries = append(q.entries, e)
	depth := len(q.entries)
	q.mu.Unlock()

	if old != nil {
		q.logger.Warn().
			Str("msg_id", old.Msg.ID).
			Str("msg_type", old.Msg.Type).
			Int("capacity", q.cap).
			Msg("queue full, evicted oldest message")
	}
	q.logger.Debug().
		Str("msg_id", e.Msg.ID).
		Int("depth", depth).
		Msg("message queued")
	return old != nil
}

// DrainAll atomically swaps out the current contents and returns them in
// arrival order. The queue is empty afterwards.
func (q *Queue) DrainAll() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.entries
	q.entries = nil
	return drained
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
