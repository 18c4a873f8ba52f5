package db

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Sync actions
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// SyncOp is one pending store mutation waiting to be written to the
// append-only log
type SyncOp struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	EntityType string          `json:"entity_type"` // "character" | "campaign" | "debrief"
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// key is the composite identity used for dedup: later ops for the same
// entity replace earlier ones
func (op *SyncOp) key() string {
	return op.EntityType + ":" + op.EntityID
}

// SyncQueue accumulates store mutations between flushes. Repeated writes to
// the same entity collapse to the latest one, so a burst of edits costs one
// log row.
type SyncQueue struct {
	mu      sync.Mutex
	pending *list.List // *SyncOp
	index   map[string]*list.Element
}

// NewSyncQueue creates an empty queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{
		pending: list.New(),
		index:   make(map[string]*list.Element),
	}
}

// Enqueue adds an op, replacing any pending op for the same entity
func (q *SyncQueue) Enqueue(op *SyncOp) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op.ID == "" {
		op.ID = uuid.New().String()
	}

	if elem, ok := q.index[op.key()]; ok {
		elem.Value = op
		return
	}
	q.index[op.key()] = q.pending.PushBack(op)
}

// Drain pops all pending ops in enqueue order
func (q *SyncQueue) Drain() []*SyncOp {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ops []*SyncOp
	for elem := q.pending.Front(); elem != nil; elem = elem.Next() {
		ops = append(ops, elem.Value.(*SyncOp))
	}
	q.pending.Init()
	q.index = make(map[string]*list.Element)
	return ops
}

// Count returns the number of pending ops
func (q *SyncQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Flush drains the queue and writes each op to the log. Ops that fail to
// write are re-enqueued so the next flush retries them.
func (q *SyncQueue) Flush(ctx context.Context, db *DB) error {
	ops := q.Drain()

	var firstErr error
	for _, op := range ops {
		if err := db.AppendSyncLog(ctx, op); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			q.Enqueue(op)
		}
	}
	return firstErr
}
