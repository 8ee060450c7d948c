package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/zoobzio/clockz"
)

// PendingMax is the queue capacity. Overflow evicts the oldest entries.
const PendingMax = 200

// Reason classifies why a record was queued.
type Reason string

const (
	// ReasonNetwork is a transport failure: the device was offline or the
	// endpoint timed out.
	ReasonNetwork Reason = "network"
	// ReasonRemote is a rejection by a reachable endpoint.
	ReasonRemote Reason = "remote"
)

// PendingItem is a record awaiting delivery.
type PendingItem struct {
	Record    schema.WasteRecord `json:"record"`
	Reason    Reason             `json:"reason,omitempty"`
	StoredAt  time.Time          `json:"stored_at"`
	LastError string             `json:"last_error,omitempty"`
}

// Queue is the durable, bounded, de-duplicated pending queue.
//
// There is at most one item per record ID. Re-enqueueing an ID updates that
// item in place and keeps its position. Enqueue never blocks: when the queue
// is full the oldest items are dropped.
type Queue struct {
	mu       sync.Mutex
	kv       KV
	clock    clockz.Clock
	capacity int
}

// NewQueue creates a queue persisted in kv.
func NewQueue(kv KV, clock clockz.Clock) *Queue {
	return &Queue{kv: kv, clock: clock, capacity: PendingMax}
}

// load reads the queue. Older stores kept bare records instead of items;
// those are wrapped on read. An unreadable value yields an empty queue.
func (q *Queue) load(ctx context.Context) ([]PendingItem, error) {
	var raw []json.RawMessage
	found, err := getJSON(ctx, q.kv, KeyPendingQueue, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending queue: %w", err)
	}
	if !found {
		return nil, nil
	}

	items := make([]PendingItem, 0, len(raw))
	for _, entry := range raw {
		if bytes.Contains(entry, []byte(`"record"`)) {
			var item PendingItem
			if err := json.Unmarshal(entry, &item); err == nil && item.Record.ID != "" {
				items = append(items, item)
				continue
			}
		}
		var rec schema.WasteRecord
		if err := json.Unmarshal(entry, &rec); err == nil && rec.ID != "" {
			items = append(items, PendingItem{Record: rec})
		}
	}
	return items, nil
}

func (q *Queue) save(ctx context.Context, items []PendingItem) error {
	if items == nil {
		items = []PendingItem{}
	}
	if err := putJSON(ctx, q.kv, KeyPendingQueue, items); err != nil {
		return fmt.Errorf("failed to write pending queue: %w", err)
	}
	return nil
}

// Enqueue adds or updates the item for r.ID. It returns how many of the
// oldest items were evicted to stay within capacity.
func (q *Queue) Enqueue(ctx context.Context, r schema.WasteRecord, reason Reason, lastErr string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}

	now := q.clock.Now()
	updated := false
	for i := range items {
		if items[i].Record.ID == r.ID {
			items[i].Record = r
			items[i].Reason = reason
			items[i].StoredAt = now
			items[i].LastError = lastErr
			updated = true
			break
		}
	}
	if !updated {
		items = append(items, PendingItem{Record: r, Reason: reason, StoredAt: now, LastError: lastErr})
	}

	evicted := 0
	if len(items) > q.capacity {
		evicted = len(items) - q.capacity
		items = items[evicted:]
	}

	if err := q.save(ctx, items); err != nil {
		return 0, err
	}
	return evicted, nil
}

// List returns a snapshot of the queue, oldest first.
func (q *Queue) List(ctx context.Context) ([]PendingItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of pending items.
func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Remove deletes the items for the given record IDs.
func (q *Queue) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := items[:0]
	for _, item := range items {
		if !drop[item.Record.ID] {
			kept = append(kept, item)
		}
	}
	return q.save(ctx, kept)
}

// MarkFailed records a failed delivery attempt for id without moving it.
func (q *Queue) MarkFailed(ctx context.Context, id, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].Record.ID == id {
			items[i].LastError = lastErr
			return q.save(ctx, items)
		}
	}
	return nil
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(ctx, nil)
}
