// Package configqueue implements the ScanPending/ScanComplete gate
// for filesystem-topology mutations: while a scan is running, folder
// add/remove/toggle requests are appended to a durable log instead of
// touching the store directly; once the scan completes, the log
// drains in FIFO order before the engine accepts inline mutations
// again. Structured like the teacher's EventStore write-buffer + flush
// loop (mutex-guarded state, explicit drain call) but driven
// synchronously by scan-complete rather than a timer.
package configqueue

import (
	"context"
	"fmt"
	"sync"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
)

// Applier executes one drained (or inline) ConfigChange against the
// store's folder topology. The caller (cmd/engine's wiring) supplies
// this so the queue itself stays ignorant of store internals.
type Applier func(ctx context.Context, change *enginetypes.ConfigChange) error

// Persister is the subset of store.Store the queue needs for durable
// FIFO bookkeeping.
type Persister interface {
	EnqueueConfigChange(ctx context.Context, c *enginetypes.ConfigChange) error
	ListQueuedConfigChanges(ctx context.Context) ([]*enginetypes.ConfigChange, error)
	DequeueConfigChange(ctx context.Context, id string) error
}

// Queue is the ScanPending/ScanComplete gate. Starts ScanPending so
// topology requests issued before the first scan completes queue
// rather than race the scanner's initial walk.
type Queue struct {
	persist Persister
	bus     *events.EventBus
	apply   Applier
	logger  logging.Logger

	mu    sync.Mutex
	state enginetypes.ScanState
}

// New constructs a Queue in the ScanPending state.
func New(persist Persister, bus *events.EventBus, apply Applier, logger logging.Logger) *Queue {
	return &Queue{
		persist: persist,
		bus:     bus,
		apply:   apply,
		logger:  logger,
		state:   enginetypes.ScanPending,
	}
}

// State reports the queue's current gate.
func (q *Queue) State() enginetypes.ScanState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Enqueue submits one topology mutation. While ScanPending it is
// durably queued and "queued" is returned; while ScanComplete the
// queue drains first (FIFO), then the new change is applied inline
// and "executed" is returned, per spec.md §4.3.
func (q *Queue) Enqueue(ctx context.Context, change *enginetypes.ConfigChange) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == enginetypes.ScanPending {
		if err := q.persist.EnqueueConfigChange(ctx, change); err != nil {
			return "", fmt.Errorf("configqueue: enqueue: %w", err)
		}
		return "queued", nil
	}

	q.drainLocked(ctx)
	if err := q.apply(ctx, change); err != nil {
		return "", fmt.Errorf("configqueue: apply: %w", err)
	}
	q.publishApplied(change, true)
	return "executed", nil
}

// CompleteScan transitions the queue to ScanComplete and drains any
// changes accumulated during the scan, in the order they were queued.
func (q *Queue) CompleteScan(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.state = enginetypes.ScanComplete
	q.drainLocked(ctx)

	if q.bus != nil {
		_ = q.bus.Publish(events.NewEvent(events.ConfigQueueDrained, nil))
	}
	return nil
}

// drainLocked applies every queued change in order. A failed item is
// logged and dequeued so the drain keeps moving — it is not retried,
// per spec.md §4.3 ("the item is logged, marked failed, and the drain
// continues"); callers learn of the failure only through the emitted
// event's applied=false payload, since config_changes has no status
// column to persist a terminal failure marker.
func (q *Queue) drainLocked(ctx context.Context) {
	queued, err := q.persist.ListQueuedConfigChanges(ctx)
	if err != nil {
		q.logger.Error("configqueue: list queued changes failed", "error", err)
		return
	}

	for _, change := range queued {
		applyErr := q.apply(ctx, change)
		if applyErr != nil {
			q.logger.Error("configqueue: drain item failed", "change_id", change.ID, "kind", change.Kind, "error", applyErr)
		}
		if err := q.persist.DequeueConfigChange(ctx, change.ID); err != nil {
			q.logger.Error("configqueue: dequeue failed", "change_id", change.ID, "error", err)
		}
		q.publishApplied(change, applyErr == nil)
	}
}

func (q *Queue) publishApplied(change *enginetypes.ConfigChange, applied bool) {
	if q.bus == nil {
		return
	}
	_ = q.bus.Publish(events.NewEvent(events.ConfigQueueDrained, map[string]interface{}{
		"change_id": change.ID,
		"kind":      change.Kind,
		"applied":   applied,
	}))
}
