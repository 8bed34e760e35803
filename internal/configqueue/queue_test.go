package configqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
)

type fakePersister struct {
	queued []*enginetypes.ConfigChange
}

func (f *fakePersister) EnqueueConfigChange(_ context.Context, c *enginetypes.ConfigChange) error {
	f.queued = append(f.queued, c)
	return nil
}

func (f *fakePersister) ListQueuedConfigChanges(_ context.Context) ([]*enginetypes.ConfigChange, error) {
	out := make([]*enginetypes.ConfigChange, len(f.queued))
	copy(out, f.queued)
	return out, nil
}

func (f *fakePersister) DequeueConfigChange(_ context.Context, id string) error {
	for i, c := range f.queued {
		if c.ID == id {
			f.queued = append(f.queued[:i], f.queued[i+1:]...)
			return nil
		}
	}
	return nil
}

func change(id string, kind enginetypes.ConfigChangeKind, path string) *enginetypes.ConfigChange {
	return &enginetypes.ConfigChange{ID: id, Kind: kind, Path: path}
}

// TestDrainAppliesInQueueOrder verifies scan-pending enqueue then
// scan-complete drain reaches the same final state as applying the
// same sequence inline, per spec.md §8 scenario 2.
func TestDrainAppliesInQueueOrder(t *testing.T) {
	ctx := context.Background()
	persist := &fakePersister{}
	var applied []string
	apply := func(_ context.Context, c *enginetypes.ConfigChange) error {
		applied = append(applied, string(c.Kind)+":"+c.Path)
		return nil
	}

	bus := events.NewEventBus(events.DefaultBusConfig())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	q := New(persist, bus, apply, logging.NewLogger(logging.INFO))
	require.Equal(t, enginetypes.ScanPending, q.State())

	state, err := q.Enqueue(ctx, change("1", enginetypes.ConfigChangeAddWhitelist, "/A"))
	require.NoError(t, err)
	require.Equal(t, "queued", state)

	state, err = q.Enqueue(ctx, change("2", enginetypes.ConfigChangeAddBlacklist, "/A/secret"))
	require.NoError(t, err)
	require.Equal(t, "queued", state)

	state, err = q.Enqueue(ctx, change("3", enginetypes.ConfigChangeDeleteFolder, "/A"))
	require.NoError(t, err)
	require.Equal(t, "queued", state)

	require.NoError(t, q.CompleteScan(ctx))

	require.Equal(t, []string{
		"add_white:/A",
		"add_black:/A/secret",
		"delete_folder:/A",
	}, applied)
	require.Empty(t, persist.queued, "drained queue should be empty")
	require.Equal(t, enginetypes.ScanComplete, q.State())
}

func TestEnqueueExecutesInlineOnceScanComplete(t *testing.T) {
	ctx := context.Background()
	persist := &fakePersister{}
	var applied []string
	apply := func(_ context.Context, c *enginetypes.ConfigChange) error {
		applied = append(applied, c.Path)
		return nil
	}

	bus := events.NewEventBus(events.DefaultBusConfig())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	q := New(persist, bus, apply, logging.NewLogger(logging.INFO))
	require.NoError(t, q.CompleteScan(ctx))

	state, err := q.Enqueue(ctx, change("1", enginetypes.ConfigChangeAddWhitelist, "/B"))
	require.NoError(t, err)
	require.Equal(t, "executed", state)
	require.Equal(t, []string{"/B"}, applied)
}

func TestDrainContinuesPastFailedItem(t *testing.T) {
	ctx := context.Background()
	persist := &fakePersister{}
	var seen []string
	realApply := func(_ context.Context, c *enginetypes.ConfigChange) error {
		seen = append(seen, c.ID)
		if c.ID == "bad" {
			return context.DeadlineExceeded
		}
		return nil
	}

	bus := events.NewEventBus(events.DefaultBusConfig())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	q := New(persist, bus, realApply, logging.NewLogger(logging.INFO))
	_, _ = q.Enqueue(ctx, change("ok1", enginetypes.ConfigChangeAddWhitelist, "/A"))
	_, _ = q.Enqueue(ctx, change("bad", enginetypes.ConfigChangeAddBlacklist, "/A/x"))
	_, _ = q.Enqueue(ctx, change("ok2", enginetypes.ConfigChangeDeleteFolder, "/A"))

	require.NoError(t, q.CompleteScan(ctx))
	require.Equal(t, []string{"ok1", "bad", "ok2"}, seen)
	require.Empty(t, persist.queued)
}
