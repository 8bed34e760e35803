package screening

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
	"knowledge-engine/internal/scanner"
	"knowledge-engine/internal/store"
)

type fakeStore struct {
	rules      []*enginetypes.FilterRule
	categoryID string
	upserted   []*enginetypes.ScreeningResult
	deleted    []string
	changed    bool
}

func (f *fakeStore) CategoryForExtension(_ context.Context, _ string) (string, error) {
	return f.categoryID, nil
}

func (f *fakeStore) ListFilterRules(_ context.Context) ([]*enginetypes.FilterRule, error) {
	return f.rules, nil
}

func (f *fakeStore) UpsertScreeningResult(_ context.Context, r *enginetypes.ScreeningResult) (*store.UpsertResult, error) {
	f.upserted = append(f.upserted, r)
	return &store.UpsertResult{Result: r, Changed: f.changed}, nil
}

func (f *fakeStore) MarkDeleted(_ context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	return nil
}

func newRunningBus(t *testing.T) *events.EventBus {
	t.Helper()
	bus := events.NewEventBus(events.DefaultBusConfig())
	require.NoError(t, bus.Start())
	t.Cleanup(func() { _ = bus.Stop() })
	return bus
}

func TestExcludeRuleShortCircuitsWithNoPersistence(t *testing.T) {
	fs := &fakeStore{
		rules: []*enginetypes.FilterRule{
			{Name: "no-tmp", RuleType: enginetypes.RuleTypeExtension, Pattern: "tmp", PatternType: enginetypes.PatternTypeExact, Action: enginetypes.ActionExclude, Enabled: true},
		},
	}
	p := New(fs, nil, logging.NewLogger(logging.INFO))

	err := p.Process(context.Background(), scanner.Candidate{Path: "/a/x.tmp", Name: "x.tmp", Extension: "tmp"})
	require.NoError(t, err)
	require.Empty(t, fs.upserted)
}

func TestUnchangedFingerprintEmitsNoEvent(t *testing.T) {
	bus := newRunningBus(t)
	fs := &fakeStore{changed: false}
	received := make(chan *events.Event, 1)
	sub, err := bus.Subscribe("test", &events.EventFilter{Names: []string{events.ScreeningResultUpdated}})
	require.NoError(t, err)
	go func() {
		for e := range sub.Channel {
			received <- e
		}
	}()

	p := New(fs, bus, logging.NewLogger(logging.INFO))
	require.NoError(t, p.Process(context.Background(), scanner.Candidate{Path: "/a/readme.md", Name: "readme.md", Extension: "md"}))

	select {
	case <-received:
		t.Fatal("expected no event for an unchanged fingerprint")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChangedFingerprintEmitsEvent(t *testing.T) {
	bus := newRunningBus(t)
	fs := &fakeStore{changed: true}
	sub, err := bus.Subscribe("test", &events.EventFilter{Names: []string{events.ScreeningResultUpdated}})
	require.NoError(t, err)

	p := New(fs, bus, logging.NewLogger(logging.INFO))
	require.NoError(t, p.Process(context.Background(), scanner.Candidate{Path: "/a/readme.md", Name: "readme.md", Extension: "md"}))

	select {
	case e := <-sub.Channel:
		require.Equal(t, events.ScreeningResultUpdated, e.Name)
	case <-time.After(time.Second):
		t.Fatal("expected screening-result-updated event")
	}
}
