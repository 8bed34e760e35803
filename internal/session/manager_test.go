package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
)

type fakePersister struct {
	sessions map[string]*enginetypes.Session
	pinned   map[string][]string
}

func newFakePersister() *fakePersister {
	return &fakePersister{sessions: map[string]*enginetypes.Session{}, pinned: map[string][]string{}}
}

func (f *fakePersister) CreateSession(_ context.Context) (*enginetypes.Session, error) {
	now := time.Now().UTC()
	sess := &enginetypes.Session{ID: "s1", ScenarioID: enginetypes.ScenarioNormal, Metadata: map[string]string{}, CreatedAt: now, UpdatedAt: now}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakePersister) GetSession(_ context.Context, id string) (*enginetypes.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return sess, nil
}

func (f *fakePersister) SaveSession(_ context.Context, sess *enginetypes.Session) error {
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakePersister) PinFile(_ context.Context, sessionID, filePath string) error {
	f.pinned[sessionID] = append(f.pinned[sessionID], filePath)
	return nil
}

func (f *fakePersister) UnpinFile(_ context.Context, sessionID, filePath string) error {
	out := f.pinned[sessionID][:0]
	for _, p := range f.pinned[sessionID] {
		if p != filePath {
			out = append(out, p)
		}
	}
	f.pinned[sessionID] = out
	return nil
}

func (f *fakePersister) PinnedFiles(_ context.Context, sessionID string) ([]string, error) {
	return f.pinned[sessionID], nil
}

func (f *fakePersister) SetToolSelection(_ context.Context, _, _ string, _ bool) error { return nil }

func (f *fakePersister) ToolSelections(_ context.Context, _ string) ([]*enginetypes.SessionToolSelection, error) {
	return nil, nil
}

type fakeTasks struct {
	byFile map[string]*enginetypes.VectorizationTask
}

func (f *fakeTasks) LatestTaskForFile(_ context.Context, filePath string) (*enginetypes.VectorizationTask, error) {
	t, ok := f.byFile[filePath]
	if !ok {
		return nil, nil
	}
	return t, nil
}

type fakeModality struct {
	byFile map[string]map[enginetypes.Modality]bool
}

func (f *fakeModality) FileModalities(_ context.Context, filePath string) (map[enginetypes.Modality]bool, error) {
	return f.byFile[filePath], nil
}

// TestEnterCoReadingRejectsWhenNotReady covers spec.md §8 scenario 5:
// a processing (non-completed) task rejects the transition with
// reason not_ready and leaves session state unchanged.
func TestEnterCoReadingRejectsWhenNotReady(t *testing.T) {
	ctx := context.Background()
	persist := newFakePersister()
	tasks := &fakeTasks{byFile: map[string]*enginetypes.VectorizationTask{
		"paper.pdf": {Status: enginetypes.TaskStatusProcessing},
	}}
	modality := &fakeModality{byFile: map[string]map[enginetypes.Modality]bool{
		"paper.pdf": {enginetypes.ModalityText: true},
	}}
	bus := events.NewEventBus(events.DefaultBusConfig())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	c := New(persist, tasks, modality, bus, nil)
	sess, err := c.Create(ctx)
	require.NoError(t, err)

	_, err = c.EnterCoReading(ctx, sess.ID, "paper.pdf")
	require.Error(t, err)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, ReasonNotReady, rejected.Reason)

	got, err := c.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, enginetypes.ScenarioNormal, got.ScenarioID)
}

func TestEnterCoReadingRejectsUnsupportedModality(t *testing.T) {
	ctx := context.Background()
	persist := newFakePersister()
	tasks := &fakeTasks{byFile: map[string]*enginetypes.VectorizationTask{
		"scan.pdf": {Status: enginetypes.TaskStatusCompleted},
	}}
	modality := &fakeModality{byFile: map[string]map[enginetypes.Modality]bool{
		"scan.pdf": {enginetypes.ModalityImage: true},
	}}
	bus := events.NewEventBus(events.DefaultBusConfig())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	c := New(persist, tasks, modality, bus, nil)
	sess, err := c.Create(ctx)
	require.NoError(t, err)

	_, err = c.EnterCoReading(ctx, sess.ID, "scan.pdf")
	require.Error(t, err)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, ReasonUnsupportedModality, rejected.Reason)
}

// TestEnterExitCoReadingRoundTrip verifies the atomic scenario_id +
// metadata.pdf_path transition and its reverse.
func TestEnterExitCoReadingRoundTrip(t *testing.T) {
	ctx := context.Background()
	persist := newFakePersister()
	tasks := &fakeTasks{byFile: map[string]*enginetypes.VectorizationTask{
		"paper.pdf": {Status: enginetypes.TaskStatusCompleted},
	}}
	modality := &fakeModality{byFile: map[string]map[enginetypes.Modality]bool{
		"paper.pdf": {enginetypes.ModalityText: true},
	}}
	bus := events.NewEventBus(events.DefaultBusConfig())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	c := New(persist, tasks, modality, bus, nil)
	sess, err := c.Create(ctx)
	require.NoError(t, err)

	sess, err = c.EnterCoReading(ctx, sess.ID, "paper.pdf")
	require.NoError(t, err)
	require.Equal(t, enginetypes.ScenarioCoReading, sess.ScenarioID)
	require.Equal(t, "paper.pdf", sess.PDFPath())

	sess, err = c.ExitCoReading(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, enginetypes.ScenarioNormal, sess.ScenarioID)
	require.Empty(t, sess.PDFPath())
}

func TestPinUnpinFile(t *testing.T) {
	ctx := context.Background()
	persist := newFakePersister()
	c := New(persist, &fakeTasks{byFile: map[string]*enginetypes.VectorizationTask{}}, &fakeModality{byFile: map[string]map[enginetypes.Modality]bool{}}, nil, nil)

	sess, err := c.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, c.PinFile(ctx, sess.ID, "a.md"))
	require.NoError(t, c.PinFile(ctx, sess.ID, "b.md"))
	files, err := c.PinnedFiles(ctx, sess.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.md", "b.md"}, files)

	require.NoError(t, c.UnpinFile(ctx, sess.ID, "a.md"))
	files, err = c.PinnedFiles(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"b.md"}, files)
}
