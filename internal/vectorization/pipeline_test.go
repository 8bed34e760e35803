package vectorization

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/capability"
	"knowledge-engine/internal/config"
	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
)

// fakeStore is an in-memory stand-in for the task-bookkeeping slice of
// store.Store.
type fakeStore struct {
	mu     sync.Mutex
	tasks  map[string]*enginetypes.VectorizationTask
	active map[string]string // file_path -> task id, only while non-terminal
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]*enginetypes.VectorizationTask{}, active: map[string]string{}}
}

func (f *fakeStore) CreateVectorizationTask(ctx context.Context, filePath string) (*enginetypes.VectorizationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "task-" + time.Now().Format("150405.000000") + "-" + string(rune('a'+f.nextID))
	task := &enginetypes.VectorizationTask{ID: id, FilePath: filePath, Status: enginetypes.TaskStatusQueued, Stage: enginetypes.StageQueued}
	f.tasks[id] = task
	f.active[filePath] = id
	return task, nil
}

func (f *fakeStore) ActiveTaskForFile(ctx context.Context, filePath string) (*enginetypes.VectorizationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.active[filePath]
	if !ok {
		return nil, nil
	}
	return f.tasks[id], nil
}

func (f *fakeStore) UpdateTaskProgress(ctx context.Context, id string, stage enginetypes.Stage, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[id]; ok {
		t.Stage, t.Progress = stage, progress
	}
	return nil
}

func (f *fakeStore) CompleteTask(ctx context.Context, id string, parentCount, childCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	t.Status, t.Stage, t.Progress = enginetypes.TaskStatusCompleted, enginetypes.StageCompleted, 100
	t.ParentCount, t.ChildCount = parentCount, childCount
	delete(f.active, t.FilePath)
	return nil
}

func (f *fakeStore) FailTask(ctx context.Context, id, errMsg, helpURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	t.Status, t.Stage, t.Error, t.HelpURL = enginetypes.TaskStatusFailed, enginetypes.StageFailed, errMsg, helpURL
	delete(f.active, t.FilePath)
	return nil
}

// fakeVectorStore is an in-memory stand-in for vectorstore.Store.
type fakeVectorStore struct {
	mu     sync.Mutex
	chunks []*enginetypes.VectorChunk
	failN  int // UpsertBatch fails this many times before succeeding
}

func (v *fakeVectorStore) UpsertBatch(ctx context.Context, chunks []*enginetypes.VectorChunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failN > 0 {
		v.failN--
		return assert.AnError
	}
	v.chunks = append(v.chunks, chunks...)
	return nil
}

func (v *fakeVectorStore) DeleteByFilePath(ctx context.Context, filePath string) error { return nil }

// fakeEmbedder always succeeds unless missing is set. reassignAfter, if
// positive, flips the assigned model ID for CapabilityText once that
// many AssignedModel calls have been observed, simulating an operator
// reassigning the capability partway through a task.
type fakeEmbedder struct {
	mu            sync.Mutex
	missing       bool
	reassignAfter int
	calls         int
}

func (e *fakeEmbedder) Embed(ctx context.Context, cap enginetypes.Capability, req *capability.EmbedRequest) ([]float32, error) {
	if e.missing {
		return nil, &capability.ErrModelMissing{Capability: cap}
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *fakeEmbedder) AssignedModel(ctx context.Context, cap enginetypes.Capability) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cap != enginetypes.CapabilityText {
		return "vision-model", nil
	}
	e.calls++
	if e.reassignAfter > 0 && e.calls > e.reassignAfter {
		return "model-b", nil
	}
	return "model-a", nil
}

// fakeBus records every published event.
type fakeBus struct {
	mu     sync.Mutex
	events []*events.Event
}

func (b *fakeBus) Publish(e *events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *fakeBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Name
	}
	return out
}

func testPipeline(t *testing.T, embedder Embedder, vectors VectorStore) (*Pipeline, *fakeStore, *fakeBus) {
	t.Helper()
	st := newFakeStore()
	bus := &fakeBus{}
	cfg := &config.ChunkingConfig{ParentMaxTokens: 50, ChildMaxTokens: 10, ChildOverlapTokens: 2, WorkerCount: 2, QueueCapacity: 8, MaxRetries: 2}
	p := New(cfg, st, vectors, embedder, bus, logging.NewLogger(logging.ERROR))
	return p, st, bus
}

func TestPipeline_EnqueueAndProcessCompletes(t *testing.T) {
	p, st, bus := testPipeline(t, &fakeEmbedder{}, &fakeVectorStore{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	task, err := p.Enqueue(ctx, Request{FilePath: "/docs/a.txt", Extension: "txt", Text: "hello world this is a test document with enough words to chunk nicely across windows"})
	require.NoError(t, err)
	require.NotNil(t, task)

	require.Eventually(t, func() bool {
		got, _ := st.ActiveTaskForFile(ctx, "/docs/a.txt")
		return got == nil
	}, time.Second, 10*time.Millisecond)

	final := st.tasks[task.ID]
	assert.Equal(t, enginetypes.TaskStatusCompleted, final.Status)
	assert.Greater(t, final.ParentCount, 0)
	assert.Contains(t, bus.names(), events.MultivectorStarted)
	assert.Contains(t, bus.names(), events.MultivectorCompleted)
}

func TestPipeline_DuplicateEnqueueReturnsSameTask(t *testing.T) {
	p, st, _ := testPipeline(t, &fakeEmbedder{}, &fakeVectorStore{})
	ctx := context.Background()

	first, err := p.Enqueue(ctx, Request{FilePath: "/docs/b.txt", Text: "short text"})
	require.NoError(t, err)
	second, err := p.Enqueue(ctx, Request{FilePath: "/docs/b.txt", Text: "short text, different content this time"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "duplicate enqueue for an active file should return the existing task")
	assert.Len(t, st.tasks, 1)
}

func TestPipeline_MissingCapabilityFailsWithConfigurationGapCode(t *testing.T) {
	p, st, bus := testPipeline(t, &fakeEmbedder{missing: true}, &fakeVectorStore{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	task, err := p.Enqueue(ctx, Request{FilePath: "/docs/c.txt", Text: "some words here to chunk into windows for embedding"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return st.tasks[task.ID].Status == enginetypes.TaskStatusFailed
	}, time.Second, 10*time.Millisecond)

	final := st.tasks[task.ID]
	assert.Equal(t, "capability_missing", final.Error)
	assert.NotEmpty(t, final.HelpURL)
	assert.Contains(t, bus.names(), events.MultivectorFailed)
}

func TestPipeline_MidTaskReassignmentFailsWithRetryableCode(t *testing.T) {
	// reassignAfter: 1 lets the snapshot call (the first AssignedModel
	// call for CapabilityText) see "model-a", then flips to "model-b"
	// before the first chunk's own check runs, reproducing a capability
	// reassignment that lands mid-task rather than before it starts.
	embedder := &fakeEmbedder{reassignAfter: 1}
	p, st, bus := testPipeline(t, embedder, &fakeVectorStore{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	task, err := p.Enqueue(ctx, Request{FilePath: "/docs/e.txt", Text: "words words words to make chunks of a reasonable size for this test"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return st.tasks[task.ID].Status == enginetypes.TaskStatusFailed
	}, time.Second, 10*time.Millisecond)

	final := st.tasks[task.ID]
	assert.Equal(t, "capability_reassigned", final.Error)
	assert.NotEmpty(t, final.HelpURL)
	assert.Contains(t, bus.names(), events.MultivectorFailed)

	// The task is terminal, so the file is no longer active and a fresh
	// enqueue for the same path starts a new task rather than being
	// folded into the failed one — the "retryable at the scheduler's
	// discretion" half of the invariant.
	again, err := p.Enqueue(ctx, Request{FilePath: "/docs/e.txt", Text: "words words words to make chunks of a reasonable size for this test"})
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, again.ID)
}

func TestPipeline_TransientVectorStoreFailureRetriesThenSucceeds(t *testing.T) {
	vectors := &fakeVectorStore{failN: 1}
	p, st, _ := testPipeline(t, &fakeEmbedder{}, vectors)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	task, err := p.Enqueue(ctx, Request{FilePath: "/docs/d.txt", Text: "words words words to make chunks of a reasonable size for this test"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return st.tasks[task.ID].IsTerminal()
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, enginetypes.TaskStatusCompleted, st.tasks[task.ID].Status)
	assert.NotEmpty(t, vectors.chunks)
}

func TestPipeline_InteractiveRequestsAreServedBeforeBatch(t *testing.T) {
	st := newFakeStore()
	bus := &fakeBus{}
	cfg := &config.ChunkingConfig{ParentMaxTokens: 50, ChildMaxTokens: 10, ChildOverlapTokens: 2, WorkerCount: 1, QueueCapacity: 8, MaxRetries: 1}
	p := New(cfg, st, &fakeVectorStore{}, &fakeEmbedder{}, bus, logging.NewLogger(logging.ERROR))
	ctx := context.Background()

	// Fill the batch lane before starting any workers, then add one
	// interactive request; with a single worker it must be observed
	// processing the interactive file at least as early as any batch one.
	for i := 0; i < 3; i++ {
		_, err := p.Enqueue(ctx, Request{FilePath: "/docs/batch" + string(rune('a'+i)) + ".txt", Text: "batch content words here"})
		require.NoError(t, err)
	}
	_, err := p.Enqueue(ctx, Request{FilePath: "/docs/interactive.txt", Text: "interactive content words here", Interactive: true})
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	p.Start(runCtx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		got, _ := st.ActiveTaskForFile(runCtx, "/docs/interactive.txt")
		return got == nil
	}, 2*time.Second, 10*time.Millisecond)

	for _, e := range bus.events {
		if e.Name != events.MultivectorCompleted {
			continue
		}
		if e.FilePath == "/docs/interactive.txt" {
			return
		}
		t.Fatalf("batch file %s completed before interactive.txt", e.FilePath)
	}
	t.Fatal("expected interactive.txt to complete")
}
