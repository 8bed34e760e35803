// Package vectorization is the bounded worker pool that turns a
// screened file's extracted text into the hierarchical parent/child
// chunk tree (internal/chunking) and embeds every chunk through the
// capability router, persisting the result to the vector store
// (spec.md §4.7). Grounded on the teacher's
// internal/embeddings.RateLimiter + internal/circuitbreaker +
// internal/retry trio that wraps every embedding call, generalized
// here to a two-lane (interactive/batch) priority queue feeding a
// fixed-size worker set instead of the teacher's single-lane queue.
package vectorization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"knowledge-engine/internal/capability"
	"knowledge-engine/internal/chunking"
	"knowledge-engine/internal/config"
	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
	"knowledge-engine/internal/retry"
	"knowledge-engine/internal/vectorstore"
)

// Store is the subset of store.Store the pipeline depends on for task
// bookkeeping.
type Store interface {
	CreateVectorizationTask(ctx context.Context, filePath string) (*enginetypes.VectorizationTask, error)
	ActiveTaskForFile(ctx context.Context, filePath string) (*enginetypes.VectorizationTask, error)
	UpdateTaskProgress(ctx context.Context, id string, stage enginetypes.Stage, progress int) error
	CompleteTask(ctx context.Context, id string, parentCount, childCount int) error
	FailTask(ctx context.Context, id, errMsg, helpURL string) error
}

// VectorStore is the subset of vectorstore.Store the pipeline writes
// embedded chunks to.
type VectorStore interface {
	UpsertBatch(ctx context.Context, chunks []*enginetypes.VectorChunk) error
	DeleteByFilePath(ctx context.Context, filePath string) error
}

// Embedder is the subset of capability.Router the pipeline calls
// through for text/vision embeddings.
type Embedder interface {
	Embed(ctx context.Context, cap enginetypes.Capability, req *capability.EmbedRequest) ([]float32, error)
	AssignedModel(ctx context.Context, cap enginetypes.Capability) (string, error)
}

// errCapabilityReassigned signals that the model bound to a capability
// changed since a task started embedding against it — spec.md §4.7's
// "a mid-task capability reassignment invalidates in-flight work for
// that file (task fails with a retryable error code)".
var errCapabilityReassigned = fmt.Errorf("vectorization: capability reassigned mid-task")

// Publisher is the subset of the event bus the pipeline publishes
// through.
type Publisher interface {
	Publish(e *events.Event) error
}

// Request is one file awaiting chunking and vectorization.
type Request struct {
	FilePath    string
	Extension   string
	Text        string
	Images      []chunking.ImageAsset
	Interactive bool // true: a session pinned this file, outranks batch work
}

// helpURLs maps a failure code to the documentation link multivector-
// failed carries, per spec.md §4.7 ("carrying error code and optional
// help link").
var helpURLs = map[string]string{
	"capability_missing":    "https://docs.example.invalid/errors/capability-missing",
	"capability_reassigned": "https://docs.example.invalid/errors/capability-reassigned",
}

// Pipeline is the bounded worker pool driving every VectorizationTask
// from queued through chunking/vectorizing to completed or failed.
type Pipeline struct {
	store   Store
	vectors VectorStore
	embed   Embedder
	chunker *chunking.Chunker
	bus     Publisher
	logger  logging.Logger
	cfg     *config.ChunkingConfig
	retrier *retry.Retrier

	interactiveCh chan *workItem
	batchCh       chan *workItem

	fileLocksMu sync.Mutex
	fileLocks   map[string]*sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type workItem struct {
	req  Request
	task *enginetypes.VectorizationTask
}

// New constructs a Pipeline. cfg supplies ParentMaxTokens/
// ChildMaxTokens/ChildOverlapTokens/WorkerCount/QueueCapacity/MaxRetries.
func New(cfg *config.ChunkingConfig, store Store, vectors VectorStore, embed Embedder, bus Publisher, logger logging.Logger) *Pipeline {
	if cfg == nil {
		cfg = &config.ChunkingConfig{}
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 256
	}
	return &Pipeline{
		store:         store,
		vectors:       vectors,
		embed:         embed,
		chunker:       chunking.New(cfg),
		bus:           bus,
		logger:        logger,
		cfg:           cfg,
		retrier:       retry.New(&retry.Config{MaxAttempts: maxRetries(cfg), InitialDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2, RandomizeFactor: 0.2, RetryIf: retry.DefaultRetryIf}),
		interactiveCh: make(chan *workItem, capacity),
		batchCh:       make(chan *workItem, capacity),
		fileLocks:     make(map[string]*sync.Mutex),
	}
}

func maxRetries(cfg *config.ChunkingConfig) int {
	if cfg.MaxRetries <= 0 {
		return 3
	}
	return cfg.MaxRetries
}

// Start spawns cfg.WorkerCount workers, each pulling from the
// interactive lane first and falling back to the batch lane (§5
// "interactive session requests outrank batch pins").
func (p *Pipeline) Start(ctx context.Context) {
	workerCount := p.cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 4
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx)
	}
}

// Stop cancels all in-flight work and waits for workers to exit. Any
// task still processing is marked failed with code "cancelled".
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Enqueue submits filePath for vectorization. If a non-terminal task
// already exists for filePath, that task is returned unchanged — the
// oldest request wins, per §5's "oldest-wins eviction for duplicate
// file_path enqueues" — rather than starting a second task and
// violating the one-task-per-file invariant (spec.md §3).
func (p *Pipeline) Enqueue(ctx context.Context, req Request) (*enginetypes.VectorizationTask, error) {
	if existing, err := p.store.ActiveTaskForFile(ctx, req.FilePath); err == nil && existing != nil {
		return existing, nil
	}

	task, err := p.store.CreateVectorizationTask(ctx, req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("vectorization: create task: %w", err)
	}
	p.publish(events.MultivectorStarted, task.ID, req.FilePath, task)

	item := &workItem{req: req, task: task}
	target := p.batchCh
	if req.Interactive {
		target = p.interactiveCh
	}
	select {
	case target <- item:
	case <-ctx.Done():
		return task, ctx.Err()
	}
	return task, nil
}

func (p *Pipeline) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		item, ok := p.next(ctx)
		if !ok {
			return
		}
		p.process(ctx, item)
	}
}

// next prefers the interactive lane, falling back to a blocking select
// across both lanes (plus ctx.Done) when it is empty.
func (p *Pipeline) next(ctx context.Context) (*workItem, bool) {
	select {
	case item := <-p.interactiveCh:
		return item, true
	default:
	}
	select {
	case item := <-p.interactiveCh:
		return item, true
	case item := <-p.batchCh:
		return item, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *Pipeline) process(ctx context.Context, item *workItem) {
	unlock := p.lockFile(item.req.FilePath)
	defer unlock()

	task := item.task
	if err := ctx.Err(); err != nil {
		p.fail(ctx, task, "cancelled", "")
		return
	}

	p.setStage(ctx, task, enginetypes.StageParsing, 10)
	if err := ctx.Err(); err != nil {
		p.fail(ctx, task, "cancelled", "")
		return
	}

	p.setStage(ctx, task, enginetypes.StageChunking, 30)
	result := p.chunker.Chunk(item.req.FilePath, item.req.Extension, item.req.Text, item.req.Images)
	if len(result.Parents) == 0 {
		p.fail(ctx, task, "empty_document", "")
		return
	}

	p.setStage(ctx, task, enginetypes.StageVectorizing, 50)
	snapshot, err := p.snapshotAssignments(ctx)
	if err != nil {
		p.fail(ctx, task, "capability_missing", helpURLs["capability_missing"])
		return
	}

	all := append(append([]*enginetypes.VectorChunk{}, result.Parents...), result.Children...)
	for i, chunk := range all {
		if err := ctx.Err(); err != nil {
			p.fail(ctx, task, "cancelled", "")
			return
		}
		if err := p.embedChunk(ctx, chunk, snapshot); err != nil {
			switch {
			case errors.Is(err, errCapabilityReassigned):
				p.fail(ctx, task, "capability_reassigned", helpURLs["capability_reassigned"])
				return
			default:
			}
			if _, missing := err.(*capability.ErrModelMissing); missing {
				p.fail(ctx, task, "capability_missing", helpURLs["capability_missing"])
				return
			}
			p.fail(ctx, task, "malformed_file", "")
			return
		}
		progress := 50 + int(float64(i+1)/float64(len(all))*40)
		p.setStage(ctx, task, enginetypes.StageVectorizing, progress)
		p.publishProgress(task, progress)
	}

	if err := p.writeChunks(ctx, result); err != nil {
		p.fail(ctx, task, "store_write_failed", "")
		return
	}

	if err := p.store.CompleteTask(ctx, task.ID, len(result.Parents), len(result.Children)); err != nil {
		p.logger.Error("vectorization: complete task failed", "task_id", task.ID, "error", err)
		return
	}
	task.Status = enginetypes.TaskStatusCompleted
	task.ParentCount, task.ChildCount = len(result.Parents), len(result.Children)
	p.publish(events.MultivectorCompleted, task.ID, item.req.FilePath, task)
}

// snapshotAssignments records which model currently serves text and
// vision at the moment a task enters its vectorizing stage, so every
// chunk embedded later in the same task can be checked against the
// assignment it started with.
func (p *Pipeline) snapshotAssignments(ctx context.Context) (map[enginetypes.Capability]string, error) {
	snapshot := make(map[enginetypes.Capability]string, 2)
	for _, cap := range []enginetypes.Capability{enginetypes.CapabilityText, enginetypes.CapabilityVision} {
		modelID, err := p.embed.AssignedModel(ctx, cap)
		if err != nil {
			return nil, err
		}
		snapshot[cap] = modelID
	}
	return snapshot, nil
}

// embedChunk resolves the capability for chunk's modality and fills in
// its embedding. Network/index errors during the actual write are
// retried by writeChunks, not here, since Embed itself never performs
// network I/O for providers without an embeddings endpoint (see
// capability.Router.Embed) — a missing assignment, or one reassigned
// since snapshot was taken, fails the chunk instead of retrying.
//
// A VectorChunk never retains the raw bytes of the image it was built
// from (it keeps the caption only), so an image chunk is still embedded
// from its caption text; only the resolved capability (vision, so a
// vision-capable model must be assigned before image chunks vectorize)
// differs from a text chunk.
func (p *Pipeline) embedChunk(ctx context.Context, chunk *enginetypes.VectorChunk, snapshot map[enginetypes.Capability]string) error {
	cap := enginetypes.CapabilityText
	if chunk.Modality == enginetypes.ModalityImage {
		cap = enginetypes.CapabilityVision
	}

	current, err := p.embed.AssignedModel(ctx, cap)
	if err != nil {
		return err
	}
	if current != snapshot[cap] {
		return errCapabilityReassigned
	}

	embedding, err := p.embed.Embed(ctx, cap, &capability.EmbedRequest{Modality: enginetypes.ModalityText, Text: chunk.Text})
	if err != nil {
		return err
	}
	chunk.Embedding = embedding
	return nil
}

// writeChunks upserts the full parent+child set into the vector store,
// retrying transient failures (the vector index's own I/O) with
// exponential backoff, per §5 "vector index writes are suspension
// points" and §7's transient-I/O retry budget.
func (p *Pipeline) writeChunks(ctx context.Context, result *chunking.Result) error {
	all := append(append([]*enginetypes.VectorChunk{}, result.Parents...), result.Children...)
	res := p.retrier.Do(ctx, func(ctx context.Context) error {
		return p.vectors.UpsertBatch(ctx, all)
	})
	return res.Err
}

func (p *Pipeline) setStage(ctx context.Context, task *enginetypes.VectorizationTask, stage enginetypes.Stage, progress int) {
	task.Stage, task.Progress = stage, progress
	if err := p.store.UpdateTaskProgress(ctx, task.ID, stage, progress); err != nil {
		p.logger.Warn("vectorization: update progress failed", "task_id", task.ID, "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, task *enginetypes.VectorizationTask, code, helpURL string) {
	if err := p.store.FailTask(ctx, task.ID, code, helpURL); err != nil {
		p.logger.Error("vectorization: fail task bookkeeping failed", "task_id", task.ID, "error", err)
	}
	task.Status, task.Error, task.HelpURL = enginetypes.TaskStatusFailed, code, helpURL
	p.publish(events.MultivectorFailed, task.ID, task.FilePath, map[string]interface{}{
		"task_id": task.ID, "file_path": task.FilePath, "error": code, "help_url": helpURL,
	})
}

func (p *Pipeline) publishProgress(task *enginetypes.VectorizationTask, progress int) {
	p.publish(events.MultivectorProgress, task.ID, task.FilePath, map[string]interface{}{
		"task_id": task.ID, "file_path": task.FilePath, "progress": progress, "stage": string(task.Stage),
	})
}

func (p *Pipeline) publish(name, taskID, filePath string, payload interface{}) {
	if p.bus == nil {
		return
	}
	e := events.NewEvent(name, payload)
	e.FilePath = filePath
	if err := p.bus.Publish(e); err != nil && p.logger != nil {
		p.logger.Warn("vectorization: publish failed", "event", name, "error", err)
	}
}

func (p *Pipeline) lockFile(path string) func() {
	p.fileLocksMu.Lock()
	lock, ok := p.fileLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		p.fileLocks[path] = lock
	}
	p.fileLocksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

var _ VectorStore = (*vectorstore.Store)(nil)
