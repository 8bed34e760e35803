package main

import (
	"context"
	"os"
	"unicode/utf8"

	"knowledge-engine/internal/configqueue"
	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
	"knowledge-engine/internal/scanner"
	"knowledge-engine/internal/screening"
	"knowledge-engine/internal/tagengine"
	"knowledge-engine/internal/vectorization"
)

// maxExcerptBytes bounds how large a file this process will read into
// memory for tagging/vectorization, mirroring ScreeningConfig's small-
// file threshold default.
const maxExcerptBytes = 1 << 20

// ingestPipeline drives one screened file from its screening-result-
// updated event through system/LLM tagging and batch vectorization.
type ingestPipeline struct {
	screening *screening.Pipeline
	tagger    *tagengine.Engine
	vecPipe   *vectorization.Pipeline
	logger    logging.Logger
}

// runInitialScan walks every whitelist folder once, screens each
// candidate, and completes the config queue's scan gate when the walk
// finishes — ScanPending change requests queued during the walk drain
// immediately after (spec.md §4.3, §4.4).
func runInitialScan(ctx context.Context, sc *scanner.Scanner, pipe *ingestPipeline, queue *configqueue.Queue, logger logging.Logger) {
	candidates, errc := sc.InitialSweep(ctx)
	for c := range candidates {
		if err := pipe.screening.Process(ctx, c); err != nil {
			logger.Warn("initial scan: screening failed", "path", c.Path, "error", err)
		}
	}
	if err := <-errc; err != nil {
		logger.Error("initial scan: sweep failed", "error", err)
	}
	if err := queue.CompleteScan(ctx); err != nil {
		logger.Error("initial scan: complete scan failed", "error", err)
	}
}

// runWatchLoop starts incremental filesystem monitoring once the
// initial sweep has drained the config queue, screening every
// watcher-reported Candidate and marking watcher-reported removals
// gone, so files created or deleted after startup are still picked up
// without waiting for the next fallback re-walk (spec.md §4.4).
func runWatchLoop(ctx context.Context, sc *scanner.Scanner, pipe *ingestPipeline, logger logging.Logger) {
	candidates := make(chan scanner.Candidate, 64)
	gone := make(chan string, 64)
	go sc.Watch(ctx, candidates, gone)

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candidates:
			if !ok {
				return
			}
			if err := pipe.screening.Process(ctx, c); err != nil {
				logger.Warn("watch: screening failed", "path", c.Path, "error", err)
			}
		case path, ok := <-gone:
			if !ok {
				return
			}
			if err := pipe.screening.MarkGone(ctx, path); err != nil {
				logger.Warn("watch: mark gone failed", "path", path, "error", err)
			}
		}
	}
}

// runIngestLoop subscribes to screening-result-updated and tags plus
// vectorizes every newly screened (or changed) file on the batch lane,
// leaving the interactive lane free for pin-triggered requests.
func (p *ingestPipeline) runIngestLoop(ctx context.Context, bus *events.EventBus) {
	sub, err := bus.Subscribe("ingest-pipeline", &events.EventFilter{Names: []string{events.ScreeningResultUpdated}})
	if err != nil {
		p.logger.Error("ingest pipeline: subscribe failed", "error", err)
		return
	}
	defer func() { _ = bus.Unsubscribe("ingest-pipeline", sub.ID) }()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Channel:
			if !ok {
				return
			}
			result, ok := ev.Payload.(*enginetypes.ScreeningResult)
			if !ok || result == nil {
				continue
			}
			p.ingest(ctx, result)
		}
	}
}

func (p *ingestPipeline) ingest(ctx context.Context, result *enginetypes.ScreeningResult) {
	content, excerpt := readExcerpt(result.FilePath)

	if err := p.tagger.TagFile(ctx, result, excerpt); err != nil {
		p.logger.Warn("ingest: tagging failed", "path", result.FilePath, "error", err)
	}

	if content == "" {
		return
	}
	if _, err := p.vecPipe.Enqueue(ctx, vectorization.Request{
		FilePath:  result.FilePath,
		Extension: result.Extension,
		Text:      content,
	}); err != nil {
		p.logger.Warn("ingest: vectorization enqueue failed", "path", result.FilePath, "error", err)
	}
}

// readExcerpt reads a file's content for tagging/vectorization,
// skipping anything over maxExcerptBytes to bound memory use; binary
// or unreadable files yield an empty content and no vectorization.
func readExcerpt(path string) (content, excerpt string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxExcerptBytes {
		return "", ""
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the scanner's own whitelist walk
	if err != nil || !utf8.Valid(data) {
		return "", ""
	}
	content = string(data)
	excerpt = content
	if len(excerpt) > 4000 {
		excerpt = excerpt[:4000]
	}
	return content, excerpt
}
