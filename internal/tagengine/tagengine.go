// Package tagengine derives system tags deterministically from a
// screened file's category/extension/path/mtime, and LLM tags from the
// capability router's structured_output model, writing both through
// the store's tag-weight bookkeeping (spec.md §4.6). Grounded on the
// teacher's chunking Service "Smart Detection" tag extraction
// (internal/chunking/chunker.go's detectSmartTags family) for the
// deterministic half, and on the capability router's Invoke contract
// for the LLM half.
package tagengine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"knowledge-engine/internal/capability"
	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
)

// Tagger attaches tags to a screened file.
type Tagger interface {
	AttachTag(ctx context.Context, fileID, name string, tagType enginetypes.TagType) error
}

// CategoryLookup resolves a category's display name for system-tag
// derivation; tags read better as "category:images" than a bare UUID.
type CategoryLookup interface {
	ListCategories(ctx context.Context) ([]*enginetypes.FileCategory, error)
}

// Invoker is the subset of capability.Router the tag engine calls
// through for LLM tagging.
type Invoker interface {
	Invoke(ctx context.Context, cap enginetypes.Capability, req *capability.Request) (*capability.Response, error)
}

// Publisher is the subset of the event bus the tag engine publishes
// through.
type Publisher interface {
	Publish(e *events.Event) error
}

// Config tunes how much file content the LLM tagging prompt sees.
type Config struct {
	ExcerptMaxChars int
}

// DefaultConfig returns a conservative excerpt budget.
func DefaultConfig() *Config {
	return &Config{ExcerptMaxChars: 4000}
}

// Engine derives and persists tags for screened files.
type Engine struct {
	store      Tagger
	categories CategoryLookup
	router     Invoker
	bus        Publisher
	logger     logging.Logger
	cfg        *Config

	categoryNames map[string]string // category ID -> name, lazily primed
}

// New constructs an Engine. bus may be nil in tests.
func New(store Tagger, categories CategoryLookup, router Invoker, bus Publisher, logger logging.Logger, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{store: store, categories: categories, router: router, bus: bus, logger: logger, cfg: cfg}
}

// llmTagResponse is the fixed schema an LLM structured_output call
// must return for TagFile to accept its suggestions.
type llmTagResponse struct {
	Tags []string `json:"tags"`
}

var llmTagSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"tags": {"type": "array", "items": {"type": "string"}}},
	"required": ["tags"]
}`)

// TagFile derives system tags from r (always succeeds, never blocked
// on a model) and attempts LLM tags from excerpt (best-effort: a
// missing structured_output model suspends only the LLM half, per
// spec.md §4.6 — system tags still persist and the caller still gets
// a nil error). On completion it publishes the debounced
// tags-updated event so a tag-cloud recompute can follow.
func (e *Engine) TagFile(ctx context.Context, r *enginetypes.ScreeningResult, excerpt string) error {
	for _, tag := range e.systemTags(ctx, r) {
		if err := e.store.AttachTag(ctx, r.ID, tag, enginetypes.TagTypeSystem); err != nil {
			return fmt.Errorf("tagengine: attach system tag %q: %w", tag, err)
		}
	}

	if strings.TrimSpace(excerpt) != "" {
		if err := e.tagWithLLM(ctx, r, excerpt); err != nil {
			if _, missing := err.(*capability.ErrModelMissing); !missing {
				e.logf("llm tagging failed", "file_path", r.FilePath, "error", err)
			}
			// Missing-model and any other LLM failure is swallowed here:
			// system tags already persisted, and the router already
			// published tagging-model-missing for the missing case.
		}
	}

	e.publishTagsUpdated(r.FilePath)
	return nil
}

func (e *Engine) tagWithLLM(ctx context.Context, r *enginetypes.ScreeningResult, excerpt string) error {
	if len(excerpt) > e.cfg.ExcerptMaxChars {
		excerpt = excerpt[:e.cfg.ExcerptMaxChars]
	}

	req := &capability.Request{
		Messages: []capability.Message{
			{Role: "system", Content: "Suggest up to 8 short, lowercase, hyphenated topical tags for the given file excerpt. Respond only with the requested JSON."},
			{Role: "user", Content: fmt.Sprintf("File: %s\n\n%s", r.FileName, excerpt)},
		},
		SchemaHint: llmTagSchema,
		MaxTokens:  256,
	}
	resp, err := e.router.Invoke(ctx, enginetypes.CapabilityStructuredOutput, req)
	if err != nil {
		return err
	}

	var parsed llmTagResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return fmt.Errorf("tagengine: decode llm tag response: %w", err)
	}
	for _, tag := range parsed.Tags {
		tag = normalizeTag(tag)
		if tag == "" {
			continue
		}
		if err := e.store.AttachTag(ctx, r.ID, tag, enginetypes.TagTypeLLM); err != nil {
			return fmt.Errorf("tagengine: attach llm tag %q: %w", tag, err)
		}
	}
	return nil
}

// systemTags derives tags purely from r's metadata: never fails, never
// calls out, so it always runs regardless of capability availability.
func (e *Engine) systemTags(ctx context.Context, r *enginetypes.ScreeningResult) []string {
	var tags []string

	if r.Extension != "" {
		tags = append(tags, "ext:"+strings.ToLower(r.Extension))
	}
	if name := e.categoryName(ctx, r.CategoryID); name != "" {
		tags = append(tags, "category:"+name)
	}
	if dir := filepath.Base(filepath.Dir(r.FilePath)); dir != "" && dir != "." && dir != string(filepath.Separator) {
		tags = append(tags, "folder:"+strings.ToLower(dir))
	}
	if !r.ModifiedTime.IsZero() {
		tags = append(tags, "year:"+strconv.Itoa(r.ModifiedTime.Year()))
	}
	return tags
}

func (e *Engine) categoryName(ctx context.Context, categoryID string) string {
	if categoryID == "" {
		return ""
	}
	if e.categoryNames == nil {
		e.categoryNames = make(map[string]string)
		if cats, err := e.categories.ListCategories(ctx); err == nil {
			for _, c := range cats {
				e.categoryNames[c.ID] = strings.ToLower(c.Name)
			}
		}
	}
	return e.categoryNames[categoryID]
}

func normalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, " ", "-")
	return tag
}

func (e *Engine) publishTagsUpdated(filePath string) {
	if e.bus == nil {
		return
	}
	evt := events.NewEvent(events.TagsUpdated, map[string]string{"file_path": filePath})
	evt.FilePath = filePath
	if err := e.bus.Publish(evt); err != nil {
		e.logf("publish tags-updated failed", "error", err)
	}
}

func (e *Engine) logf(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Warn(msg, kv...)
	}
}
