// Package retrieval fuses semantic nearest-neighbour search over child
// chunks with lexical substring/tag matching into one ranked result
// list (spec.md §4.9). It never calls an LLM — it is a pure ranking
// stage; answer synthesis is left to an external collaborator.
// Grounded on the teacher's vectorstore.Store.Search + buildFilter
// (internal/vectorstore/qdrant.go), generalized to add a lexical
// candidate source and a weighted-sum fusion on top of the purely
// semantic search the teacher performs.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"knowledge-engine/internal/capability"
	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/store"
	"knowledge-engine/internal/vectorstore"
)

// Embedder is the subset of capability.Router retrieval calls through
// to embed the query text.
type Embedder interface {
	Embed(ctx context.Context, cap enginetypes.Capability, req *capability.EmbedRequest) ([]float32, error)
}

// Semantic is the subset of vectorstore.Store retrieval searches
// against.
type Semantic interface {
	Search(ctx context.Context, embedding []float32, opts vectorstore.SearchOptions) ([]vectorstore.Result, error)
	GetByID(ctx context.Context, id string) (*enginetypes.VectorChunk, error)
}

// Lexical is the subset of store.Store retrieval's keyword half
// searches against.
type Lexical interface {
	SearchScreeningResults(ctx context.Context, f store.SearchFilter) ([]*enginetypes.ScreeningResult, error)
	FilesByTag(ctx context.Context, name string) ([]string, error)
}

// Config tunes the fusion weighting and candidate pool sizes.
type Config struct {
	SemanticWeight float64
	LexicalWeight  float64
	SemanticLimit  int
	LexicalLimit   int
	ResultLimit    int
}

// DefaultConfig weighs semantic similarity over lexical match 70/30,
// the same order of magnitude the teacher's hybrid scoring elsewhere
// in the pack (ranking by a dominant signal plus a secondary nudge)
// uses, pulling top candidates from both sources before fusing.
func DefaultConfig() *Config {
	return &Config{SemanticWeight: 0.7, LexicalWeight: 0.3, SemanticLimit: 20, LexicalLimit: 20, ResultLimit: 10}
}

// Query is one retrieval request.
type Query struct {
	Text       string
	Modality   enginetypes.Modality
	FilePaths  []string // restricts candidates to this set when non-empty (session pin scope)
	TagName    string   // optional: narrow lexical candidates to files carrying this tag
}

// Hit is one ranked result, carrying enough provenance for the caller
// to attribute and display it without a second round trip.
type Hit struct {
	FilePath    string               `json:"file_path"`
	ParentText  string               `json:"parent_text"`
	ChildText   string               `json:"child_text"`
	Modality    enginetypes.Modality `json:"modality"`
	Score       float64              `json:"score"`
	SemanticHit bool                 `json:"semantic_hit"`
	LexicalHit  bool                 `json:"lexical_hit"`
}

// Engine performs hybrid retrieval.
type Engine struct {
	semantic Semantic
	lexical  Lexical
	embed    Embedder
	cfg      *Config
}

// New constructs an Engine. cfg may be nil for DefaultConfig.
func New(semantic Semantic, lexical Lexical, embed Embedder, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{semantic: semantic, lexical: lexical, embed: embed, cfg: cfg}
}

// Search runs the full hybrid pipeline: embed the query, fetch
// semantic and lexical candidates concurrently in spirit (sequential
// here since both are fast local calls), fuse and rank, dedupe by
// parent, and attach parent context.
func (e *Engine) Search(ctx context.Context, q Query) ([]Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("retrieval: query text is required")
	}

	semanticHits, err := e.semanticCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("retrieval: semantic search: %w", err)
	}
	lexicalHits, err := e.lexicalCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("retrieval: lexical search: %w", err)
	}

	fused := e.fuse(semanticHits, lexicalHits)
	deduped := e.dedupeByParent(fused)
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })

	limit := e.cfg.ResultLimit
	if limit <= 0 || limit > len(deduped) {
		limit = len(deduped)
	}
	hits := make([]Hit, 0, limit)
	for _, s := range deduped[:limit] {
		hits = append(hits, e.toHit(ctx, s))
	}
	return hits, nil
}

// dedupeByParent keeps, for every distinct parent chunk, only its
// highest-scoring child candidate, per spec.md §4.9's "deduplicate by
// parent chunk". A lexical-only candidate carries no chunk-level
// ParentID (it matched at the file level, not a specific child), so it
// is kept as its own group keyed by its chunk ID instead.
func (e *Engine) dedupeByParent(hits []*scored) []*scored {
	best := make(map[string]*scored, len(hits))
	for _, h := range hits {
		key := h.chunk.ParentID
		if key == "" {
			key = "chunk:" + h.chunk.ID
		}
		if existing, ok := best[key]; !ok || e.fusedScore(h) > e.fusedScore(existing) {
			best[key] = h
		}
	}
	out := make([]*scored, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	return out
}

func (e *Engine) fusedScore(s *scored) float64 {
	return e.cfg.SemanticWeight*s.semanticScore + e.cfg.LexicalWeight*s.lexicalScore
}

// toHit converts a scored candidate to the caller-facing Hit, fetching
// the parent chunk's text when the candidate carries a ParentID.
func (e *Engine) toHit(ctx context.Context, s *scored) Hit {
	hit := Hit{
		FilePath:    s.chunk.FilePath,
		ChildText:   s.chunk.Text,
		Modality:    s.chunk.Modality,
		Score:       e.fusedScore(s),
		SemanticHit: s.isSemanticHit,
		LexicalHit:  s.isLexicalHit,
	}
	if s.chunk.ParentID != "" {
		if parent, err := e.semantic.GetByID(ctx, s.chunk.ParentID); err == nil {
			hit.ParentText = parent.Text
		}
	}
	return hit
}

type scored struct {
	chunk          *enginetypes.VectorChunk
	semanticScore  float64
	lexicalScore   float64
	isSemanticHit  bool
	isLexicalHit   bool
}

func (e *Engine) semanticCandidates(ctx context.Context, q Query) (map[string]*scored, error) {
	embedding, err := e.embed.Embed(ctx, capabilityFor(q.Modality), &capability.EmbedRequest{Modality: enginetypes.ModalityText, Text: q.Text})
	if err != nil {
		if _, missing := err.(*capability.ErrModelMissing); missing {
			// No model to embed the query with: fall back to lexical-only
			// retrieval rather than failing the whole search.
			return map[string]*scored{}, nil
		}
		return nil, err
	}

	opts := vectorstore.SearchOptions{
		Limit:     e.cfg.SemanticLimit,
		FilePaths: q.FilePaths,
		Modality:  q.Modality,
		Tier:      enginetypes.TierChild,
	}
	results, err := e.semantic.Search(ctx, embedding, opts)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*scored, len(results))
	maxScore := maxResultScore(results)
	for _, r := range results {
		norm := 0.0
		if maxScore > 0 {
			norm = float64(r.Score) / float64(maxScore)
		}
		out[r.Chunk.ID] = &scored{chunk: r.Chunk, semanticScore: norm, isSemanticHit: true}
	}
	return out, nil
}

func (e *Engine) lexicalCandidates(ctx context.Context, q Query) (map[string]*scored, error) {
	var fileIDs []string
	if q.TagName != "" {
		ids, err := e.lexical.FilesByTag(ctx, q.TagName)
		if err != nil {
			return nil, err
		}
		fileIDs = ids
	}

	filter := store.SearchFilter{PathContains: q.Text, FileIDs: fileIDs}
	results, err := e.lexical.SearchScreeningResults(ctx, filter)
	if err != nil {
		return nil, err
	}

	allowed := pathSet(q.FilePaths)
	out := make(map[string]*scored, len(results))
	n := len(results)
	if e.cfg.LexicalLimit > 0 && n > e.cfg.LexicalLimit {
		n = e.cfg.LexicalLimit
	}
	for i := 0; i < n; i++ {
		r := results[i]
		if len(allowed) > 0 && !allowed[r.FilePath] {
			continue
		}
		// Rank by recency-sorted position: the first result scores 1.0,
		// decaying linearly — SearchScreeningResults already orders by
		// modified_time DESC, so this rewards both the substring match
		// and freshness, a reasonable proxy in the absence of a real
		// lexical ranking function (e.g. BM25/FTS5) over this content.
		score := 1.0 - float64(i)/float64(n+1)
		chunk := &enginetypes.VectorChunk{
			ID:       r.ID,
			FilePath: r.FilePath,
			Text:     r.FileName,
			Modality: enginetypes.ModalityText,
		}
		out[r.ID] = &scored{chunk: chunk, lexicalScore: score, isLexicalHit: true}
	}
	return out, nil
}

// fuse merges the semantic and lexical candidate maps. A candidate
// present in both carries both scores forward (isSemanticHit and
// isLexicalHit both true); a candidate present in only one source
// carries only its own score.
func (e *Engine) fuse(semantic, lexical map[string]*scored) []*scored {
	merged := make(map[string]*scored, len(semantic)+len(lexical))
	for k, v := range semantic {
		merged[k] = v
	}
	for k, v := range lexical {
		if existing, ok := merged[k]; ok {
			existing.lexicalScore = v.lexicalScore
			existing.isLexicalHit = true
			continue
		}
		merged[k] = v
	}

	out := make([]*scored, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	return out
}

func capabilityFor(m enginetypes.Modality) enginetypes.Capability {
	if m == enginetypes.ModalityImage {
		return enginetypes.CapabilityVision
	}
	return enginetypes.CapabilityText
}

func maxResultScore(results []vectorstore.Result) float32 {
	var max float32
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	return max
}

func pathSet(paths []string) map[string]bool {
	if len(paths) == 0 {
		return nil
	}
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		out[p] = true
	}
	return out
}
