package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/capability"
	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/store"
	"knowledge-engine/internal/vectorstore"
)

type fakeSemantic struct {
	results []vectorstore.Result
	parents map[string]*enginetypes.VectorChunk
}

func (f *fakeSemantic) Search(ctx context.Context, embedding []float32, opts vectorstore.SearchOptions) ([]vectorstore.Result, error) {
	return f.results, nil
}

func (f *fakeSemantic) GetByID(ctx context.Context, id string) (*enginetypes.VectorChunk, error) {
	if c, ok := f.parents[id]; ok {
		return c, nil
	}
	return nil, enginetypes.NewStoreError("get_by_id", enginetypes.ErrNotFound, nil)
}

type fakeLexical struct {
	results []*enginetypes.ScreeningResult
	tagIDs  map[string][]string
}

func (f *fakeLexical) SearchScreeningResults(ctx context.Context, filter store.SearchFilter) ([]*enginetypes.ScreeningResult, error) {
	if len(filter.FileIDs) == 0 {
		return f.results, nil
	}
	allowed := map[string]bool{}
	for _, id := range filter.FileIDs {
		allowed[id] = true
	}
	var out []*enginetypes.ScreeningResult
	for _, r := range f.results {
		if allowed[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLexical) FilesByTag(ctx context.Context, name string) ([]string, error) {
	return f.tagIDs[name], nil
}

type fakeEmbedder struct {
	vec     []float32
	missing bool
}

func (e *fakeEmbedder) Embed(ctx context.Context, cap enginetypes.Capability, req *capability.EmbedRequest) ([]float32, error) {
	if e.missing {
		return nil, &capability.ErrModelMissing{Capability: cap}
	}
	return e.vec, nil
}

func TestSearch_FusesSemanticAndLexicalHits(t *testing.T) {
	semantic := &fakeSemantic{
		results: []vectorstore.Result{
			{Chunk: &enginetypes.VectorChunk{ID: "child-1", ParentID: "parent-1", FilePath: "/docs/a.md", Text: "child text a", Modality: enginetypes.ModalityText}, Score: 0.9},
		},
		parents: map[string]*enginetypes.VectorChunk{
			"parent-1": {ID: "parent-1", Text: "full parent section text"},
		},
	}
	lexical := &fakeLexical{
		results: []*enginetypes.ScreeningResult{
			{ID: "file-1", FilePath: "/docs/b.md", FileName: "b.md"},
		},
	}
	engine := New(semantic, lexical, &fakeEmbedder{vec: []float32{0.1, 0.2}}, nil)

	hits, err := engine.Search(context.Background(), Query{Text: "search term"})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	var semanticHit, lexicalHit *Hit
	for i := range hits {
		if hits[i].SemanticHit {
			semanticHit = &hits[i]
		}
		if hits[i].LexicalHit && !hits[i].SemanticHit {
			lexicalHit = &hits[i]
		}
	}
	require.NotNil(t, semanticHit)
	require.NotNil(t, lexicalHit)
	assert.Equal(t, "full parent section text", semanticHit.ParentText)
	assert.Equal(t, "/docs/a.md", semanticHit.FilePath)
	assert.Equal(t, "/docs/b.md", lexicalHit.FilePath)
	assert.Greater(t, semanticHit.Score, lexicalHit.Score)
}

func TestSearch_DedupesByParentKeepingHighestScore(t *testing.T) {
	semantic := &fakeSemantic{
		results: []vectorstore.Result{
			{Chunk: &enginetypes.VectorChunk{ID: "child-1", ParentID: "parent-1", FilePath: "/docs/a.md", Text: "low score child"}, Score: 0.2},
			{Chunk: &enginetypes.VectorChunk{ID: "child-2", ParentID: "parent-1", FilePath: "/docs/a.md", Text: "high score child"}, Score: 0.95},
		},
		parents: map[string]*enginetypes.VectorChunk{"parent-1": {ID: "parent-1", Text: "parent text"}},
	}
	engine := New(semantic, &fakeLexical{}, &fakeEmbedder{vec: []float32{0.1}}, nil)

	hits, err := engine.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	require.Len(t, hits, 1, "both children share a parent so only the better-scoring one should survive")
	assert.Equal(t, "high score child", hits[0].ChildText)
}

func TestSearch_SessionScopeRestrictsToFilePaths(t *testing.T) {
	semantic := &fakeSemantic{
		results: []vectorstore.Result{
			{Chunk: &enginetypes.VectorChunk{ID: "child-1", ParentID: "p1", FilePath: "/docs/allowed.md", Text: "in scope"}, Score: 0.8},
		},
		parents: map[string]*enginetypes.VectorChunk{"p1": {ID: "p1", Text: "parent"}},
	}
	lexical := &fakeLexical{results: []*enginetypes.ScreeningResult{
		{ID: "file-1", FilePath: "/docs/outside.md", FileName: "outside.md"},
	}}
	engine := New(semantic, lexical, &fakeEmbedder{vec: []float32{0.1}}, nil)

	hits, err := engine.Search(context.Background(), Query{Text: "q", FilePaths: []string{"/docs/allowed.md"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/docs/allowed.md", hits[0].FilePath)
}

func TestSearch_MissingEmbeddingCapabilityFallsBackToLexicalOnly(t *testing.T) {
	lexical := &fakeLexical{results: []*enginetypes.ScreeningResult{
		{ID: "file-1", FilePath: "/docs/c.md", FileName: "c.md"},
	}}
	engine := New(&fakeSemantic{}, lexical, &fakeEmbedder{missing: true}, nil)

	hits, err := engine.Search(context.Background(), Query{Text: "c.md"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.True(t, hits[0].LexicalHit)
	assert.False(t, hits[0].SemanticHit)
}

func TestSearch_EmptyQueryTextIsRejected(t *testing.T) {
	engine := New(&fakeSemantic{}, &fakeLexical{}, &fakeEmbedder{}, nil)
	_, err := engine.Search(context.Background(), Query{Text: "   "})
	assert.Error(t, err)
}
