package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/enginetypes"
)

func testConfig() *config.ChunkingConfig {
	return &config.ChunkingConfig{
		ParentMaxTokens:    20,
		ChildMaxTokens:      8,
		ChildOverlapTokens: 2,
	}
}

func TestChunk_EveryChildHasParentInSameFile(t *testing.T) {
	c := New(testConfig())
	text := strings.Repeat("word ", 100)
	res := c.Chunk("/docs/a.txt", "txt", text, nil)

	require.NotEmpty(t, res.Parents)
	require.NotEmpty(t, res.Children)

	parentIDs := make(map[string]bool, len(res.Parents))
	for _, p := range res.Parents {
		parentIDs[p.ID] = true
		assert.Equal(t, enginetypes.TierParent, p.Tier)
		assert.Equal(t, "/docs/a.txt", p.FilePath)
	}
	for _, child := range res.Children {
		assert.Equal(t, enginetypes.TierChild, child.Tier)
		assert.True(t, parentIDs[child.ParentID], "child %s references unknown parent %s", child.ID, child.ParentID)
		assert.Equal(t, "/docs/a.txt", child.FilePath)
	}
}

func TestChunk_ChildWindowsOverlap(t *testing.T) {
	c := New(testConfig())
	text := strings.Repeat("word ", 50)
	res := c.Chunk("/docs/a.txt", "txt", text, nil)

	var singleParentChildren []*enginetypes.VectorChunk
	for _, child := range res.Children {
		if child.ParentID == res.Parents[0].ID {
			singleParentChildren = append(singleParentChildren, child)
		}
	}
	require.GreaterOrEqual(t, len(singleParentChildren), 2)

	first := strings.Fields(singleParentChildren[0].Text)
	second := strings.Fields(singleParentChildren[1].Text)
	overlapCount := 0
	for _, w := range first[len(first)-2:] {
		for _, w2 := range second[:2] {
			if w == w2 {
				overlapCount++
			}
		}
	}
	assert.Greater(t, overlapCount, 0, "consecutive child windows should share overlap words")
}

func TestChunk_MarkdownHeadingsProduceSeparateParents(t *testing.T) {
	c := New(testConfig())
	md := "# First Heading\n\nSome content about first topic here today.\n\n# Second Heading\n\nSome content about the second topic right now.\n"
	res := c.Chunk("/docs/readme.md", "md", md, nil)

	require.GreaterOrEqual(t, len(res.Parents), 2)
}

func TestChunk_PlainTextFallsBackToParagraphSplitting(t *testing.T) {
	c := New(testConfig())
	paragraphs := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		paragraphs = append(paragraphs, strings.Repeat("para ", 10))
	}
	text := strings.Join(paragraphs, "\n\n")
	res := c.Chunk("/docs/notes.txt", "txt", text, nil)

	assert.Greater(t, len(res.Parents), 1, "long plain text should split into multiple parents once ParentMaxTokens is exceeded")
}

func TestChunk_ImageAssetBecomesImageChildChunk(t *testing.T) {
	c := New(testConfig())
	text := "# Figure\n\nSee the diagram below showing the pipeline stages.\n"
	images := []ImageAsset{{Data: []byte{0x89, 0x50, 0x4e, 0x47}, Caption: "pipeline stages"}}
	res := c.Chunk("/docs/fig.md", "md", text, images)

	var imageChunk *enginetypes.VectorChunk
	for _, child := range res.Children {
		if child.Modality == enginetypes.ModalityImage {
			imageChunk = child
		}
	}
	require.NotNil(t, imageChunk, "expected one image child chunk")
	assert.Equal(t, "pipeline stages", imageChunk.Text)
	assert.Equal(t, enginetypes.TierChild, imageChunk.Tier)

	found := false
	for _, p := range res.Parents {
		if p.ID == imageChunk.ParentID {
			found = true
		}
	}
	assert.True(t, found, "image chunk must reference a parent chunk in the same result")
}

func TestChunk_EmptyTextProducesNoChildChunks(t *testing.T) {
	c := New(testConfig())
	res := c.Chunk("/docs/empty.txt", "txt", "", nil)
	// A single empty parent is acceptable (keeps the invariant that
	// every file gets at least one parent record), but no children.
	assert.Empty(t, res.Children)
}
