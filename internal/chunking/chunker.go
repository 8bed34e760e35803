// Package chunking implements the hierarchical parent/child chunking
// scheme vectorization uses to segment a screened file's extracted
// text into retrieval units (spec.md §4.7). Parent chunks are large,
// semantically coherent segments (sections/pages) up to ParentMaxTokens;
// child chunks are smaller, overlapping windows within a parent, each
// carrying a ParentID back to it.
//
// Grounded on the teacher's internal/documents/processor.go
// ProcessMarkdownToSections: the same goldmark AST walk that there
// splits a PRD into titled Sections here locates parent-chunk
// boundaries at markdown headings. Non-markdown text falls back to
// paragraph-accumulation boundaries. The text itself always arrives
// pre-extracted — this package never parses PDFs, Office documents, or
// images itself, per spec.md's "no custom text parser" Non-goal.
package chunking

import (
	"bytes"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/enginetypes"
)

// ImageAsset is one image extracted from a document by an external
// extractor (never by this package), alongside whatever alt/caption
// text accompanied it.
type ImageAsset struct {
	Data    []byte
	Caption string
}

// Result is the full chunk set produced for one file: every parent and
// every child, ready to hand to the capability router for embedding.
type Result struct {
	Parents []*enginetypes.VectorChunk
	Children []*enginetypes.VectorChunk
}

// Chunker turns pre-extracted file text (plus any extracted images)
// into a parent/child chunk tree.
type Chunker struct {
	cfg *config.ChunkingConfig
	md  goldmark.Markdown
}

// New constructs a Chunker from the engine's chunking configuration.
func New(cfg *config.ChunkingConfig) *Chunker {
	return &Chunker{cfg: cfg, md: goldmark.New()}
}

var markdownExtensions = map[string]bool{
	"md": true, "markdown": true, "mdx": true,
}

// Chunk segments text (already extracted from filePath by an external
// extractor) into parent/child VectorChunks, and appends one image
// child chunk per entry in images, parented under the single parent
// that holds its caption text (or the last parent, if none).
func (c *Chunker) Chunk(filePath, extension, text string, images []ImageAsset) *Result {
	sections := c.parentSections(extension, text)
	if len(sections) == 0 {
		sections = []string{""}
	}

	res := &Result{}
	for i, sectionText := range sections {
		parent := &enginetypes.VectorChunk{
			ID:         uuid.NewString(),
			FilePath:   filePath,
			Tier:       enginetypes.TierParent,
			Ordinal:    i,
			Text:       sectionText,
			Modality:   enginetypes.ModalityText,
			TokenCount: estimateTokens(sectionText),
		}
		res.Parents = append(res.Parents, parent)

		for j, childText := range c.childWindows(sectionText) {
			res.Children = append(res.Children, &enginetypes.VectorChunk{
				ID:         uuid.NewString(),
				FilePath:   filePath,
				Tier:       enginetypes.TierChild,
				ParentID:   parent.ID,
				Ordinal:    j,
				Text:       childText,
				Modality:   enginetypes.ModalityText,
				TokenCount: estimateTokens(childText),
			})
		}
	}

	lastParentID := res.Parents[len(res.Parents)-1].ID
	for i, img := range images {
		parentID := lastParentID
		for _, p := range res.Parents {
			if img.Caption != "" && strings.Contains(p.Text, img.Caption) {
				parentID = p.ID
				break
			}
		}
		res.Children = append(res.Children, &enginetypes.VectorChunk{
			ID:       uuid.NewString(),
			FilePath: filePath,
			Tier:     enginetypes.TierChild,
			ParentID: parentID,
			Ordinal:  len(res.Children) + i,
			Text:     img.Caption,
			Modality: enginetypes.ModalityImage,
		})
	}

	return res
}

// parentSections splits text into parent-chunk-sized segments. For
// markdown-ish extensions, boundaries follow heading structure
// (grounded on the teacher's ProcessMarkdownToSections); for anything
// else, paragraphs are accumulated up to ParentMaxTokens.
func (c *Chunker) parentSections(extension, src string) []string {
	if markdownExtensions[strings.ToLower(extension)] {
		if sections := c.markdownSections(src); len(sections) > 0 {
			return sections
		}
	}
	return c.paragraphSections(src)
}

// markdownSections walks the goldmark AST exactly the way the
// teacher's ProcessMarkdownToSections does, except it accumulates raw
// source text per heading-delimited section instead of a structured
// Section{Title, Content} record, since a parent chunk only needs the
// text itself.
func (c *Chunker) markdownSections(src string) []string {
	source := []byte(src)
	reader := text.NewReader(source)
	doc := c.md.Parser().Parse(reader)

	var sections []string
	var current bytes.Buffer
	started := false

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.Heading:
			if started && current.Len() > 0 {
				sections = append(sections, strings.TrimSpace(current.String()))
				current.Reset()
			}
			started = true
		default:
			if textNode, ok := n.(*ast.Text); ok {
				current.Write(textNode.Segment.Value(source))
				current.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if current.Len() > 0 {
		sections = append(sections, strings.TrimSpace(current.String()))
	}
	return sections
}

// paragraphSections accumulates blank-line-delimited paragraphs into
// segments up to ParentMaxTokens, splitting to a new parent once
// adding the next paragraph would exceed the budget.
func (c *Chunker) paragraphSections(src string) []string {
	maxTokens := c.cfg.ParentMaxTokens
	if maxTokens <= 0 {
		maxTokens = 800
	}
	paragraphs := splitParagraphs(src)
	if len(paragraphs) == 0 {
		return nil
	}

	var sections []string
	var current strings.Builder
	currentTokens := 0
	for _, p := range paragraphs {
		pTokens := estimateTokens(p)
		if currentTokens > 0 && currentTokens+pTokens > maxTokens {
			sections = append(sections, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		currentTokens += pTokens
	}
	if current.Len() > 0 {
		sections = append(sections, strings.TrimSpace(current.String()))
	}
	return sections
}

// childWindows splits one parent's text into overlapping child windows
// of ChildMaxTokens with ChildOverlapTokens overlap, per spec.md §4.7.
func (c *Chunker) childWindows(parentText string) []string {
	words := strings.Fields(parentText)
	if len(words) == 0 {
		return nil
	}

	maxTokens := c.cfg.ChildMaxTokens
	if maxTokens <= 0 {
		maxTokens = 200
	}
	overlap := c.cfg.ChildOverlapTokens
	if overlap < 0 || overlap >= maxTokens {
		overlap = 0
	}
	// Words roughly track tokens 1:1 for this estimator (see
	// estimateTokens), so the window sizes below are in words.
	stride := maxTokens - overlap
	if stride <= 0 {
		stride = maxTokens
	}

	var windows []string
	for start := 0; start < len(words); start += stride {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		windows = append(windows, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return windows
}

func splitParagraphs(src string) []string {
	raw := strings.Split(src, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// estimateTokens approximates token count by word count, the same
// order-of-magnitude heuristic the teacher's complexity/time-
// investment estimators use elsewhere for cheap content sizing
// without pulling in a model-specific tokenizer.
func estimateTokens(s string) int {
	return len(strings.Fields(s))
}
