// Package vectorstore is the Qdrant-backed home for VectorChunk
// embeddings. Each point is keyed by its chunk's UUID and carries
// file_path, tier and ordinal in its payload, in place of the
// conversation-chunk schema the teacher's QdrantStore uses.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/logging"
)

const defaultCollection = "engine_chunks"

// Config configures the Qdrant connection.
type Config struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	Collection     string
	VectorSize     uint64
}

// DefaultConfig returns a local, unauthenticated Qdrant connection
// targeting the default collection, grounded on the teacher's
// NewQdrantStore defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:       "localhost",
		Port:       6334,
		Collection: defaultCollection,
		VectorSize: 1536,
	}
}

// Store implements vector persistence and similarity search for
// VectorChunk, grounded on internal/storage/qdrant.go's QdrantStore
// (collection lifecycle, point conversion, filter building), narrowed
// from the conversation-chunk schema to §3's hierarchical chunk model.
type Store struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
	logger         logging.Logger
}

// Open connects to Qdrant and ensures the collection exists.
func Open(ctx context.Context, cfg *Config, logger logging.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = defaultCollection
	}
	vectorSize := cfg.VectorSize
	if vectorSize == 0 {
		vectorSize = 1536
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create client: %w", err)
	}

	s := &Store{client: client, collectionName: collectionName, vectorSize: vectorSize, logger: logger}

	collections, err := client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: list collections: %w", err)
	}
	exists := false
	for _, c := range collections {
		if c == collectionName {
			exists = true
			break
		}
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("vectorstore: create collection %s: %w", collectionName, err)
		}
		if logger != nil {
			logger.Info("created qdrant collection", "collection", collectionName)
		}
	}
	return s, nil
}

// Close releases the client; the qdrant Go client has no explicit close.
func (s *Store) Close() error { return nil }

// Upsert writes one chunk's embedding and payload.
func (s *Store) Upsert(ctx context.Context, chunk *enginetypes.VectorChunk) error {
	if len(chunk.Embedding) == 0 {
		return errors.New("vectorstore: chunk must have an embedding before storing")
	}
	point := chunkToPoint(chunk)
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert: %w", err)
	}
	return nil
}

// UpsertBatch writes multiple chunks in a single call.
func (s *Store) UpsertBatch(ctx context.Context, chunks []*enginetypes.VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		points = append(points, chunkToPoint(c))
	}
	if len(points) == 0 {
		return nil
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: s.collectionName, Points: points})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert batch: %w", err)
	}
	return nil
}

// SearchOptions narrows a semantic search, grounded on buildFilter's
// repository/type conditions generalized to file-set/modality/tier.
type SearchOptions struct {
	Limit        int
	MinScore     float32
	FilePaths    []string // restrict to a pinned-file session scope
	Modality     enginetypes.Modality
	Tier         enginetypes.Tier
}

// Result pairs a chunk with its similarity score.
type Result struct {
	Chunk *enginetypes.VectorChunk
	Score float32
}

// Search performs cosine-similarity search against embedding, filtered
// per opts.
func (s *Store) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]Result, error) {
	if len(embedding) == 0 {
		return nil, errors.New("vectorstore: embedding cannot be empty")
	}
	limit := uint64(opts.Limit)
	if limit == 0 {
		limit = 10
	}

	filter := buildFilter(opts)
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
		Filter:         filter,
		ScoreThreshold: qdrant.PtrOf(opts.MinScore),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	out := make([]Result, 0, len(scored))
	for _, p := range scored {
		chunk, err := scoredPointToChunk(p)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("skipping point with unparseable payload", "error", err)
			}
			continue
		}
		out = append(out, Result{Chunk: chunk, Score: p.GetScore()})
	}
	return out, nil
}

// GetChildren returns the child chunks of parentID, ordered by ordinal.
func (s *Store) GetChildren(ctx context.Context, parentID string) ([]*enginetypes.VectorChunk, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{matchKeyword("parent_id", parentID)}}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collectionName,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get children: %w", err)
	}
	out := make([]*enginetypes.VectorChunk, 0, len(points))
	for _, p := range points {
		c, err := pointToChunk(p)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// GetByID fetches a single chunk (parent or child) by its point ID,
// used by the retrieval package to attach a child hit's parent text.
func (s *Store) GetByID(ctx context.Context, id string) (*enginetypes.VectorChunk, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collectionName,
		Ids:            []*qdrant.PointId{stringToPointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get by id: %w", err)
	}
	if len(points) == 0 {
		return nil, enginetypes.NewStoreError("get_by_id", enginetypes.ErrNotFound, nil)
	}
	return pointToChunk(points[0])
}

// DeleteByFilePath removes every chunk (parent and child) belonging to filePath.
func (s *Store) DeleteByFilePath(ctx context.Context, filePath string) error {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{matchKeyword("file_path", filePath)}}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete by file path: %w", err)
	}
	return nil
}

// FileModalities returns the set of distinct modalities present among
// filePath's chunks, used by the session coordinator to decide whether
// a pinned file is eligible for co-reading (spec.md §4.10: modality
// must be text, not image-only).
func (s *Store) FileModalities(ctx context.Context, filePath string) (map[enginetypes.Modality]bool, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{matchKeyword("file_path", filePath)}}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collectionName,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: file modalities: %w", err)
	}
	out := make(map[enginetypes.Modality]bool)
	for _, p := range points {
		m := enginetypes.Modality(strFromPayload(p.GetPayload(), "modality"))
		if m != "" {
			out[m] = true
		}
	}
	return out, nil
}

// HealthCheck verifies the collection is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.GetCollectionInfo(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("vectorstore: health check: %w", err)
	}
	return nil
}

func buildFilter(opts SearchOptions) *qdrant.Filter {
	var conditions []*qdrant.Condition
	if len(opts.FilePaths) > 0 {
		conditions = append(conditions, matchKeywords("file_path", opts.FilePaths))
	}
	if opts.Modality != "" {
		conditions = append(conditions, matchKeyword("modality", string(opts.Modality)))
	}
	if opts.Tier != "" {
		conditions = append(conditions, matchKeyword("tier", string(opts.Tier)))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func matchKeyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func matchKeywords(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}

func chunkToPoint(c *enginetypes.VectorChunk) *qdrant.PointStruct {
	payload := map[string]*qdrant.Value{
		"file_path":   strValue(c.FilePath),
		"tier":        strValue(string(c.Tier)),
		"parent_id":   strValue(c.ParentID),
		"ordinal":     intValue(int64(c.Ordinal)),
		"text":        strValue(c.Text),
		"modality":    strValue(string(c.Modality)),
		"token_count": intValue(int64(c.TokenCount)),
	}
	return &qdrant.PointStruct{
		Id:      stringToPointID(c.ID),
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: c.Embedding}}},
		Payload: payload,
	}
}

func pointToChunk(p *qdrant.RetrievedPoint) (*enginetypes.VectorChunk, error) {
	payload := p.GetPayload()
	c := &enginetypes.VectorChunk{
		ID:       pointIDToString(p.GetId()),
		FilePath: strFromPayload(payload, "file_path"),
		Tier:     enginetypes.Tier(strFromPayload(payload, "tier")),
		ParentID: strFromPayload(payload, "parent_id"),
		Text:     strFromPayload(payload, "text"),
		Modality: enginetypes.Modality(strFromPayload(payload, "modality")),
	}
	if v, ok := payload["ordinal"]; ok {
		c.Ordinal = int(v.GetIntegerValue())
	}
	if v, ok := payload["token_count"]; ok {
		c.TokenCount = int(v.GetIntegerValue())
	}
	if vectors := p.GetVectors(); vectors != nil {
		if vec := vectors.GetVector(); vec != nil {
			c.Embedding = vec.GetData()
		}
	}
	return c, nil
}

func scoredPointToChunk(p *qdrant.ScoredPoint) (*enginetypes.VectorChunk, error) {
	payload := p.GetPayload()
	c := &enginetypes.VectorChunk{
		ID:       pointIDToString(p.GetId()),
		FilePath: strFromPayload(payload, "file_path"),
		Tier:     enginetypes.Tier(strFromPayload(payload, "tier")),
		ParentID: strFromPayload(payload, "parent_id"),
		Text:     strFromPayload(payload, "text"),
		Modality: enginetypes.Modality(strFromPayload(payload, "modality")),
	}
	if v, ok := payload["ordinal"]; ok {
		c.Ordinal = int(v.GetIntegerValue())
	}
	if v, ok := payload["token_count"]; ok {
		c.TokenCount = int(v.GetIntegerValue())
	}
	if vectors := p.GetVectors(); vectors != nil {
		if vec := vectors.GetVector(); vec != nil {
			c.Embedding = vec.GetData()
		}
	}
	return c, nil
}

func strValue(s string) *qdrant.Value { return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}} }
func intValue(i int64) *qdrant.Value  { return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}} }

func strFromPayload(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDToString(id *qdrant.PointId) string {
	return id.GetUuid()
}
