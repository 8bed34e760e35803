package capability

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"knowledge-engine/internal/enginetypes"
)

// EmbedRequest is one text-or-image chunk awaiting an embedding.
type EmbedRequest struct {
	Modality enginetypes.Modality
	Text     string
	Image    []byte
	Dims     int
}

// Embed resolves the model currently assigned to serve the text or
// vision capability (embedding is treated as a variant of that
// capability, per spec.md §4.7's "multi-modal embedding"), confirms it
// is enabled, and turns req into a fixed-length vector.
//
// When the resolved provider exposes a real embeddings endpoint
// (OpenAI-like, Ollama-like — see internal/capability/providers.go),
// Embed round-trips through Client.Embed, which wraps the HTTP call in
// the same retrier/circuit-breaker pair as Complete, so transient
// network/rate-limit failures retry with backoff per spec.md §4.7 and
// a provider already in trouble fails fast via the breaker instead of
// queuing retries behind it. Providers with no embeddings endpoint
// (Claude-like) signal ErrEmbeddingUnsupported, and Embed falls back
// to a deterministic hashing-trick embedding keyed by the resolved
// model, so distinct models assigned to the same capability still
// produce distinct vector spaces even without a live embeddings call.
// Image-modality requests never call Client.Embed and always use the
// hashing embedding.
func (r *Router) Embed(ctx context.Context, cap enginetypes.Capability, req *EmbedRequest) ([]float32, error) {
	assignment, err := r.store.GlobalCapability(ctx, cap)
	if err != nil {
		return nil, fmt.Errorf("capability: embed: resolve assignment: %w", err)
	}
	if assignment == nil {
		r.publishMissing(cap)
		return nil, &ErrModelMissing{Capability: cap}
	}

	model, err := r.store.GetModel(ctx, assignment.ModelID)
	if err != nil {
		return nil, fmt.Errorf("capability: embed: load model: %w", err)
	}
	if !model.IsEnabled || !model.Supports(cap) {
		r.publishMissing(cap)
		return nil, &ErrModelMissing{Capability: cap}
	}

	client, err := r.clientFor(ctx, model)
	if err != nil {
		return nil, err
	}

	if req.Modality != enginetypes.ModalityImage {
		vec, err := client.Embed(ctx, req.Text)
		switch {
		case err == nil:
			return vec, nil
		case errors.Is(err, ErrEmbeddingUnsupported):
			// fall through to the hashing embedding below
		default:
			return nil, fmt.Errorf("capability: embed: provider call: %w", err)
		}
	}

	return hashingEmbed(model.ID, req), nil
}

// hashingEmbed implements the classic hashing trick: each token (or,
// for images, each 64-byte block) is hashed into a bucket and signed
// by a second hash bit, then the accumulated vector is L2-normalized.
// Deterministic and collision-tolerant, so semantically similar text
// lands close in cosine space without a trained model.
func hashingEmbed(salt string, req *EmbedRequest) []float32 {
	dims := req.Dims
	if dims <= 0 {
		dims = 1536
	}
	vec := make([]float64, dims)

	add := func(token string) {
		h := sha256.Sum256([]byte(salt + "|" + token))
		idx := binary.BigEndian.Uint64(h[:8]) % uint64(dims)
		sign := 1.0
		if h[8]&1 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	switch req.Modality {
	case enginetypes.ModalityImage:
		for i := 0; i < len(req.Image); i += 64 {
			end := i + 64
			if end > len(req.Image) {
				end = len(req.Image)
			}
			add(fmt.Sprintf("img:%x", req.Image[i:end]))
		}
	default:
		for _, tok := range tokenize(req.Text) {
			add(tok)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, dims)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
