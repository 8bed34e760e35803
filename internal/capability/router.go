package capability

import (
	"context"
	"fmt"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
)

// ProviderStore is the subset of store.Store the router needs to
// resolve capability → model → provider and decrypt provider secrets.
type ProviderStore interface {
	GlobalCapability(ctx context.Context, cap enginetypes.Capability) (*enginetypes.GlobalCapabilityAssignment, error)
	GetModel(ctx context.Context, modelID string) (*enginetypes.ModelConfig, error)
	GetProvider(ctx context.Context, providerID string) (*enginetypes.ProviderConfig, error)
	DecryptAPIKey(ctx context.Context, providerID string) (string, error)
	ListModels(ctx context.Context) ([]*enginetypes.ModelConfig, error)
	SetModelCapabilities(ctx context.Context, modelID string, caps map[enginetypes.Capability]bool) error
}

// Publisher is the subset of the event bus the router publishes
// through when a capability has no usable model.
type Publisher interface {
	Publish(e *events.Event) error
}

// Router maintains the capability → ModelConfig → ProviderConfig
// mapping and dispatches Invoke calls to the right tagged-variant
// Client, grounded on pkg/ai.Service's provider dispatch (§4.8).
type Router struct {
	store   ProviderStore
	bus     Publisher
	logger  logging.Logger
	clients map[string]*Client // keyed by model ID, built lazily
}

// NewRouter constructs a Router. bus may be nil in tests.
func NewRouter(store ProviderStore, bus Publisher, logger logging.Logger) *Router {
	return &Router{store: store, bus: bus, logger: logger, clients: make(map[string]*Client)}
}

// AssignedModel returns the model ID currently bound to cap, or "" if
// no assignment exists. Callers holding long-running work tied to a
// capability (vectorization.Pipeline) use this to detect a mid-task
// reassignment: the bound model at the start of a task is not
// necessarily the one still bound by the time it finishes.
func (r *Router) AssignedModel(ctx context.Context, cap enginetypes.Capability) (string, error) {
	assignment, err := r.store.GlobalCapability(ctx, cap)
	if err != nil {
		return "", fmt.Errorf("capability: assigned model: %w", err)
	}
	if assignment == nil {
		return "", nil
	}
	return assignment.ModelID, nil
}

// Invoke resolves the model currently assigned to cap and dispatches
// req to it. Returns *ErrModelMissing (never a bare nil model) when no
// assignment exists, the model is disabled, or the model does not
// advertise cap — spec.md §4.8's "confirms ModelConfig.is_enabled and
// the assigned capability is advertised".
func (r *Router) Invoke(ctx context.Context, cap enginetypes.Capability, req *Request) (*Response, error) {
	req.Capability = cap

	assignment, err := r.store.GlobalCapability(ctx, cap)
	if err != nil {
		return nil, fmt.Errorf("capability: resolve assignment: %w", err)
	}
	if assignment == nil {
		r.publishMissing(cap)
		return nil, &ErrModelMissing{Capability: cap}
	}

	model, err := r.store.GetModel(ctx, assignment.ModelID)
	if err != nil {
		return nil, fmt.Errorf("capability: load model: %w", err)
	}
	if !model.IsEnabled || !model.Supports(cap) {
		r.publishMissing(cap)
		return nil, &ErrModelMissing{Capability: cap}
	}

	client, err := r.clientFor(ctx, model)
	if err != nil {
		return nil, err
	}
	return client.Complete(ctx, req)
}

// Discover loads the provider and returns no models. It makes no
// listing call to the provider, whether or not the provider is marked
// SupportsDiscovery, so every model is registered manually.
func (r *Router) Discover(ctx context.Context, providerID string) ([]*enginetypes.ModelConfig, error) {
	provider, err := r.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("capability: discover: load provider: %w", err)
	}

	// SupportsDiscovery is per-row rather than derived from Kind: a
	// user-registered OpenAI-compatible endpoint may expose a listing
	// route too, while an Ollama-like provider behind a minimal proxy
	// might not. Providers that don't support discovery require manual
	// model registration.
	if !provider.SupportsDiscovery || !provider.IsActive {
		return nil, nil
	}

	// No listing endpoint (/api/tags, /v1/models) is called for any
	// provider kind; the result is always empty.
	return nil, nil
}

// ConfirmCapability probes model with one canned prompt per capability
// and persists the resulting capability set, per spec.md §4.8.
func (r *Router) ConfirmCapability(ctx context.Context, modelID string) (map[enginetypes.Capability]bool, error) {
	model, err := r.store.GetModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("capability: confirm: load model: %w", err)
	}
	client, err := r.clientFor(ctx, model)
	if err != nil {
		return nil, err
	}

	confirmed := make(map[enginetypes.Capability]bool, 4)
	for _, cap := range []enginetypes.Capability{
		enginetypes.CapabilityText,
		enginetypes.CapabilityVision,
		enginetypes.CapabilityToolUse,
		enginetypes.CapabilityStructuredOutput,
	} {
		probe := cannedProbe(cap)
		_, err := client.Complete(ctx, probe)
		confirmed[cap] = err == nil
	}

	if err := r.store.SetModelCapabilities(ctx, modelID, confirmed); err != nil {
		return nil, fmt.Errorf("capability: confirm: persist capabilities: %w", err)
	}
	return confirmed, nil
}

func cannedProbe(cap enginetypes.Capability) *Request {
	switch cap {
	case enginetypes.CapabilityVision:
		return &Request{Capability: cap, Messages: []Message{{Role: "user", Content: "describe this image"}}, ImageData: []byte{0xFF, 0xD8, 0xFF}}
	case enginetypes.CapabilityStructuredOutput:
		return &Request{Capability: cap, Messages: []Message{{Role: "user", Content: "return {}"}}, SchemaHint: []byte(`{"type":"object"}`)}
	case enginetypes.CapabilityToolUse:
		return &Request{Capability: cap, Messages: []Message{{Role: "user", Content: "call a no-op tool"}}}
	default:
		return &Request{Capability: cap, Messages: []Message{{Role: "user", Content: "say hello"}}}
	}
}

func (r *Router) clientFor(ctx context.Context, model *enginetypes.ModelConfig) (*Client, error) {
	if c, ok := r.clients[model.ID]; ok {
		return c, nil
	}
	provider, err := r.store.GetProvider(ctx, model.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("capability: load provider: %w", err)
	}
	apiKey, err := r.store.DecryptAPIKey(ctx, provider.ID)
	if err != nil {
		return nil, fmt.Errorf("capability: decrypt provider key: %w", err)
	}
	client, err := NewProviderClient(provider.Kind, provider.BaseURL, apiKey, model.Name)
	if err != nil {
		return nil, err
	}
	r.clients[model.ID] = client
	return client, nil
}

func (r *Router) publishMissing(cap enginetypes.Capability) {
	if r.bus == nil {
		return
	}
	e := events.NewEvent(events.TaggingModelMissing, map[string]string{"capability": string(cap)})
	if err := r.bus.Publish(e); err != nil && r.logger != nil {
		r.logger.Warn("publish tagging-model-missing failed", "error", err)
	}
}
