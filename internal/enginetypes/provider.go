package enginetypes

import "time"

// Capability is one abstract operation a model may be able to perform.
type Capability string

const (
	CapabilityText             Capability = "text"
	CapabilityVision           Capability = "vision"
	CapabilityToolUse          Capability = "tool_use"
	CapabilityStructuredOutput Capability = "structured_output"
)

// SourceType distinguishes where a ProviderConfig/ModelConfig came from.
type SourceType string

const (
	SourceBuiltin      SourceType = "builtin"
	SourceConfigurable SourceType = "configurable"
	SourceVIP          SourceType = "vip"
)

// ProviderKind selects which tagged-variant client a ProviderConfig
// is dispatched through.
type ProviderKind string

const (
	ProviderKindClaudeLike ProviderKind = "claude_like"
	ProviderKindOpenAILike ProviderKind = "openai_like"
	ProviderKindOllamaLike ProviderKind = "ollama_like"
	ProviderKindMock       ProviderKind = "mock"
)

// ProviderConfig is one configured upstream (or local) model provider.
// APIKey is encrypted at rest; callers receive it decrypted only when
// explicitly requested by the capability router.
type ProviderConfig struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Kind    ProviderKind `json:"kind"`
	BaseURL string       `json:"base_url,omitempty"`
	APIKey  string       `json:"-"`
	Source  SourceType   `json:"source"`
	// SupportsDiscovery marks a provider whose endpoint can be asked
	// what models it has (e.g. Ollama's /api/tags). Router.Discover
	// checks it but makes no listing call either way, so models are
	// registered manually. Per-row rather than derived from Kind, since a
	// user-registered OpenAI-compatible endpoint may or may not expose
	// an equivalent listing route.
	SupportsDiscovery bool `json:"support_discovery"`
	// IsActive gates whether the capability router will ever dispatch
	// to this provider; a provider can be kept configured but paused
	// without deleting it.
	IsActive bool `json:"is_active"`
	// UseProxy is stored and returned with the provider; the capability
	// clients do not read it, and the engine has no outbound proxy
	// setting of its own.
	UseProxy  bool      `json:"use_proxy"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelConfig is one model exposed by a ProviderConfig, along with the
// capabilities it has been confirmed (or assumed) to support.
type ModelConfig struct {
	ID           string              `json:"id"`
	ProviderID   string              `json:"provider_id"`
	Name         string              `json:"name"`
	Capabilities map[Capability]bool `json:"capabilities"`
	Source       SourceType          `json:"source"`
	// IsEnabled gates invocation: newly discovered models start
	// disabled (§4.8 discover) until a user (or confirm_capability)
	// enables them.
	IsEnabled bool `json:"is_enabled"`
}

// Supports reports whether m is known (or assumed) to support cap.
func (m *ModelConfig) Supports(cap Capability) bool {
	if m.Capabilities == nil {
		return false
	}
	return m.Capabilities[cap]
}

// GlobalCapabilityAssignment binds one abstract capability to the
// concrete model that currently serves it engine-wide.
type GlobalCapabilityAssignment struct {
	Capability Capability `json:"capability"`
	ModelID    string     `json:"model_id"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
