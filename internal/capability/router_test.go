package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/enginetypes"
)

type fakeProviderStore struct {
	assignments map[enginetypes.Capability]*enginetypes.GlobalCapabilityAssignment
	models      map[string]*enginetypes.ModelConfig
	providers   map[string]*enginetypes.ProviderConfig
}

func newFakeProviderStore() *fakeProviderStore {
	return &fakeProviderStore{
		assignments: map[enginetypes.Capability]*enginetypes.GlobalCapabilityAssignment{},
		models:      map[string]*enginetypes.ModelConfig{},
		providers:   map[string]*enginetypes.ProviderConfig{},
	}
}

func (f *fakeProviderStore) GlobalCapability(_ context.Context, cap enginetypes.Capability) (*enginetypes.GlobalCapabilityAssignment, error) {
	return f.assignments[cap], nil
}

func (f *fakeProviderStore) GetModel(_ context.Context, modelID string) (*enginetypes.ModelConfig, error) {
	m, ok := f.models[modelID]
	if !ok {
		return nil, &ErrModelMissing{}
	}
	return m, nil
}

func (f *fakeProviderStore) GetProvider(_ context.Context, providerID string) (*enginetypes.ProviderConfig, error) {
	p, ok := f.providers[providerID]
	if !ok {
		return nil, &ErrModelMissing{}
	}
	return p, nil
}

func (f *fakeProviderStore) DecryptAPIKey(_ context.Context, _ string) (string, error) { return "", nil }

func (f *fakeProviderStore) ListModels(_ context.Context) ([]*enginetypes.ModelConfig, error) {
	out := make([]*enginetypes.ModelConfig, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeProviderStore) SetModelCapabilities(_ context.Context, modelID string, caps map[enginetypes.Capability]bool) error {
	f.models[modelID].Capabilities = caps
	return nil
}

func TestInvokeReturnsModelMissingWhenUnassigned(t *testing.T) {
	store := newFakeProviderStore()
	r := NewRouter(store, nil, nil)

	_, err := r.Invoke(context.Background(), enginetypes.CapabilityStructuredOutput, &Request{})
	require.Error(t, err)
	var missing *ErrModelMissing
	require.ErrorAs(t, err, &missing)
	require.Equal(t, enginetypes.CapabilityStructuredOutput, missing.Capability)
}

func TestInvokeReturnsModelMissingWhenDisabled(t *testing.T) {
	store := newFakeProviderStore()
	store.providers["p1"] = &enginetypes.ProviderConfig{ID: "p1", Kind: enginetypes.ProviderKindMock}
	store.models["m1"] = &enginetypes.ModelConfig{ID: "m1", ProviderID: "p1", IsEnabled: false, Capabilities: map[enginetypes.Capability]bool{enginetypes.CapabilityText: true}}
	store.assignments[enginetypes.CapabilityText] = &enginetypes.GlobalCapabilityAssignment{Capability: enginetypes.CapabilityText, ModelID: "m1"}

	r := NewRouter(store, nil, nil)
	_, err := r.Invoke(context.Background(), enginetypes.CapabilityText, &Request{})
	require.Error(t, err)
	var missing *ErrModelMissing
	require.ErrorAs(t, err, &missing)
}

func TestInvokeDispatchesToMockProvider(t *testing.T) {
	store := newFakeProviderStore()
	store.providers["p1"] = &enginetypes.ProviderConfig{ID: "p1", Kind: enginetypes.ProviderKindMock}
	store.models["m1"] = &enginetypes.ModelConfig{ID: "m1", ProviderID: "p1", IsEnabled: true, Capabilities: map[enginetypes.Capability]bool{enginetypes.CapabilityText: true}}
	store.assignments[enginetypes.CapabilityText] = &enginetypes.GlobalCapabilityAssignment{Capability: enginetypes.CapabilityText, ModelID: "m1"}

	r := NewRouter(store, nil, nil)
	resp, err := r.Invoke(context.Background(), enginetypes.CapabilityText, &Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "mock response", resp.Content)
}

func TestConfirmCapabilityPersistsResults(t *testing.T) {
	store := newFakeProviderStore()
	store.providers["p1"] = &enginetypes.ProviderConfig{ID: "p1", Kind: enginetypes.ProviderKindMock}
	store.models["m1"] = &enginetypes.ModelConfig{ID: "m1", ProviderID: "p1"}

	r := NewRouter(store, nil, nil)
	caps, err := r.ConfirmCapability(context.Background(), "m1")
	require.NoError(t, err)
	require.True(t, caps[enginetypes.CapabilityText])
	require.Equal(t, caps, store.models["m1"].Capabilities)
}
