package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"knowledge-engine/internal/enginetypes"
)

// AddProvider inserts a new provider, sealing its API key at rest.
func (s *Store) AddProvider(ctx context.Context, p *enginetypes.ProviderConfig) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()

	var sealed []byte
	if p.APIKey != "" {
		var err error
		sealed, err = s.sealer.seal(p.APIKey)
		if err != nil {
			return enginetypes.NewStoreError("add_provider", enginetypes.ErrFatal, err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_configs (id, name, kind, base_url, api_key_sealed, source, support_discovery, is_active, use_proxy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Kind), nullable(p.BaseURL), sealed, string(p.Source), p.SupportsDiscovery, p.IsActive, p.UseProxy, p.CreatedAt)
	return classifyErr("add_provider", err)
}

// ListProviders returns all configured providers with APIKey left
// empty; use DecryptAPIKey to retrieve it when a call actually needs it.
func (s *Store) ListProviders(ctx context.Context) ([]*enginetypes.ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, kind, base_url, source, support_discovery, is_active, use_proxy, created_at FROM provider_configs ORDER BY name`)
	if err != nil {
		return nil, classifyErr("list_providers", err)
	}
	defer rows.Close()

	var out []*enginetypes.ProviderConfig
	for rows.Next() {
		p := &enginetypes.ProviderConfig{}
		var baseURL sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &baseURL, &p.Source, &p.SupportsDiscovery, &p.IsActive, &p.UseProxy, &p.CreatedAt); err != nil {
			return nil, classifyErr("list_providers", err)
		}
		p.BaseURL = baseURL.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// DecryptAPIKey returns the decrypted API key for providerID.
func (s *Store) DecryptAPIKey(ctx context.Context, providerID string) (string, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT api_key_sealed FROM provider_configs WHERE id = ?`, providerID).Scan(&sealed)
	if err != nil {
		return "", classifyErr("decrypt_api_key", err)
	}
	if len(sealed) == 0 {
		return "", nil
	}
	key, err := s.sealer.open(sealed)
	if err != nil {
		return "", enginetypes.NewStoreError("decrypt_api_key", enginetypes.ErrFatal, err)
	}
	return key, nil
}

// AddModel inserts a model exposed by a provider, along with its
// confirmed/assumed capability set.
func (s *Store) AddModel(ctx context.Context, m *enginetypes.ModelConfig) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	caps, err := json.Marshal(m.Capabilities)
	if err != nil {
		return enginetypes.NewStoreError("add_model", enginetypes.ErrInvalidInput, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_configs (id, provider_id, name, capabilities, source, is_enabled)
		VALUES (?, ?, ?, ?, ?, ?)`, m.ID, m.ProviderID, m.Name, string(caps), string(m.Source), m.IsEnabled)
	return classifyErr("add_model", err)
}

// SetModelEnabled flips whether modelID is eligible for invocation.
func (s *Store) SetModelEnabled(ctx context.Context, modelID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE model_configs SET is_enabled = ? WHERE id = ?`, enabled, modelID)
	return classifyErr("set_model_enabled", err)
}

// SetModelCapabilities overwrites modelID's confirmed capability set,
// used by confirm_capability (§4.8).
func (s *Store) SetModelCapabilities(ctx context.Context, modelID string, caps map[enginetypes.Capability]bool) error {
	data, err := json.Marshal(caps)
	if err != nil {
		return enginetypes.NewStoreError("set_model_capabilities", enginetypes.ErrInvalidInput, err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE model_configs SET capabilities = ? WHERE id = ?`, string(data), modelID)
	return classifyErr("set_model_capabilities", err)
}

// GetModel fetches a single model by ID.
func (s *Store) GetModel(ctx context.Context, modelID string) (*enginetypes.ModelConfig, error) {
	m := &enginetypes.ModelConfig{}
	var caps string
	err := s.db.QueryRowContext(ctx, `SELECT id, provider_id, name, capabilities, source, is_enabled FROM model_configs WHERE id = ?`, modelID).
		Scan(&m.ID, &m.ProviderID, &m.Name, &caps, &m.Source, &m.IsEnabled)
	if err != nil {
		return nil, classifyErr("get_model", err)
	}
	_ = json.Unmarshal([]byte(caps), &m.Capabilities)
	return m, nil
}

// GetProvider fetches a single provider by ID (APIKey left empty).
func (s *Store) GetProvider(ctx context.Context, providerID string) (*enginetypes.ProviderConfig, error) {
	p := &enginetypes.ProviderConfig{}
	var baseURL sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, name, kind, base_url, source, support_discovery, is_active, use_proxy, created_at FROM provider_configs WHERE id = ?`, providerID).
		Scan(&p.ID, &p.Name, &p.Kind, &baseURL, &p.Source, &p.SupportsDiscovery, &p.IsActive, &p.UseProxy, &p.CreatedAt)
	if err != nil {
		return nil, classifyErr("get_provider", err)
	}
	p.BaseURL = baseURL.String
	return p, nil
}

// ListModels returns every configured model.
func (s *Store) ListModels(ctx context.Context) ([]*enginetypes.ModelConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, provider_id, name, capabilities, source, is_enabled FROM model_configs`)
	if err != nil {
		return nil, classifyErr("list_models", err)
	}
	defer rows.Close()

	var out []*enginetypes.ModelConfig
	for rows.Next() {
		m := &enginetypes.ModelConfig{}
		var caps string
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.Name, &caps, &m.Source, &m.IsEnabled); err != nil {
			return nil, classifyErr("list_models", err)
		}
		_ = json.Unmarshal([]byte(caps), &m.Capabilities)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ModelsWithCapability filters ListModels down to those supporting cap.
func (s *Store) ModelsWithCapability(ctx context.Context, cap enginetypes.Capability) ([]*enginetypes.ModelConfig, error) {
	models, err := s.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	var out []*enginetypes.ModelConfig
	for _, m := range models {
		if m.Supports(cap) {
			out = append(out, m)
		}
	}
	return out, nil
}

// SetGlobalCapability assigns modelID to serve capability engine-wide.
// Rejects the assignment with ErrInvalidInput if the model does not
// itself advertise cap in its capabilities set — the invariant that a
// capability can only ever be routed to a model that actually supports
// it.
func (s *Store) SetGlobalCapability(ctx context.Context, cap enginetypes.Capability, modelID string) error {
	model, err := s.GetModel(ctx, modelID)
	if err != nil {
		return err
	}
	if !model.Supports(cap) {
		return enginetypes.NewStoreError("set_global_capability", enginetypes.ErrInvalidInput,
			fmt.Errorf("model %q does not support capability %q", modelID, cap))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO global_capability_assignments (capability, model_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(capability) DO UPDATE SET model_id = excluded.model_id, updated_at = excluded.updated_at`,
		string(cap), modelID, time.Now().UTC())
	return classifyErr("set_global_capability", err)
}

// GlobalCapability returns the model currently assigned to capability, if any.
func (s *Store) GlobalCapability(ctx context.Context, cap enginetypes.Capability) (*enginetypes.GlobalCapabilityAssignment, error) {
	a := &enginetypes.GlobalCapabilityAssignment{Capability: cap}
	err := s.db.QueryRowContext(ctx, `SELECT model_id, updated_at FROM global_capability_assignments WHERE capability = ?`, string(cap)).
		Scan(&a.ModelID, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyErr("global_capability", err)
	}
	return a, nil
}
