package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"knowledge-engine/internal/enginetypes"
)

func (r *Router) listProviders(w http.ResponseWriter, req *http.Request) {
	providers, err := r.store.ListProviders(req.Context())
	if err != nil {
		writeStoreErr(w, "list_providers", err)
		return
	}
	writeSuccess(w, providers)
}

func (r *Router) addProvider(w http.ResponseWriter, req *http.Request) {
	p := enginetypes.ProviderConfig{IsActive: true}
	if !decodeJSON(w, req, &p) {
		return
	}
	if p.Name == "" || p.Kind == "" {
		writeBadRequest(w, "name and kind are required")
		return
	}
	if p.Source == "" {
		p.Source = enginetypes.SourceConfigurable
	}
	if err := r.store.AddProvider(req.Context(), &p); err != nil {
		writeStoreErr(w, "add_provider", err)
		return
	}
	p.APIKey = ""
	writeCreated(w, &p)
}

// discoverModels returns Router.Discover's result for providerID,
// which is always an empty model list.
func (r *Router) discoverModels(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	models, err := r.router.Discover(req.Context(), id)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeSuccess(w, models)
}

func (r *Router) listModels(w http.ResponseWriter, req *http.Request) {
	models, err := r.store.ListModels(req.Context())
	if err != nil {
		writeStoreErr(w, "list_models", err)
		return
	}
	writeSuccess(w, models)
}

func (r *Router) addModel(w http.ResponseWriter, req *http.Request) {
	var m enginetypes.ModelConfig
	if !decodeJSON(w, req, &m) {
		return
	}
	if m.ProviderID == "" || m.Name == "" {
		writeBadRequest(w, "provider_id and name are required")
		return
	}
	if m.Source == "" {
		m.Source = enginetypes.SourceConfigurable
	}
	// Newly registered models start disabled until confirmed or
	// manually enabled, per spec.md §4.8.
	m.IsEnabled = false
	if err := r.store.AddModel(req.Context(), &m); err != nil {
		writeStoreErr(w, "add_model", err)
		return
	}
	writeCreated(w, &m)
}

func (r *Router) setModelEnabled(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if err := r.store.SetModelEnabled(req.Context(), id, body.Enabled); err != nil {
		writeStoreErr(w, "set_model_enabled", err)
		return
	}
	writeSuccess(w, map[string]bool{"enabled": body.Enabled})
}

// confirmCapability probes a model with one canned request per
// capability and persists the resulting set (§4.8).
func (r *Router) confirmCapability(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	confirmed, err := r.router.ConfirmCapability(req.Context(), id)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeSuccess(w, confirmed)
}

func (r *Router) setGlobalCapability(w http.ResponseWriter, req *http.Request) {
	cap := enginetypes.Capability(chi.URLParam(req, "capability"))
	var body struct {
		ModelID string `json:"model_id"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.ModelID == "" {
		writeBadRequest(w, "model_id is required")
		return
	}
	if err := r.store.SetGlobalCapability(req.Context(), cap, body.ModelID); err != nil {
		writeStoreErr(w, "set_global_capability", err)
		return
	}
	writeSuccess(w, map[string]string{"capability": string(cap), "model_id": body.ModelID})
}

func (r *Router) getGlobalCapability(w http.ResponseWriter, req *http.Request) {
	cap := enginetypes.Capability(chi.URLParam(req, "capability"))
	assignment, err := r.store.GlobalCapability(req.Context(), cap)
	if err != nil {
		writeStoreErr(w, "get_global_capability", err)
		return
	}
	if assignment == nil {
		writeNotFound(w, "no model assigned for capability "+string(cap))
		return
	}
	writeSuccess(w, assignment)
}
