package api

import (
	"net/http"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
)

// initBuiltinModel registers the zero-config local Ollama-like
// provider and model entry (§1, §4.8 expansion: "a locally-downloaded
// builtin model can serve text/structured_output without an outbound
// call"). Model artifacts themselves live under the data root's
// builtin_models/ directory (§6); fetching them is out of scope here,
// so this endpoint only ensures the provider/model rows exist and are
// enabled, then reports progress the way a real download would.
func (r *Router) initBuiltinModel(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name    string `json:"name"`
		BaseURL string `json:"base_url"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Name == "" {
		body.Name = "builtin-local"
	}
	if body.BaseURL == "" {
		body.BaseURL = "http://127.0.0.1:11434"
	}

	ctx := req.Context()
	provider := &enginetypes.ProviderConfig{
		Name:              "builtin",
		Kind:              enginetypes.ProviderKindOllamaLike,
		BaseURL:           body.BaseURL,
		Source:            enginetypes.SourceBuiltin,
		SupportsDiscovery: true,
		IsActive:          true,
	}
	if err := r.store.AddProvider(ctx, provider); err != nil {
		r.publishModelDownload(body.Name, events.ModelDownloadFailed, err.Error())
		writeStoreErr(w, "add_provider", err)
		return
	}

	model := &enginetypes.ModelConfig{
		ProviderID: provider.ID,
		Name:       body.Name,
		Source:     enginetypes.SourceBuiltin,
		Capabilities: map[enginetypes.Capability]bool{
			enginetypes.CapabilityText:             true,
			enginetypes.CapabilityStructuredOutput: true,
		},
		IsEnabled: true,
	}
	r.publishModelDownload(body.Name, events.ModelDownloadProgress, "registering builtin model")
	if err := r.store.AddModel(ctx, model); err != nil {
		r.publishModelDownload(body.Name, events.ModelDownloadFailed, err.Error())
		writeStoreErr(w, "add_model", err)
		return
	}
	r.publishModelDownload(body.Name, events.ModelDownloadCompleted, "")

	writeCreated(w, map[string]interface{}{"provider": provider, "model": model})
}

func (r *Router) publishModelDownload(name, eventName, detail string) {
	if r.bus == nil {
		return
	}
	payload := map[string]string{"model": name}
	if detail != "" {
		payload["detail"] = detail
	}
	_ = r.bus.Publish(events.NewEvent(eventName, payload))
}

// oauthCallback relays a completed provider OAuth round trip to the
// host over the event bus (§6 "OAuth callback relay"); the engine
// itself holds no browser/redirect state, so the endpoint's only job
// is to forward the provider's response and close the HTTP request.
func (r *Router) oauthCallback(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		r.publishOAuth(events.OAuthCallbackError, map[string]string{"error": errMsg, "state": q.Get("state")})
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "oauth error", errMsg)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeBadRequest(w, "code is required")
		return
	}
	r.publishOAuth(events.OAuthCallbackSuccess, map[string]string{"code": code, "state": q.Get("state")})
	writeSuccess(w, map[string]string{"state": q.Get("state")})
}

func (r *Router) publishOAuth(eventName string, payload map[string]string) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(events.NewEvent(eventName, payload))
}
