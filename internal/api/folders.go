package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"knowledge-engine/internal/enginetypes"
)

// folderRequest is the wire shape for add-folder / toggle requests.
type folderRequest struct {
	Path        string `json:"path"`
	Alias       string `json:"alias,omitempty"`
	IsBlacklist bool   `json:"is_blacklist"`
}

// listFolders bypasses the config queue: it is a read, not a topology
// mutation, so it is always served from current store state regardless
// of ScanPending/ScanComplete.
func (r *Router) listFolders(w http.ResponseWriter, req *http.Request) {
	folders, err := r.store.ListFolders(req.Context())
	if err != nil {
		writeStoreErr(w, "list_folders", err)
		return
	}
	writeSuccess(w, folders)
}

// addFolder always goes through the config queue (§4.3): while a scan
// is running the mutation is durably queued and applied on completion;
// otherwise it drains and applies inline.
func (r *Router) addFolder(w http.ResponseWriter, req *http.Request) {
	var body folderRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Path == "" {
		writeBadRequest(w, "path is required")
		return
	}

	kind := enginetypes.ConfigChangeAddWhitelist
	if body.IsBlacklist {
		kind = enginetypes.ConfigChangeAddBlacklist
	}
	change := &enginetypes.ConfigChange{Kind: kind, Path: body.Path, Enabled: true}
	status, err := r.queue.Enqueue(req.Context(), change)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeCreated(w, map[string]string{"status": status, "path": body.Path})
}

func (r *Router) toggleFolder(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	var body struct {
		Blacklist bool `json:"is_blacklist"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	change := &enginetypes.ConfigChange{Kind: enginetypes.ConfigChangeToggleStatus, FolderID: id, Enabled: body.Blacklist}
	status, err := r.queue.Enqueue(req.Context(), change)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeSuccess(w, map[string]string{"status": status})
}

func (r *Router) deleteFolder(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	change := &enginetypes.ConfigChange{Kind: enginetypes.ConfigChangeDeleteFolder, FolderID: id}
	status, err := r.queue.Enqueue(req.Context(), change)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeSuccess(w, map[string]string{"status": status})
}
