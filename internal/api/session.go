package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"knowledge-engine/internal/session"
)

func (r *Router) createSession(w http.ResponseWriter, req *http.Request) {
	sess, err := r.coord.Create(req.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeCreated(w, sess)
}

func (r *Router) getSession(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	sess, err := r.coord.Get(req.Context(), id)
	if err != nil {
		writeStoreErr(w, "get_session", err)
		return
	}
	writeSuccess(w, sess)
}

func (r *Router) pinFile(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	var body struct {
		FilePath string `json:"file_path"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.FilePath == "" {
		writeBadRequest(w, "file_path is required")
		return
	}
	if err := r.coord.PinFile(req.Context(), id, body.FilePath); err != nil {
		writeStoreErr(w, "pin_file", err)
		return
	}
	writeSuccess(w, map[string]string{"file_path": body.FilePath})
}

func (r *Router) unpinFile(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	var body struct {
		FilePath string `json:"file_path"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if err := r.coord.UnpinFile(req.Context(), id, body.FilePath); err != nil {
		writeStoreErr(w, "unpin_file", err)
		return
	}
	writeSuccess(w, map[string]string{"file_path": body.FilePath})
}

func (r *Router) listPins(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	files, err := r.coord.PinnedFiles(req.Context(), id)
	if err != nil {
		writeStoreErr(w, "pinned_files", err)
		return
	}
	writeSuccess(w, files)
}

func (r *Router) setToolSelection(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	tool := chi.URLParam(req, "tool")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if err := r.coord.SetToolSelection(req.Context(), id, tool, body.Enabled); err != nil {
		writeStoreErr(w, "set_tool_selection", err)
		return
	}
	writeSuccess(w, map[string]interface{}{"tool": tool, "enabled": body.Enabled})
}

// enterCoReading atomically moves the session into co-reading mode
// (§4.10, §8 scenario 5), rejecting with a precise reason when the
// target file's vectorization is not complete.
func (r *Router) enterCoReading(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	var body struct {
		FilePath string `json:"file_path"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.FilePath == "" {
		writeBadRequest(w, "file_path is required")
		return
	}

	sess, err := r.coord.EnterCoReading(req.Context(), id, body.FilePath)
	if err != nil {
		var rejected *session.RejectedError
		if errors.As(err, &rejected) {
			writeError(w, http.StatusConflict, ErrorCodeConflict, "co-reading rejected", string(rejected.Reason))
			return
		}
		writeInternal(w, err)
		return
	}
	writeSuccess(w, sess)
}

func (r *Router) exitCoReading(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	sess, err := r.coord.ExitCoReading(req.Context(), id)
	if err != nil {
		writeStoreErr(w, "exit_co_reading", err)
		return
	}
	writeSuccess(w, sess)
}
