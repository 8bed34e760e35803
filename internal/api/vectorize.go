package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"knowledge-engine/internal/vectorization"
)

// triggerVectorization is the pin-file vectorization trigger (§6): a
// session pinning a file enqueues it on the interactive lane, which
// outranks batch work already queued (§5).
func (r *Router) triggerVectorization(w http.ResponseWriter, req *http.Request) {
	var body struct {
		FilePath  string `json:"file_path"`
		Extension string `json:"extension"`
		Text      string `json:"text"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.FilePath == "" {
		writeBadRequest(w, "file_path is required")
		return
	}

	task, err := r.pipe.Enqueue(req.Context(), vectorization.Request{
		FilePath:    body.FilePath,
		Extension:   body.Extension,
		Text:        body.Text,
		Interactive: true,
	})
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeCreated(w, task)
}

func (r *Router) getVectorizationTask(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "taskID")
	task, err := r.store.GetTask(req.Context(), id)
	if err != nil {
		writeStoreErr(w, "get_task", err)
		return
	}
	writeSuccess(w, task)
}
