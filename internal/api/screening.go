package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/retrieval"
	"knowledge-engine/internal/store"
)

// searchScreening is the screening query endpoint (spec.md §6): by
// category, time range, tag set, or path substring, all AND-combined.
func (r *Router) searchScreening(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filter := store.SearchFilter{
		CategoryID:   q.Get("category_id"),
		PathContains: q.Get("path_contains"),
	}
	if from := q.Get("modified_from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.ModifiedFrom = t
		}
	}
	if to := q.Get("modified_to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.ModifiedTo = t
		}
	}
	if tag := q.Get("tag"); tag != "" {
		ids, err := r.store.FilesByTag(req.Context(), tag)
		if err != nil {
			writeStoreErr(w, "files_by_tag", err)
			return
		}
		filter.FileIDs = ids
	}

	results, err := r.store.SearchScreeningResults(req.Context(), filter)
	if err != nil {
		writeStoreErr(w, "search_screening_results", err)
		return
	}
	writeSuccess(w, results)
}

func (r *Router) getScreeningResult(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	result, err := r.store.GetScreeningResult(req.Context(), id)
	if err != nil {
		writeStoreErr(w, "get_screening_result", err)
		return
	}
	writeSuccess(w, result)
}

// retrievalSearch runs the hybrid semantic+lexical query (§4.9).
func (r *Router) retrievalSearch(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text      string   `json:"text"`
		Modality  string   `json:"modality,omitempty"`
		FilePaths []string `json:"file_paths,omitempty"`
		TagName   string   `json:"tag_name,omitempty"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Text == "" {
		writeBadRequest(w, "text is required")
		return
	}

	modality := enginetypes.ModalityText
	if body.Modality == string(enginetypes.ModalityImage) {
		modality = enginetypes.ModalityImage
	}
	query := retrieval.Query{Text: body.Text, Modality: modality, FilePaths: body.FilePaths, TagName: body.TagName}
	hits, err := r.engine.Search(req.Context(), query)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeSuccess(w, hits)
}
