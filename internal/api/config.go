package api

import (
	"net/http"

	"knowledge-engine/internal/enginetypes"
)

func (r *Router) listCategories(w http.ResponseWriter, req *http.Request) {
	cats, err := r.store.ListCategories(req.Context())
	if err != nil {
		writeStoreErr(w, "list_categories", err)
		return
	}
	writeSuccess(w, cats)
}

func (r *Router) addCategory(w http.ResponseWriter, req *http.Request) {
	var c enginetypes.FileCategory
	if !decodeJSON(w, req, &c) {
		return
	}
	if c.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if err := r.store.AddCategory(req.Context(), &c); err != nil {
		writeStoreErr(w, "add_category", err)
		return
	}
	writeCreated(w, &c)
}

func (r *Router) upsertExtensionMapping(w http.ResponseWriter, req *http.Request) {
	var m enginetypes.ExtensionMapping
	if !decodeJSON(w, req, &m) {
		return
	}
	if m.Extension == "" || m.CategoryID == "" {
		writeBadRequest(w, "extension and category_id are required")
		return
	}
	if m.Priority == "" {
		m.Priority = enginetypes.PriorityMedium
	}
	if err := r.store.UpsertExtensionMapping(req.Context(), &m); err != nil {
		writeStoreErr(w, "upsert_extension_mapping", err)
		return
	}
	writeSuccess(w, &m)
}

func (r *Router) listFilterRules(w http.ResponseWriter, req *http.Request) {
	rules, err := r.store.ListFilterRules(req.Context())
	if err != nil {
		writeStoreErr(w, "list_filter_rules", err)
		return
	}
	writeSuccess(w, rules)
}

func (r *Router) addFilterRule(w http.ResponseWriter, req *http.Request) {
	var rule enginetypes.FilterRule
	if !decodeJSON(w, req, &rule) {
		return
	}
	if rule.Name == "" || rule.Pattern == "" {
		writeBadRequest(w, "name and pattern are required")
		return
	}
	if err := r.store.AddFilterRule(req.Context(), &rule); err != nil {
		writeStoreErr(w, "add_filter_rule", err)
		return
	}
	writeCreated(w, &rule)
}

func (r *Router) listBundleExtensions(w http.ResponseWriter, req *http.Request) {
	bundles, err := r.store.ListBundleExtensions(req.Context())
	if err != nil {
		writeStoreErr(w, "list_bundle_extensions", err)
		return
	}
	writeSuccess(w, bundles)
}

func (r *Router) addBundleExtension(w http.ResponseWriter, req *http.Request) {
	var b enginetypes.BundleExtension
	if !decodeJSON(w, req, &b) {
		return
	}
	if b.Extension == "" {
		writeBadRequest(w, "extension is required")
		return
	}
	b.IsActive = true
	if err := r.store.AddBundleExtension(req.Context(), &b); err != nil {
		writeStoreErr(w, "add_bundle_extension", err)
		return
	}
	writeCreated(w, &b)
}
