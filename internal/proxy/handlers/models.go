package handlers

import (
	"net/http"

	"github.com/pysugar/ami-nexus/internal/providers/catalog"
)

// ModelsListHandler handles GET /v1/models in the OpenAI list format.
// An optional ?provider= filter narrows the catalog.
func ModelsListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entries []catalog.Model
		if provider := r.URL.Query().Get("provider"); provider != "" {
			entries = catalog.Models(provider)
		} else {
			entries = catalog.All()
		}
		writeJSON(w, map[string]interface{}{
			"object": "list",
			"data":   entries,
		})
	}
}
