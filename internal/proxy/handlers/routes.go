package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/ami-nexus/internal/db"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"gorm.io/gorm"
)

var knownProviders = map[string]bool{
	models.ProviderAmi:          true,
	models.ProviderDigitalOcean: true,
	models.ProviderBedrock:      true,
	models.ProviderCodex:        true,
}

// ModelRoutesListHandler handles GET /api/model-routes.
func ModelRoutesListHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routes, err := db.ListRoutes(database)
		if err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		writeJSON(w, map[string]interface{}{"routes": routes})
	}
}

// SaveModelRouteHandler handles POST /api/model-routes: creates or
// replaces the route for the given client model.
func SaveModelRouteHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ClientModel string `json:"client_model"`
			Provider    string `json:"provider"`
			TargetModel string `json:"target_model"`
			IsActive    *bool  `json:"is_active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if req.ClientModel == "" {
			badRequest(w, "client_model is required")
			return
		}
		if !knownProviders[req.Provider] {
			badRequest(w, "unknown provider: "+req.Provider)
			return
		}
		route := &models.ModelRoute{
			ClientModel: req.ClientModel,
			Provider:    req.Provider,
			TargetModel: req.TargetModel,
			IsActive:    req.IsActive == nil || *req.IsActive,
		}
		if err := db.SaveRoute(database, route); err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		writeJSON(w, route)
	}
}

// DeleteModelRouteHandler handles DELETE /api/model-routes/{id}.
func DeleteModelRouteHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
		if err != nil {
			badRequest(w, "invalid route id")
			return
		}
		ok, err := db.DeleteRoute(database, uint(id))
		if err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		if !ok {
			writeErrorEnvelope(w, http.StatusNotFound, "not_found_or_forbidden", "no such route")
			return
		}
		writeJSON(w, map[string]bool{"deleted": true})
	}
}
