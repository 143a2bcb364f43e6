package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/discovery"
	"gorm.io/gorm"
)

// DiscoveryScanHandler handles GET /api/discovery/scan: lists local CLI
// credentials that could be imported, with secrets masked.
func DiscoveryScanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := discovery.ScanAll()
		masked := make([]discovery.Found, len(result.Credentials))
		for i, found := range result.Credentials {
			masked[i] = found.Masked()
		}
		writeJSON(w, map[string]interface{}{
			"credentials": masked,
			"errors":      result.Errors,
		})
	}
}

// DiscoveryImportHandler handles POST /api/discovery/import: re-scans and
// imports the sources named in the request body (all when none given).
func DiscoveryImportHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Sources []string `json:"sources"`
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&req)
		}
		wanted := map[string]bool{}
		for _, s := range req.Sources {
			wanted[s] = true
		}

		result := discovery.ScanAll()
		var imported []models.Credential
		for _, found := range result.Credentials {
			if len(wanted) > 0 && !wanted[found.Source] {
				continue
			}
			cred := models.Credential{
				ID:                 uuid.NewString(),
				Provider:           found.Provider,
				Label:              found.Label,
				AccessToken:        found.AccessToken,
				RefreshToken:       found.RefreshToken,
				IDToken:            found.IDToken,
				AccountID:          found.AccountID,
				ExpiresAt:          found.ExpiresAt,
				AWSAccessKeyID:     found.AWSAccessKeyID,
				AWSSecretAccessKey: found.AWSSecretAccessKey,
				AWSSessionToken:    found.AWSSessionToken,
				IsActive:           true,
			}
			if err := database.Create(&cred).Error; err != nil {
				writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
				return
			}
			log.Printf("🆕 imported %s credential from %s", cred.Provider, found.ConfigPath)
			imported = append(imported, cred)
		}
		writeJSON(w, map[string]interface{}{
			"imported":    len(imported),
			"credentials": imported,
		})
	}
}
