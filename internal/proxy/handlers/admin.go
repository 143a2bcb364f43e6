package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pysugar/ami-nexus/internal/db"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/proxy"
	"github.com/pysugar/ami-nexus/internal/proxy/monitor"
	"github.com/pysugar/ami-nexus/internal/upstream/ami"
	"github.com/pysugar/ami-nexus/internal/upstream/codex"
	"gorm.io/gorm"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// CredentialsListHandler handles GET /api/credentials?provider=...
func CredentialsListHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, err := db.ListCredentials(database, r.URL.Query().Get("provider"))
		if err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		writeJSON(w, map[string]interface{}{"credentials": creds, "count": len(creds)})
	}
}

// createCredentialRequest carries the secret material the Credential
// model never serializes outward.
type createCredentialRequest struct {
	Provider string `json:"provider"`
	Label    string `json:"label"`

	SessionCookie string `json:"session_cookie"`
	BridgeToken   string `json:"bridge_token"`

	APIKey string `json:"api_key"`

	AWSAccessKeyID     string `json:"aws_access_key_id"`
	AWSSecretAccessKey string `json:"aws_secret_access_key"`
	AWSSessionToken    string `json:"aws_session_token"`
	AWSRegion          string `json:"aws_region"`
}

// CreateCredentialHandler handles POST /api/credentials. Codex
// credentials are not created here; they come from the OAuth login flow.
func CreateCredentialHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCredentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body: "+err.Error())
			return
		}

		valid := false
		switch req.Provider {
		case models.ProviderAmi:
			valid = req.SessionCookie != ""
		case models.ProviderDigitalOcean:
			valid = req.APIKey != ""
		case models.ProviderBedrock:
			valid = req.AWSAccessKeyID != "" && req.AWSSecretAccessKey != ""
		case models.ProviderCodex:
			badRequest(w, "codex credentials come from POST /api/codex/login")
			return
		}
		if !valid {
			badRequest(w, "missing provider or auth material for "+req.Provider)
			return
		}

		cred := &models.Credential{
			ID:                 uuid.NewString(),
			Provider:           req.Provider,
			Label:              req.Label,
			SessionCookie:      req.SessionCookie,
			BridgeToken:        req.BridgeToken,
			APIKey:             req.APIKey,
			AWSAccessKeyID:     req.AWSAccessKeyID,
			AWSSecretAccessKey: req.AWSSecretAccessKey,
			AWSSessionToken:    req.AWSSessionToken,
			AWSRegion:          req.AWSRegion,
			IsActive:           true,
		}
		if err := database.Create(cred).Error; err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		log.Printf("🔑 credential %s created for %s", cred.ID, cred.Provider)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(cred)
	}
}

// DeleteCredentialHandler handles DELETE /api/credentials/{id}.
func DeleteCredentialHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res := database.Delete(&models.Credential{}, "id = ?", id)
		if res.Error != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", res.Error.Error())
			return
		}
		if res.RowsAffected == 0 {
			writeErrorEnvelope(w, http.StatusNotFound, "not_found_or_forbidden", "credential not found")
			return
		}
		writeJSON(w, map[string]string{"deleted": id})
	}
}

// SetCredentialActiveHandler handles POST /api/credentials/{id}/activate
// and .../deactivate.
func SetCredentialActiveHandler(database *gorm.DB, active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := db.SetActive(database, id, active); err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		writeJSON(w, map[string]interface{}{"id": id, "is_active": active})
	}
}

// ResetCountersHandler handles POST /api/credentials/{id}/reset.
func ResetCountersHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := db.ResetCounters(database, id); err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		writeJSON(w, map[string]string{"reset": id})
	}
}

// TestCredentialHandler handles POST /api/credentials/{id}/test with an
// optional {"model": ...} body.
func TestCredentialHandler(d *proxy.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		start := time.Now()
		text, err := d.TestCredential(r.Context(), id, body.Model)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{
			"id":          id,
			"response":    text,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

// GetAPIKeyHandler handles GET /api/config/apikey.
func GetAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"api_key": db.GetAPIKey(database)})
	}
}

// RegenerateAPIKeyHandler handles POST /api/config/apikey/regenerate.
func RegenerateAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := db.RegenerateAPIKey(database)
		log.Printf("🔑 inference API key regenerated")
		writeJSON(w, map[string]string{"api_key": key})
	}
}

// CodexLoginHandler handles POST /api/codex/login: kicks off the PKCE
// flow and returns the URL the operator must open.
func CodexLoginHandler(flow *codex.LoginFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := flow.Start(r.Context())
		if err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		writeJSON(w, map[string]string{"auth_url": authURL})
	}
}

// BridgeStartHandler handles POST /api/bridges/{id}/start: connects the
// daemon bridge for an ami credential so the provider side can call
// local tools.
func BridgeStartHandler(database *gorm.DB, pool *ami.BridgePool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cred, err := db.GetCredential(database, id)
		if err != nil {
			writeErrorEnvelope(w, http.StatusNotFound, "not_found_or_forbidden", "credential not found: "+id)
			return
		}
		if cred.Provider != models.ProviderAmi || cred.BridgeToken == "" {
			badRequest(w, "credential has no bridge token")
			return
		}
		bridge, err := pool.Get(r.Context(), cred)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{"credential_id": id, "alive": bridge.Alive()})
	}
}

// BridgeStopHandler handles POST /api/bridges/{id}/stop.
func BridgeStopHandler(pool *ami.BridgePool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !pool.Stop(id) {
			writeErrorEnvelope(w, http.StatusNotFound, "not_found_or_forbidden", "no bridge for credential "+id)
			return
		}
		writeJSON(w, map[string]string{"stopped": id})
	}
}

// MonitorLogsHandler handles GET /api/monitor/logs?limit=&since=.
func MonitorLogsHandler(mon *monitor.ProxyMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := intQuery(r, "limit", 100)
		since := intQuery(r, "since", 0)
		writeJSON(w, map[string]interface{}{"logs": mon.GetLogs(limit, since)})
	}
}

// MonitorStatsHandler handles GET /api/monitor/stats.
func MonitorStatsHandler(mon *monitor.ProxyMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, mon.GetStats())
	}
}

// MonitorClearHandler handles POST /api/monitor/clear.
func MonitorClearHandler(mon *monitor.ProxyMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := mon.Clear(); err != nil {
			writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		writeJSON(w, map[string]bool{"cleared": true})
	}
}

// MonitorEnableHandler handles POST /api/monitor/enable and /disable.
func MonitorEnableHandler(mon *monitor.ProxyMonitor, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mon.SetEnabled(enabled)
		writeJSON(w, map[string]bool{"enabled": enabled})
	}
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
