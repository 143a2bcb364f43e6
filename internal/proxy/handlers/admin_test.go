package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/ami-nexus/internal/db"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"gorm.io/gorm"
)

func adminRouter(t *testing.T) (*chi.Mux, *gorm.DB) {
	t.Helper()
	database := newTestDB(t)
	r := chi.NewRouter()
	r.Get("/api/credentials", CredentialsListHandler(database))
	r.Post("/api/credentials", CreateCredentialHandler(database))
	r.Delete("/api/credentials/{id}", DeleteCredentialHandler(database))
	r.Post("/api/credentials/{id}/deactivate", SetCredentialActiveHandler(database, false))
	r.Post("/api/credentials/{id}/reset", ResetCountersHandler(database))
	r.Get("/api/model-routes", ModelRoutesListHandler(database))
	r.Post("/api/model-routes", SaveModelRouteHandler(database))
	r.Delete("/api/model-routes/{id}", DeleteModelRouteHandler(database))
	r.Get("/v1/models", ModelsListHandler())
	return r, database
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateListDeleteCredential(t *testing.T) {
	r, _ := adminRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/credentials",
		`{"provider":"digitalocean","label":"do-1","api_key":"sk-test"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created models.Credential
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || !created.IsActive {
		t.Errorf("created = %+v", created)
	}
	// Secret material never serializes outward.
	if strings.Contains(rec.Body.String(), "sk-test") {
		t.Error("api key leaked in response")
	}

	rec = doJSON(t, r, http.MethodGet, "/api/credentials?provider=digitalocean", "")
	if !strings.Contains(rec.Body.String(), created.ID) {
		t.Errorf("list = %s", rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/credentials/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/credentials/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestCreateCredentialValidation(t *testing.T) {
	r, _ := adminRouter(t)

	// Missing auth material, codex outside the OAuth flow, and unknown
	// providers are all rejected.
	cases := []string{
		`{"provider":"ami"}`,
		`{"provider":"bedrock","aws_access_key_id":"AKIA"}`,
		`{"provider":"codex","api_key":"x"}`,
		`{"provider":"unknown","api_key":"x"}`,
	}
	for _, body := range cases {
		rec := doJSON(t, r, http.MethodPost, "/api/credentials", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, rec.Code)
		}
	}
}

func TestDeactivateAndResetCredential(t *testing.T) {
	r, database := adminRouter(t)
	if err := database.Create(&models.Credential{
		ID: "c1", Provider: "ami", SessionCookie: "s", IsActive: true, UseCount: 5, ErrorCount: 2,
	}).Error; err != nil {
		t.Fatal(err)
	}

	if rec := doJSON(t, r, http.MethodPost, "/api/credentials/c1/deactivate", ""); rec.Code != http.StatusOK {
		t.Fatalf("deactivate status = %d", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodPost, "/api/credentials/c1/reset", ""); rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}

	var cred models.Credential
	if err := database.First(&cred, "id = ?", "c1").Error; err != nil {
		t.Fatal(err)
	}
	if cred.IsActive || cred.UseCount != 0 || cred.ErrorCount != 0 {
		t.Errorf("credential = %+v", cred)
	}
}

func TestModelRouteLifecycle(t *testing.T) {
	r, database := adminRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/model-routes",
		`{"client_model":"claude-sonnet","provider":"bedrock","target_model":"anthropic.claude-sonnet-4-20250514-v1:0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body.String())
	}
	var route models.ModelRoute
	if err := json.Unmarshal(rec.Body.Bytes(), &route); err != nil {
		t.Fatal(err)
	}
	if !route.IsActive {
		t.Error("route should default to active")
	}

	stored, err := db.LookupRoute(database, "claude-sonnet")
	if err != nil || stored == nil {
		t.Fatalf("lookup: %v %v", stored, err)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/model-routes", `{"client_model":"x","provider":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown provider status = %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/model-routes/999", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing route delete status = %d", rec.Code)
	}
}

func TestModelsListing(t *testing.T) {
	r, _ := adminRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/v1/models", "")
	var listing struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	if listing.Object != "list" || len(listing.Data) == 0 {
		t.Fatalf("listing = %+v", listing)
	}

	rec = doJSON(t, r, http.MethodGet, "/v1/models?provider=codex", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	for _, m := range listing.Data {
		if m.OwnedBy != "openai" {
			t.Errorf("filtered entry = %+v", m)
		}
	}
}
