// Package ami adapts the reverse-engineered Ami web-chat service: chat
// streaming over gzip-compressed SSE, lazy project/chat provisioning,
// and the websocket daemon bridge that lets Ami's cloud agent run tools
// locally.
package ami

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/pysugar/ami-nexus/internal/config"
	"github.com/pysugar/ami-nexus/internal/db"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/httpx"
	"github.com/pysugar/ami-nexus/internal/sse"
	"github.com/pysugar/ami-nexus/internal/upstream"
	"github.com/pysugar/ami-nexus/internal/util"
	"gorm.io/gorm"
)

// Provider is the Ami chat adapter.
type Provider struct {
	db         *gorm.DB
	httpClient *http.Client
	baseURL    string
	retry      upstream.RetryPolicy
	classifier *upstream.FatalClassifier
	bridges    *BridgePool
}

// New builds the adapter. classifier drives the fatal classification of
// Ami's free-text error events; bridges supplies the daemon bridge for
// credentials that carry a bridge token (nil disables bridging).
func New(database *gorm.DB, cfg config.ProviderConfig, retry upstream.RetryPolicy, classifier *upstream.FatalClassifier, bridges *BridgePool) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultAmiBaseURL
	}
	return &Provider{
		db:         database,
		httpClient: httpx.NewClient(),
		baseURL:    baseURL,
		retry:      retry,
		classifier: classifier,
		bridges:    bridges,
	}
}

func (p *Provider) Name() string { return models.ProviderAmi }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"maxTokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

// Stream sends one chat request and pushes canonical events until the
// SSE stream ends.
func (p *Provider) Stream(ctx context.Context, cred *models.Credential, req *upstream.ChatRequest, emit upstream.Emit) error {
	if err := p.ensureProvisioned(ctx, cred); err != nil {
		return err
	}
	p.ensureBridge(ctx, cred)

	payload := chatPayload{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	// Ami requires gzip-compressed request bodies for the chat endpoint.
	body, err := httpx.GzipJSON(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/chats/%s/messages", p.baseURL, cred.ChatID)
	resp, err := p.retry.Do(ctx, "ami", func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Content-Encoding", "gzip")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cookie", "ami_session="+cred.SessionCookie)
		return p.httpClient.Do(httpReq)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader, closeFn, err := httpx.BodyReader(resp)
	if err != nil {
		return err
	}
	defer closeFn()

	dec := sse.NewDecoder(reader)
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ami stream read: %w", err)
		}

		var raw rawEvent
		if err := json.Unmarshal(rec.Data, &raw); err != nil {
			// Stray keep-alive fragments are dropped, never fatal.
			log.Printf("⚠️ [ami] dropping malformed stream payload: %s", util.TruncateBytes(rec.Data))
			continue
		}
		if ev, ok := p.normalize(raw); ok {
			emit(ev)
		}
	}
}

// ensureBridge establishes the daemon bridge on first use of a
// credential that carries a bridge token, and registers the project
// binding so path-resolution RPCs answer from live state. Best-effort:
// chat proceeds even when the bridge cannot connect.
func (p *Provider) ensureBridge(ctx context.Context, cred *models.Credential) {
	if p.bridges == nil || cred.BridgeToken == "" {
		return
	}
	b, err := p.bridges.Get(ctx, cred)
	if err != nil {
		log.Printf("⚠️ [ami] bridge for credential %s unavailable: %v", cred.ID, err)
		return
	}
	b.RegisterProject(cred.ProjectID, "")
}

// ensureProvisioned lazily creates the provider-side project and chat the
// first time a credential is used, persisting the ids back to the store.
// Idempotent: already-provisioned credentials are a no-op.
func (p *Provider) ensureProvisioned(ctx context.Context, cred *models.Credential) error {
	if cred.ProjectID != "" && cred.ChatID != "" {
		return nil
	}

	if cred.ProjectID == "" {
		id, err := p.createResource(ctx, cred, "/api/v1/projects", map[string]string{"name": "nexus"})
		if err != nil {
			return fmt.Errorf("provision project: %w", err)
		}
		cred.ProjectID = id
	}

	if cred.ChatID == "" {
		path := fmt.Sprintf("/api/v1/projects/%s/chats", cred.ProjectID)
		id, err := p.createResource(ctx, cred, path, map[string]string{})
		if err != nil {
			return fmt.Errorf("provision chat: %w", err)
		}
		cred.ChatID = id
	}

	if err := db.UpdateProvisioning(p.db, cred.ID, cred.ProjectID, cred.ChatID); err != nil {
		return fmt.Errorf("persist provisioning: %w", err)
	}
	log.Printf("🆕 [ami] provisioned credential %s: project=%s chat=%s", cred.ID, cred.ProjectID, cred.ChatID)
	return nil
}

func (p *Provider) createResource(ctx context.Context, cred *models.Credential, path string, body interface{}) (string, error) {
	resp, err := p.retry.Do(ctx, "ami", func() (*http.Response, error) {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Cookie", "ami_session="+cred.SessionCookie)
		return p.httpClient.Do(httpReq)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode resource response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("resource response missing id")
	}
	return result.ID, nil
}
