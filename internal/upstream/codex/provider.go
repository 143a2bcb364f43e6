// Package codex adapts the ChatGPT backend Responses API used by the
// Codex CLI, including its OAuth PKCE login and token refresh.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pysugar/ami-nexus/internal/config"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/httpx"
	"github.com/pysugar/ami-nexus/internal/sse"
	"github.com/pysugar/ami-nexus/internal/upstream"
)

const (
	userAgent     = "codex_cli_rs/0.94.0 (Mac OS 26.0.1; arm64)"
	clientVersion = "0.94.0"
)

type Provider struct {
	httpClient *http.Client
	baseURL    string
	tokens     *TokenSource
	retry      upstream.RetryPolicy
	classifier *upstream.FatalClassifier
}

func New(cfg config.ProviderConfig, tokens *TokenSource, retry upstream.RetryPolicy, classifier *upstream.FatalClassifier) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultCodexBaseURL
	}
	return &Provider{
		httpClient: httpx.NewClient(),
		baseURL:    baseURL,
		tokens:     tokens,
		retry:      retry,
		classifier: classifier,
	}
}

func (p *Provider) Name() string { return models.ProviderCodex }

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// responsesPayload is the Responses API request shape. The endpoint
// rejects sampling parameters, so only model/instructions/input go up.
type responsesPayload struct {
	Model        string      `json:"model"`
	Instructions string      `json:"instructions"`
	Input        []inputItem `json:"input"`
	Stream       bool        `json:"stream"`
	Store        bool        `json:"store"`
}

// buildPayload maps the neutral request: system text becomes
// instructions, user turns carry input_text, assistant turns output_text.
func buildPayload(req *upstream.ChatRequest) responsesPayload {
	payload := responsesPayload{
		Model:        req.Model,
		Instructions: req.System,
		Stream:       true,
		Store:        false,
	}
	for _, m := range req.Messages {
		partType := "input_text"
		if m.Role == "assistant" {
			partType = "output_text"
		}
		payload.Input = append(payload.Input, inputItem{
			Type:    "message",
			Role:    m.Role,
			Content: []contentPart{{Type: partType, Text: m.Content}},
		})
	}
	return payload
}

func (p *Provider) Stream(ctx context.Context, cred *models.Credential, req *upstream.ChatRequest, emit upstream.Emit) error {
	token, err := p.tokens.AccessToken(ctx, cred)
	if err != nil {
		return err
	}

	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		return err
	}

	resp, err := p.retry.Do(ctx, "codex", func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("User-Agent", userAgent)
		httpReq.Header.Set("Version", clientVersion)
		httpReq.Header.Set("Openai-Beta", "responses=experimental")
		httpReq.Header.Set("Originator", "codex_cli_rs")
		if cred.AccountID != "" {
			httpReq.Header.Set("Chatgpt-Account-Id", cred.AccountID)
		}
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
			return fmt.Errorf("codex stream read: %w", err)
		}

		var raw responsesEvent
		if err := json.Unmarshal(rec.Data, &raw); err != nil {
			continue
		}
		if ev, ok := p.normalize(raw, req.Model); ok {
			emit(ev)
		}
	}
}
