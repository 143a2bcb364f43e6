// Package digitalocean adapts DigitalOcean's OpenAI-compatible serverless
// inference endpoint.
package digitalocean

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/pysugar/ami-nexus/internal/config"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/httpx"
	"github.com/pysugar/ami-nexus/internal/sse"
	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/upstream"
	"github.com/pysugar/ami-nexus/internal/util"
)

type Provider struct {
	httpClient *http.Client
	baseURL    string
	retry      upstream.RetryPolicy
}

func New(cfg config.ProviderConfig, retry upstream.RetryPolicy) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultDigitalOceanBaseURL
	}
	return &Provider{
		httpClient: httpx.NewClient(),
		baseURL:    baseURL,
		retry:      retry,
	}
}

func (p *Provider) Name() string { return models.ProviderDigitalOcean }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

// mapFinishReason converts OpenAI finish reasons to the canonical
// vocabulary.
func mapFinishReason(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return stream.MapStopReason(reason)
	}
}

func (p *Provider) Stream(ctx context.Context, cred *models.Credential, req *upstream.ChatRequest, emit upstream.Emit) error {
	payload := chatPayload{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
	payload.StreamOptions.IncludeUsage = true
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := p.retry.Do(ctx, "digitalocean", func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)
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

	var (
		started      bool
		inReasoning  bool
		inText       bool
		finishReason = "stop"
		usage        stream.Usage
	)

	dec := sse.NewDecoder(reader)
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("digitalocean stream read: %w", err)
		}

		var chunk stream.OpenAIChunk
		if err := json.Unmarshal(rec.Data, &chunk); err != nil {
			log.Printf("⚠️ [digitalocean] dropping malformed chunk: %s", util.TruncateBytes(rec.Data))
			continue
		}

		if !started {
			emit(stream.Event{Type: stream.Start, MessageID: chunk.ID, Model: chunk.Model})
			started = true
		}
		if chunk.Usage != nil {
			usage = stream.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta != nil {
				if choice.Delta.ReasoningContent != "" {
					if !inReasoning {
						emit(stream.Event{Type: stream.ReasoningStart})
						inReasoning = true
					}
					emit(stream.Event{Type: stream.ReasoningDelta, Text: choice.Delta.ReasoningContent})
				}
				if choice.Delta.Content != "" {
					if inReasoning {
						emit(stream.Event{Type: stream.ReasoningEnd})
						inReasoning = false
					}
					if !inText {
						emit(stream.Event{Type: stream.TextStart})
						inText = true
					}
					emit(stream.Event{Type: stream.TextDelta, Text: choice.Delta.Content})
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishReason = *choice.FinishReason
			}
		}
	}

	if inReasoning {
		emit(stream.Event{Type: stream.ReasoningEnd})
	}
	if inText {
		emit(stream.Event{Type: stream.TextEnd})
	}
	if started {
		emit(stream.Event{Type: stream.Finish, StopReason: mapFinishReason(finishReason), Usage: usage})
	}
	return nil
}
