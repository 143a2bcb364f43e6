package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/ami-nexus/internal/proxy"
	"github.com/pysugar/ami-nexus/internal/proxy/monitor"
	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/upstream"
)

// OpenAIChatHandler handles POST /v1/chat/completions, the secondary
// OpenAI-style inbound surface.
func OpenAIChatHandler(d *proxy.Dispatcher, mon *monitor.ProxyMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, reqID := requestContext(r)
		r = r.WithContext(ctx)

		var rawReq map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&rawReq); err != nil {
			badRequest(w, "invalid request body: "+err.Error())
			return
		}

		model, _ := rawReq["model"].(string)
		if model == "" {
			badRequest(w, "model is required")
			return
		}
		streaming, _ := rawReq["stream"].(bool)

		req := &upstream.ChatRequest{Model: model}
		if maxTokens, ok := rawReq["max_tokens"].(float64); ok {
			req.MaxTokens = int(maxTokens)
		}
		if maxTokens, ok := rawReq["max_completion_tokens"].(float64); ok {
			req.MaxTokens = int(maxTokens)
		}
		if temp, ok := rawReq["temperature"].(float64); ok {
			req.Temperature = &temp
		}

		// System messages fold into the system prompt; the rest keep
		// their roles.
		rawMessages, _ := rawReq["messages"].([]interface{})
		for _, msg := range rawMessages {
			m, ok := msg.(map[string]interface{})
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			content := flattenContent(m["content"])
			if role == "system" {
				if req.System != "" {
					req.System += "\n"
				}
				req.System += content
				continue
			}
			req.Messages = append(req.Messages, upstream.Message{Role: role, Content: content})
		}
		if len(req.Messages) == 0 {
			badRequest(w, "messages is required")
			return
		}

		adapter, target, err := d.ResolveProvider(model, r.Header.Get(providerOverrideHeader))
		if err != nil {
			WriteError(w, err)
			return
		}
		if target != "" {
			req.Model = target
		}

		log.Printf("📨 [%s] openai request: provider=%s model=%s messages=%d stream=%v",
			reqID, adapter.Name(), model, len(req.Messages), streaming)

		if streaming {
			enc := stream.NewOpenAIEncoder(w)
			streamToClient(w, r, d, adapter, req, enc, mon, reqID)
			return
		}

		start := time.Now()
		var events []stream.Event
		result, err := collectResponse(ctx, d, adapter, req, func(ev stream.Event) {
			events = append(events, ev)
		})
		if err != nil {
			logNonStreaming(mon, r, req, result, start, statusOf(err), err.Error())
			WriteError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stream.OpenAICompletion(events))
		logNonStreaming(mon, r, req, result, start, http.StatusOK, "")
	}
}
