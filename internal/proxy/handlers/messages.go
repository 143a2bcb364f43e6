package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/ami-nexus/internal/proxy"
	"github.com/pysugar/ami-nexus/internal/proxy/monitor"
	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/upstream"
)

// ClaudeMessagesHandler handles POST /v1/messages, the Claude-style
// inbound surface.
func ClaudeMessagesHandler(d *proxy.Dispatcher, mon *monitor.ProxyMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, reqID := requestContext(r)
		r = r.WithContext(ctx)

		// Flexible JSON: clients send systems and contents both as plain
		// strings and as block arrays.
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

		req := &upstream.ChatRequest{
			Model:  model,
			System: flattenContent(rawReq["system"]),
		}
		if maxTokens, ok := rawReq["max_tokens"].(float64); ok {
			req.MaxTokens = int(maxTokens)
		}
		if temp, ok := rawReq["temperature"].(float64); ok {
			req.Temperature = &temp
		}
		rawMessages, _ := rawReq["messages"].([]interface{})
		for _, msg := range rawMessages {
			m, ok := msg.(map[string]interface{})
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			req.Messages = append(req.Messages, upstream.Message{
				Role:    role,
				Content: flattenContent(m["content"]),
			})
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

		log.Printf("📨 [%s] claude request: provider=%s model=%s messages=%d stream=%v",
			reqID, adapter.Name(), model, len(req.Messages), streaming)

		if streaming {
			enc := stream.NewClaudeEncoder(w)
			streamToClient(w, r, d, adapter, req, enc, mon, reqID)
			return
		}

		start := time.Now()
		collector := stream.NewCollector()
		result, err := collectResponse(ctx, d, adapter, req, collector.Add)
		if err != nil {
			logNonStreaming(mon, r, req, result, start, statusOf(err), err.Error())
			WriteError(w, err)
			return
		}

		msg := collector.Message()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msg)
		logNonStreaming(mon, r, req, result, start, http.StatusOK, "")
	}
}

func statusOf(err error) int {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.HTTPStatus()
	}
	return http.StatusBadGateway
}
