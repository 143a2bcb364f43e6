package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/logging"
	"github.com/pysugar/ami-nexus/internal/proxy"
	"github.com/pysugar/ami-nexus/internal/proxy/monitor"
	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/upstream"
)

// streamEventBuffer bounds the producer/consumer channel between the
// upstream reader and the client writer.
const streamEventBuffer = 64

// providerOverrideHeader forces a specific backend regardless of model
// naming.
const providerOverrideHeader = "X-Nexus-Provider"

// encoder is the protocol-specific half of the streaming pipeline.
type encoder interface {
	Encode(stream.Event) error
	EncodeTerminalError(message string) error
}

// requestContext stamps a request ID into the context for downstream
// logging.
func requestContext(r *http.Request) (context.Context, string) {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = logging.GenerateRequestID()
	}
	return logging.WithRequestID(r.Context(), reqID), reqID
}

// flattenContent turns a string or Claude/OpenAI content-block array
// into plain text.
func flattenContent(content interface{}) string {
	switch c := content.(type) {
	case string:
		return c
	case []interface{}:
		var out string
		for _, block := range c {
			b, ok := block.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := b["text"].(string); ok {
				out += text
			}
		}
		return out
	default:
		return ""
	}
}

// streamToClient runs the dispatch in a producer goroutine pushing onto
// a bounded channel while the consumer encodes frames to the client.
// Client disconnect cancels the producer; an upstream failure after
// frames were sent becomes a terminal protocol error event.
func streamToClient(w http.ResponseWriter, r *http.Request, d *proxy.Dispatcher, adapter upstream.Adapter, req *upstream.ChatRequest, enc encoder, mon *monitor.ProxyMonitor, reqID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	start := time.Now()
	events := make(chan stream.Event, streamEventBuffer)
	done := make(chan struct{})

	var result proxy.Result
	var dispatchErr error
	go func() {
		defer close(events)
		defer close(done)
		result, dispatchErr = d.Dispatch(ctx, adapter, req, func(ev stream.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()

	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Client went away; stop the producer and drain.
			log.Printf("⚠️ [%s] client write failed: %v", reqID, err)
			cancel()
			for range events {
			}
			break
		}
	}
	<-done

	status := http.StatusOK
	errText := ""
	if dispatchErr != nil && ctx.Err() == nil {
		errText = dispatchErr.Error()
		log.Printf("❌ [%s] upstream stream failed: %v", reqID, dispatchErr)
		if err := enc.EncodeTerminalError(errText); err != nil {
			log.Printf("⚠️ [%s] terminal error event not delivered: %v", reqID, err)
		}
		status = http.StatusBadGateway
	}

	mon.LogRequest(models.RequestLog{
		Method:       r.Method,
		URL:          r.URL.Path,
		Status:       status,
		Duration:     time.Since(start).Milliseconds(),
		Provider:     result.Provider,
		Model:        req.Model,
		CredentialID: result.CredentialID,
		Error:        errText,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		Streamed:     true,
	})
}

// collectResponse runs the dispatch synchronously and hands every event
// to collect. Returns the dispatch result for accounting.
func collectResponse(ctx context.Context, d *proxy.Dispatcher, adapter upstream.Adapter, req *upstream.ChatRequest, collect func(stream.Event)) (proxy.Result, error) {
	return d.Dispatch(ctx, adapter, req, collect)
}

func logNonStreaming(mon *monitor.ProxyMonitor, r *http.Request, req *upstream.ChatRequest, result proxy.Result, start time.Time, status int, errText string) {
	mon.LogRequest(models.RequestLog{
		Method:       r.Method,
		URL:          r.URL.Path,
		Status:       status,
		Duration:     time.Since(start).Milliseconds(),
		Provider:     result.Provider,
		Model:        req.Model,
		CredentialID: result.CredentialID,
		Error:        errText,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	})
}
