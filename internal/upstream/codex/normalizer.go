package codex

import (
	"github.com/pysugar/ami-nexus/internal/stream"
)

// responsesEvent is the slice of the Responses API stream vocabulary the
// proxy consumes. The API emits many bookkeeping events
// (output_item.added, content_part.added, ...) that carry nothing
// client-visible; those fall through and are dropped.
type responsesEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Response *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

func (p *Provider) normalize(raw responsesEvent, model string) (stream.Event, bool) {
	switch raw.Type {
	case "response.created":
		ev := stream.Event{Type: stream.Start, Model: model}
		if raw.Response != nil {
			ev.MessageID = raw.Response.ID
			if raw.Response.Model != "" {
				ev.Model = raw.Response.Model
			}
		}
		return ev, true
	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		return stream.Event{Type: stream.ReasoningDelta, Text: raw.Delta}, true
	case "response.output_text.delta":
		return stream.Event{Type: stream.TextDelta, Text: raw.Delta}, true
	case "response.output_text.done":
		return stream.Event{Type: stream.TextEnd}, true
	case "response.completed":
		ev := stream.Event{Type: stream.Finish, StopReason: "end_turn"}
		if raw.Response != nil && raw.Response.Usage != nil {
			ev.Usage = stream.Usage{
				InputTokens:  raw.Response.Usage.InputTokens,
				OutputTokens: raw.Response.Usage.OutputTokens,
			}
		}
		return ev, true
	case "response.failed":
		msg := "response failed"
		if raw.Response != nil && raw.Response.Error != nil && raw.Response.Error.Message != "" {
			msg = raw.Response.Error.Message
		}
		return stream.Event{Type: stream.Error, Text: msg, Fatal: p.classifier.IsFatal(msg)}, true
	default:
		return stream.Event{}, false
	}
}
