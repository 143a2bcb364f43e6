package ami

import (
	"log"

	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/util"
)

// rawEvent is the union of every field Ami's stream vocabulary carries.
type rawEvent struct {
	Type         string `json:"type"`
	MessageID    string `json:"messageId"`
	Model        string `json:"model"`
	Text         string `json:"text"`
	ToolID       string `json:"toolId"`
	ToolName     string `json:"toolName"`
	Input        string `json:"input"`
	Output       string `json:"output"`
	FinishReason string `json:"finishReason"`
	Message      string `json:"message"`
	Usage        *struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage"`
}

// normalize maps one Ami stream event onto the canonical vocabulary.
// Unknown types are logged and dropped so new upstream event kinds never
// break an in-flight response.
func (p *Provider) normalize(raw rawEvent) (stream.Event, bool) {
	switch raw.Type {
	case "start":
		return stream.Event{Type: stream.Start, MessageID: raw.MessageID, Model: raw.Model}, true
	case "reasoning-start":
		return stream.Event{Type: stream.ReasoningStart}, true
	case "reasoning-delta":
		return stream.Event{Type: stream.ReasoningDelta, Text: raw.Text}, true
	case "reasoning-end":
		return stream.Event{Type: stream.ReasoningEnd}, true
	case "text-start":
		return stream.Event{Type: stream.TextStart}, true
	case "text-delta":
		return stream.Event{Type: stream.TextDelta, Text: raw.Text}, true
	case "text-end":
		return stream.Event{Type: stream.TextEnd}, true
	case "tool-input":
		return stream.Event{Type: stream.ToolInput, ToolID: raw.ToolID, ToolName: raw.ToolName, Text: raw.Input}, true
	case "tool-output":
		return stream.Event{Type: stream.ToolOutput, ToolID: raw.ToolID, Text: raw.Output}, true
	case "finish":
		ev := stream.Event{Type: stream.Finish, StopReason: stream.MapStopReason(raw.FinishReason)}
		if raw.Usage != nil {
			ev.Usage = stream.Usage{InputTokens: raw.Usage.InputTokens, OutputTokens: raw.Usage.OutputTokens}
		}
		return ev, true
	case "error":
		return stream.Event{
			Type:  stream.Error,
			Text:  raw.Message,
			Fatal: p.classifier.IsFatal(raw.Message),
		}, true
	case "ping", "heartbeat":
		return stream.Event{Type: stream.Ping}, true
	default:
		log.Printf("⚠️ [ami] unknown stream event type %q: %s", raw.Type, util.TruncateLog(raw.Text, util.DefaultLogMaxLen))
		return stream.Event{}, false
	}
}
