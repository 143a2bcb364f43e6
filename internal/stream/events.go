// Package stream defines the provider-independent event model that every
// upstream adapter normalizes into, plus the codecs that re-encode it
// into the client-facing protocols.
package stream

// Type discriminates canonical stream events. The set is closed: adapters
// map unknown upstream event kinds to nothing (logged and dropped).
type Type string

const (
	// Start opens a response. Carries MessageID and Model.
	Start Type = "start"

	ReasoningStart Type = "reasoning-start"
	ReasoningDelta Type = "reasoning-delta"
	ReasoningEnd   Type = "reasoning-end"

	TextStart Type = "text-start"
	TextDelta Type = "text-delta"
	TextEnd   Type = "text-end"

	// ToolInput carries a fragment of a tool invocation's input JSON.
	// ToolOutput carries tool result text; it is not client-visible by
	// default and encoders may drop it.
	ToolInput  Type = "tool-input"
	ToolOutput Type = "tool-output"

	// Finish closes a response. Carries StopReason and Usage.
	Finish Type = "finish"

	// Error carries a human-readable upstream failure mid-stream. Fatal
	// marks the credential itself as unusable (quota/auth exhaustion).
	Error Type = "error"

	// Ping is a heartbeat; consumers ignore it.
	Ping Type = "ping"
)

// Usage is the token accounting attached to Start (zeros) and Finish.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Event is one unit of normalized model output. Only the fields relevant
// to the Type are populated.
type Event struct {
	Type       Type
	MessageID  string
	Model      string
	Text       string // delta payload for reasoning/text/tool/error events
	ToolID     string
	ToolName   string
	StopReason string
	Usage      Usage
	Fatal      bool // only meaningful for Error events
}

// MapStopReason normalizes a provider finish reason to the client
// protocol: the generic "stop" maps to "end_turn", everything else
// passes through unchanged.
func MapStopReason(reason string) string {
	if reason == "stop" {
		return "end_turn"
	}
	return reason
}
