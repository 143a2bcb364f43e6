package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAI Chat Completions structures (secondary client-facing protocol)

type OpenAIChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

type OpenAIChoice struct {
	Index        int             `json:"index"`
	Delta        *OpenAIDelta    `json:"delta,omitempty"`
	Message      *OpenAIMessage  `json:"message,omitempty"`
	FinishReason *string         `json:"finish_reason"`
}

type OpenAIDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type OpenAIMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// mapOpenAIFinishReason converts a canonical stop reason to OpenAI's
// vocabulary.
func mapOpenAIFinishReason(reason string) string {
	switch reason {
	case "stop", "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// OpenAIEncoder re-encodes canonical events as chat.completion.chunk SSE
// frames. Tool events are dropped on this surface.
type OpenAIEncoder struct {
	w       io.Writer
	flusher http.Flusher
	id      string
	model   string
	created int64
	started bool
}

func NewOpenAIEncoder(w io.Writer) *OpenAIEncoder {
	e := &OpenAIEncoder{w: w, created: time.Now().Unix()}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

func (e *OpenAIEncoder) emit(chunk OpenAIChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (e *OpenAIEncoder) chunk(delta *OpenAIDelta, finishReason *string, usage *OpenAIUsage) OpenAIChunk {
	return OpenAIChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []OpenAIChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
		Usage:   usage,
	}
}

// Encode writes one canonical event.
func (e *OpenAIEncoder) Encode(ev Event) error {
	switch ev.Type {
	case Start:
		e.id = "chatcmpl-" + ev.MessageID
		e.model = ev.Model
		e.started = true
		return e.emit(e.chunk(&OpenAIDelta{Role: "assistant"}, nil, nil))
	case ReasoningDelta:
		return e.emit(e.chunk(&OpenAIDelta{ReasoningContent: ev.Text}, nil, nil))
	case TextDelta:
		return e.emit(e.chunk(&OpenAIDelta{Content: ev.Text}, nil, nil))
	case Error:
		return e.emit(e.chunk(&OpenAIDelta{Content: fmt.Sprintf("[Error: %s]", ev.Text)}, nil, nil))
	case Finish:
		reason := mapOpenAIFinishReason(MapStopReason(ev.StopReason))
		usage := &OpenAIUsage{
			PromptTokens:     ev.Usage.InputTokens,
			CompletionTokens: ev.Usage.OutputTokens,
			TotalTokens:      ev.Usage.InputTokens + ev.Usage.OutputTokens,
		}
		if err := e.emit(e.chunk(&OpenAIDelta{}, &reason, usage)); err != nil {
			return err
		}
		if _, err := fmt.Fprint(e.w, "data: [DONE]\n\n"); err != nil {
			return err
		}
		if e.flusher != nil {
			e.flusher.Flush()
		}
		return nil
	}
	return nil
}

// EncodeTerminalError surfaces a mid-stream failure then terminates.
func (e *OpenAIEncoder) EncodeTerminalError(message string) error {
	reason := "stop"
	if err := e.emit(e.chunk(&OpenAIDelta{Content: fmt.Sprintf("[Error: %s]", message)}, &reason, nil)); err != nil {
		return err
	}
	_, err := fmt.Fprint(e.w, "data: [DONE]\n\n")
	return err
}

// OpenAICompletion assembles canonical events into a single
// chat.completion object.
func OpenAICompletion(events []Event) OpenAIChunk {
	var text, reasoning, model, id, stop string
	var usage Usage
	for _, ev := range events {
		switch ev.Type {
		case Start:
			id = ev.MessageID
			model = ev.Model
		case ReasoningDelta:
			reasoning += ev.Text
		case TextDelta:
			text += ev.Text
		case Error:
			text += fmt.Sprintf("[Error: %s]", ev.Text)
		case Finish:
			stop = mapOpenAIFinishReason(MapStopReason(ev.StopReason))
			usage = ev.Usage
		}
	}
	return OpenAIChunk{
		ID:      "chatcmpl-" + id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []OpenAIChoice{{
			Index:        0,
			Message:      &OpenAIMessage{Role: "assistant", Content: text, ReasoningContent: reasoning},
			FinishReason: &stop,
		}},
		Usage: &OpenAIUsage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.InputTokens + usage.OutputTokens,
		},
	}
}
