package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Claude Messages API structures (client-facing protocol)

type ClaudeResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Content      []ClaudeContentBlock `json:"content"`
	Model        string               `json:"model"`
	StopReason   string               `json:"stop_reason,omitempty"`
	StopSequence *string              `json:"stop_sequence,omitempty"`
	Usage        ClaudeUsage          `json:"usage"`
}

type ClaudeContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ClaudeStreamEvent struct {
	Type         string              `json:"type"`
	Message      *ClaudeResponse     `json:"message,omitempty"`
	Index        *int                `json:"index,omitempty"`
	ContentBlock *ClaudeContentBlock `json:"content_block,omitempty"`
	Delta        *ClaudeDelta        `json:"delta,omitempty"`
	Usage        *ClaudeUsage        `json:"usage,omitempty"`
	Error        *ClaudeError        `json:"error,omitempty"`
}

type ClaudeDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type ClaudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type blockKind int

const (
	blockNone blockKind = iota
	blockThinking
	blockText
	blockToolUse
)

// ClaudeEncoder re-encodes canonical events as Claude Messages SSE frames.
// Block indices are monotonic within one response and never reused:
// opening a new content block first closes the open one and increments
// the index. Events are written in the exact order they arrive.
type ClaudeEncoder struct {
	w         io.Writer
	flusher   http.Flusher
	model     string
	messageID string

	nextIndex int
	openIndex int
	openKind  blockKind
	started   bool
}

// NewClaudeEncoder writes SSE frames to w, flushing after each frame
// when w supports it.
func NewClaudeEncoder(w io.Writer) *ClaudeEncoder {
	e := &ClaudeEncoder{openIndex: -1}
	e.w = w
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

func (e *ClaudeEncoder) emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (e *ClaudeEncoder) openBlock(kind blockKind, block ClaudeContentBlock) error {
	if e.openKind == kind && kind != blockToolUse {
		return nil
	}
	if err := e.closeBlock(); err != nil {
		return err
	}
	idx := e.nextIndex
	e.nextIndex++
	e.openIndex = idx
	e.openKind = kind
	return e.emit("content_block_start", ClaudeStreamEvent{
		Type:         "content_block_start",
		Index:        &idx,
		ContentBlock: &block,
	})
}

func (e *ClaudeEncoder) closeBlock() error {
	if e.openKind == blockNone {
		return nil
	}
	idx := e.openIndex
	e.openKind = blockNone
	e.openIndex = -1
	return e.emit("content_block_stop", ClaudeStreamEvent{
		Type:  "content_block_stop",
		Index: &idx,
	})
}

func (e *ClaudeEncoder) delta(d ClaudeDelta) error {
	idx := e.openIndex
	return e.emit("content_block_delta", ClaudeStreamEvent{
		Type:  "content_block_delta",
		Index: &idx,
		Delta: &d,
	})
}

// Encode writes one canonical event. Ping and ToolOutput events are
// dropped; unknown types are ignored so new canonical kinds cannot
// break the client stream.
func (e *ClaudeEncoder) Encode(ev Event) error {
	switch ev.Type {
	case Start:
		e.started = true
		e.model = ev.Model
		e.messageID = ev.MessageID
		if e.messageID == "" {
			e.messageID = "msg-nexus"
		}
		return e.emit("message_start", ClaudeStreamEvent{
			Type: "message_start",
			Message: &ClaudeResponse{
				ID:      e.messageID,
				Type:    "message",
				Role:    "assistant",
				Model:   ev.Model,
				Content: []ClaudeContentBlock{},
				Usage:   ClaudeUsage{},
			},
		})

	case ReasoningStart:
		return e.openBlock(blockThinking, ClaudeContentBlock{Type: "thinking"})
	case ReasoningDelta:
		if e.openKind != blockThinking {
			if err := e.openBlock(blockThinking, ClaudeContentBlock{Type: "thinking"}); err != nil {
				return err
			}
		}
		return e.delta(ClaudeDelta{Type: "thinking_delta", Thinking: ev.Text})
	case ReasoningEnd:
		if e.openKind == blockThinking {
			return e.closeBlock()
		}
		return nil

	case TextStart:
		return e.openBlock(blockText, ClaudeContentBlock{Type: "text", Text: ""})
	case TextDelta:
		if e.openKind != blockText {
			if err := e.openBlock(blockText, ClaudeContentBlock{Type: "text", Text: ""}); err != nil {
				return err
			}
		}
		return e.delta(ClaudeDelta{Type: "text_delta", Text: ev.Text})
	case TextEnd:
		if e.openKind == blockText {
			return e.closeBlock()
		}
		return nil

	case ToolInput:
		if ev.ToolID != "" || ev.ToolName != "" {
			// A named tool event opens a fresh tool_use block, closing
			// whatever block is open first.
			if err := e.openBlock(blockToolUse, ClaudeContentBlock{
				Type: "tool_use",
				ID:   ev.ToolID,
				Name: ev.ToolName,
			}); err != nil {
				return err
			}
		}
		if ev.Text == "" || e.openKind != blockToolUse {
			return nil
		}
		return e.delta(ClaudeDelta{Type: "input_json_delta", PartialJSON: ev.Text})
	case ToolOutput:
		return nil

	case Error:
		// Surface the failure as readable text inside the active block
		// so partial output is not silently cut off.
		if e.openKind == blockNone {
			if err := e.openBlock(blockText, ClaudeContentBlock{Type: "text", Text: ""}); err != nil {
				return err
			}
		}
		marker := fmt.Sprintf("[Error: %s]", ev.Text)
		if e.openKind == blockThinking {
			return e.delta(ClaudeDelta{Type: "thinking_delta", Thinking: marker})
		}
		return e.delta(ClaudeDelta{Type: "text_delta", Text: marker})

	case Finish:
		if err := e.closeBlock(); err != nil {
			return err
		}
		if err := e.emit("message_delta", ClaudeStreamEvent{
			Type:  "message_delta",
			Delta: &ClaudeDelta{StopReason: MapStopReason(ev.StopReason)},
			Usage: &ClaudeUsage{OutputTokens: ev.Usage.OutputTokens},
		}); err != nil {
			return err
		}
		return e.emit("message_stop", ClaudeStreamEvent{Type: "message_stop"})

	case Ping:
		return nil
	}
	return nil
}

// EncodeTerminalError writes a protocol-level error event. Used when the
// upstream connection dies mid-stream; partial output already flushed is
// not retracted.
func (e *ClaudeEncoder) EncodeTerminalError(message string) error {
	return e.emit("error", ClaudeStreamEvent{
		Type:  "error",
		Error: &ClaudeError{Type: "api_error", Message: message},
	})
}

// Collector assembles canonical events into a single non-streaming
// Claude message object.
type Collector struct {
	resp      ClaudeResponse
	reasoning string
	text      string
	tools     []ClaudeContentBlock
	toolInput string
	toolID    string
	toolName  string
	inTool    bool
}

// NewCollector starts an empty assistant message.
func NewCollector() *Collector {
	return &Collector{
		resp: ClaudeResponse{
			ID:      "msg-nexus",
			Type:    "message",
			Role:    "assistant",
			Content: []ClaudeContentBlock{},
		},
	}
}

func (c *Collector) flushTool() {
	if !c.inTool {
		return
	}
	input := c.toolInput
	if input == "" {
		input = "{}"
	}
	c.tools = append(c.tools, ClaudeContentBlock{
		Type:  "tool_use",
		ID:    c.toolID,
		Name:  c.toolName,
		Input: json.RawMessage(input),
	})
	c.inTool = false
	c.toolInput = ""
}

// Add consumes one canonical event.
func (c *Collector) Add(ev Event) {
	switch ev.Type {
	case Start:
		if ev.MessageID != "" {
			c.resp.ID = ev.MessageID
		}
		c.resp.Model = ev.Model
	case ReasoningDelta:
		c.reasoning += ev.Text
	case TextDelta:
		c.text += ev.Text
	case ToolInput:
		if ev.ToolID != "" || ev.ToolName != "" {
			c.flushTool()
			c.inTool = true
			c.toolID = ev.ToolID
			c.toolName = ev.ToolName
		}
		if c.inTool {
			c.toolInput += ev.Text
		}
	case Error:
		c.text += fmt.Sprintf("[Error: %s]", ev.Text)
	case Finish:
		c.resp.StopReason = MapStopReason(ev.StopReason)
		c.resp.Usage = ClaudeUsage{
			InputTokens:  ev.Usage.InputTokens,
			OutputTokens: ev.Usage.OutputTokens,
		}
	}
}

// Message returns the assembled response. Reasoning precedes text,
// text precedes tool use, matching the streamed block order.
func (c *Collector) Message() ClaudeResponse {
	resp := c.resp
	resp.Content = nil
	if c.reasoning != "" {
		resp.Content = append(resp.Content, ClaudeContentBlock{Type: "thinking", Thinking: c.reasoning})
	}
	if c.text != "" {
		resp.Content = append(resp.Content, ClaudeContentBlock{Type: "text", Text: c.text})
	}
	c.flushTool()
	resp.Content = append(resp.Content, c.tools...)
	if resp.Content == nil {
		resp.Content = []ClaudeContentBlock{}
	}
	return resp
}
