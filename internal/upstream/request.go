package upstream

import (
	"context"

	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/stream"
)

// Message is one flattened chat turn. Structured client content blocks
// are collapsed to text by the handler before reaching an adapter.
type Message struct {
	Role    string
	Content string
}

// ChatRequest is the provider-independent inbound request every adapter
// accepts.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Emit receives canonical events in decode order. Implementations must
// not retain the event past the call.
type Emit func(ev stream.Event)

// Adapter is the single interface all provider backends are normalized
// behind. Stream sends one chat request using the given credential and
// pushes canonical events until the upstream stream ends; it returns a
// *Error for classified upstream failures.
type Adapter interface {
	Name() string
	Stream(ctx context.Context, cred *models.Credential, req *ChatRequest, emit Emit) error
}
