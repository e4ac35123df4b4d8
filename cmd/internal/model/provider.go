// Package model wraps LLM providers behind a single streaming interface.
// Two adapters are provided: the Anthropic Messages API and AWS Bedrock's
// Converse API. Conversation memory is supplied by the caller; this package
// never touches the stores.
package model

import (
	"context"

	"loom/cmd/internal/transcript"
)

// Request is the provider-neutral model request.
//
// Messages carries the prior transcript plus the new user turn, oldest first.
// Media, when present, is attached to the final user turn.
type Request struct {
	System    string
	Messages  []transcript.Message
	Media     []Media
	MaxTokens int
}

// Provider invokes a model in streaming mode.
//
// StreamChat calls emit once per incremental text fragment, in arrival order,
// and returns the fully accumulated text. An error returned by emit aborts
// the provider call; context cancellation stops the underlying request.
type Provider interface {
	Name() string
	StreamChat(ctx context.Context, req Request, emit func(chunk string) error) (string, error)
}

const defaultMaxTokens = 4096

func maxTokensOrDefault(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
