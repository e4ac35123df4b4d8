package model

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"loom/cmd/internal/transcript"
)

// AnthropicProvider streams completions from the Anthropic Messages API.
// The API key is read from the environment by the SDK (ANTHROPIC_API_KEY).
type AnthropicProvider struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropicProvider constructs a provider for the given model id.
// An empty modelID selects the SDK's latest Sonnet alias.
func NewAnthropicProvider(modelID string) *AnthropicProvider {
	c := anthropic.NewClient()

	model := anthropic.Model(modelID)
	if modelID == "" {
		model = anthropic.ModelClaude3_7SonnetLatest
	}

	return &AnthropicProvider{client: &c, model: model}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// StreamChat issues a streaming Messages call and emits text deltas as they
// arrive. The accumulated text is returned even on error so callers can log
// how far the stream got; an error return means the assistant turn must not
// be treated as complete.
func (p *AnthropicProvider) StreamChat(ctx context.Context, req Request, emit func(chunk string) error) (string, error) {
	params, err := buildAnthropicParams(req, p.model)
	if err != nil {
		return "", err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var b strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text == "" {
					continue
				}
				b.WriteString(d.Text)
				if err := emit(d.Text); err != nil {
					return b.String(), err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), classifyAnthropicError(err)
	}
	return b.String(), nil
}

// buildAnthropicParams translates a Request into Messages API params.
//
// System turns (request-level and transcript) become the system field;
// internal role tags outside user/assistant are not replayable and are
// skipped. Consecutive same-role messages are merged because the API
// enforces strict user/assistant alternation.
func buildAnthropicParams(req Request, model anthropic.Model) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: int64(maxTokensOrDefault(req)),
	}

	var system []anthropic.TextBlockParam
	if req.System != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.System})
	}

	var msgs []anthropic.MessageParam
	appendBlocks := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(msgs) > 0 && msgs[len(msgs)-1].Role == role {
			last := &msgs[len(msgs)-1]
			last.Content = append(last.Content, blocks...)
			return
		}
		msgs = append(msgs, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range req.Messages {
		switch transcript.Normalize(m.Role) {
		case transcript.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case transcript.RoleUser:
			appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
		case transcript.RoleAssistant:
			appendBlocks(anthropic.MessageParamRoleAssistant, anthropic.NewTextBlock(m.Content))
		}
	}

	if len(msgs) == 0 {
		return anthropic.MessageNewParams{}, &Error{Kind: ErrInvalidRequest, Provider: "anthropic", Message: "request has no user or assistant messages"}
	}

	if len(req.Media) > 0 {
		last := &msgs[len(msgs)-1]
		if last.Role != anthropic.MessageParamRoleUser {
			return anthropic.MessageNewParams{}, &Error{Kind: ErrInvalidRequest, Provider: "anthropic", Message: "media requires a trailing user message"}
		}
		for _, media := range req.Media {
			if !media.IsImage() {
				return anthropic.MessageNewParams{}, &Error{Kind: ErrInvalidRequest, Provider: "anthropic", Message: "unsupported media type " + media.MIMEType}
			}
			last.Content = append(last.Content,
				anthropic.NewImageBlockBase64(media.MIMEType, base64.StdEncoding.EncodeToString(media.Data)),
			)
		}
	}

	params.System = system
	params.Messages = msgs
	return params, nil
}

func classifyAnthropicError(err error) error {
	// Let consumer-driven cancellation surface as-is so the coordinator can
	// tell it apart from provider failures.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	kind := ErrServer

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 400:
			kind = ErrInvalidRequest
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			kind = ErrAuthentication
		case apierr.StatusCode == 404:
			kind = ErrNotFound
		case apierr.StatusCode == 429:
			kind = ErrRateLimit
		case apierr.StatusCode == 408 || apierr.StatusCode == 504:
			kind = ErrTimeout
		}
	}

	return &Error{Kind: kind, Provider: "anthropic", Message: err.Error(), Cause: err}
}
