package model

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"loom/cmd/internal/transcript"
)

// BedrockProvider streams completions through the AWS Bedrock Converse API.
// Credentials and region come from the default AWS config chain.
type BedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockProvider constructs a provider for the given Bedrock model id.
func NewBedrockProvider(cfg aws.Config, modelID string) (*BedrockProvider, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, &Error{Kind: ErrConfig, Provider: "bedrock", Message: "empty model id"}
	}
	return &BedrockProvider{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

// StreamChat issues a ConverseStream call and emits text deltas as they
// arrive. See AnthropicProvider.StreamChat for the accumulated-text contract.
func (p *BedrockProvider) StreamChat(ctx context.Context, req Request, emit func(chunk string) error) (string, error) {
	input, err := buildConverseStreamInput(req, p.modelID)
	if err != nil {
		return "", err
	}

	out, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return "", classifyBedrockError(err)
	}

	stream := out.GetStream()
	defer func() { _ = stream.Close() }()

	var b strings.Builder
	for event := range stream.Events() {
		delta, ok := event.(*types.ConverseStreamOutputMemberContentBlockDelta)
		if !ok {
			continue
		}
		text, ok := delta.Value.Delta.(*types.ContentBlockDeltaMemberText)
		if !ok || text.Value == "" {
			continue
		}
		b.WriteString(text.Value)
		if err := emit(text.Value); err != nil {
			return b.String(), err
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), classifyBedrockError(err)
	}
	return b.String(), nil
}

// buildConverseStreamInput translates a Request into Converse parameters.
// Same normalization rules as the Anthropic adapter: system turns move to
// the system field, unreplayable internal roles are skipped, consecutive
// same-role messages merge to keep strict alternation.
func buildConverseStreamInput(req Request, modelID string) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(modelID),
	}

	if req.System != "" {
		input.System = append(input.System, &types.SystemContentBlockMemberText{Value: req.System})
	}

	appendBlocks := func(role types.ConversationRole, blocks ...types.ContentBlock) {
		n := len(input.Messages)
		if n > 0 && input.Messages[n-1].Role == role {
			input.Messages[n-1].Content = append(input.Messages[n-1].Content, blocks...)
			return
		}
		input.Messages = append(input.Messages, types.Message{Role: role, Content: blocks})
	}

	for _, m := range req.Messages {
		switch transcript.Normalize(m.Role) {
		case transcript.RoleSystem:
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
		case transcript.RoleUser:
			appendBlocks(types.ConversationRoleUser, &types.ContentBlockMemberText{Value: m.Content})
		case transcript.RoleAssistant:
			appendBlocks(types.ConversationRoleAssistant, &types.ContentBlockMemberText{Value: m.Content})
		}
	}

	if len(input.Messages) == 0 {
		return nil, &Error{Kind: ErrInvalidRequest, Provider: "bedrock", Message: "request has no user or assistant messages"}
	}

	if len(req.Media) > 0 {
		last := &input.Messages[len(input.Messages)-1]
		if last.Role != types.ConversationRoleUser {
			return nil, &Error{Kind: ErrInvalidRequest, Provider: "bedrock", Message: "media requires a trailing user message"}
		}
		for _, media := range req.Media {
			if !media.IsImage() {
				return nil, &Error{Kind: ErrInvalidRequest, Provider: "bedrock", Message: "unsupported media type " + media.MIMEType}
			}
			last.Content = append(last.Content, &types.ContentBlockMemberImage{
				Value: types.ImageBlock{
					Format: types.ImageFormat(media.Format()),
					Source: &types.ImageSourceMemberBytes{Value: media.Data},
				},
			})
		}
	}

	maxTokens := int32(maxTokensOrDefault(req))
	input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: &maxTokens}

	return input, nil
}

func classifyBedrockError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var kind ErrorKind

	var accessDenied *types.AccessDeniedException
	var validation *types.ValidationException
	var notFound *types.ResourceNotFoundException
	var throttling *types.ThrottlingException
	var timeout *types.ModelTimeoutException
	var internal *types.InternalServerException
	var modelErr *types.ModelErrorException

	switch {
	case errors.As(err, &accessDenied):
		kind = ErrAuthentication
	case errors.As(err, &validation):
		kind = ErrInvalidRequest
	case errors.As(err, &notFound):
		kind = ErrNotFound
	case errors.As(err, &throttling):
		kind = ErrRateLimit
	case errors.As(err, &timeout):
		kind = ErrTimeout
	case errors.As(err, &internal):
		kind = ErrServer
	case errors.As(err, &modelErr):
		kind = ErrServer
	default:
		lower := strings.ToLower(err.Error())
		switch {
		case strings.Contains(lower, "content filter") || strings.Contains(lower, "guardrail"):
			kind = ErrContentFilter
		default:
			kind = ErrServer
		}
	}

	return &Error{Kind: kind, Provider: "bedrock", Message: err.Error(), Cause: err}
}
