package model

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"loom/cmd/internal/transcript"
)

func TestBuildConverseStreamInput_SystemAndAlternation(t *testing.T) {
	t.Parallel()

	req := Request{
		System: "be brief",
		Messages: []transcript.Message{
			transcript.SystemMessage("extra context"),
			transcript.UserMessage("hi"),
			{Role: transcript.Role("tool"), Content: "ignored"},
			transcript.UserMessage("still me"),
			transcript.AssistantMessage("hello"),
			transcript.UserMessage("bye"),
		},
	}

	input, err := buildConverseStreamInput(req, "model-x")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(input.System) != 2 {
		t.Fatalf("expected 2 system blocks, got %d", len(input.System))
	}

	// "hi" and "still me" merge into one user message; tool tag is skipped.
	if len(input.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(input.Messages))
	}
	if input.Messages[0].Role != types.ConversationRoleUser || len(input.Messages[0].Content) != 2 {
		t.Fatalf("unexpected first message: %+v", input.Messages[0])
	}
	if input.Messages[1].Role != types.ConversationRoleAssistant {
		t.Fatalf("unexpected second message role: %v", input.Messages[1].Role)
	}
	if input.Messages[2].Role != types.ConversationRoleUser {
		t.Fatalf("unexpected third message role: %v", input.Messages[2].Role)
	}

	if input.InferenceConfig == nil || input.InferenceConfig.MaxTokens == nil {
		t.Fatalf("expected inference config with max tokens")
	}
	if *input.InferenceConfig.MaxTokens != defaultMaxTokens {
		t.Fatalf("MaxTokens=%d want=%d", *input.InferenceConfig.MaxTokens, defaultMaxTokens)
	}
}

func TestBuildConverseStreamInput_MediaOnTrailingUserTurn(t *testing.T) {
	t.Parallel()

	media, err := NewMedia("image/png", []byte{0x89, 0x50})
	if err != nil {
		t.Fatalf("new media: %v", err)
	}

	req := Request{
		Messages: []transcript.Message{transcript.UserMessage("what is this?")},
		Media:    []Media{media},
	}

	input, err := buildConverseStreamInput(req, "model-x")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	last := input.Messages[len(input.Messages)-1]
	if len(last.Content) != 2 {
		t.Fatalf("expected text+image blocks, got %d", len(last.Content))
	}
	img, ok := last.Content[1].(*types.ContentBlockMemberImage)
	if !ok {
		t.Fatalf("expected image block, got %T", last.Content[1])
	}
	if img.Value.Format != types.ImageFormat("png") {
		t.Fatalf("Format=%v want=png", img.Value.Format)
	}
}

func TestBuildConverseStreamInput_Rejects(t *testing.T) {
	t.Parallel()

	media, err := NewMedia("application/pdf", []byte{1})
	if err != nil {
		t.Fatalf("new media: %v", err)
	}

	cases := []struct {
		name string
		req  Request
	}{
		{
			name: "no replayable messages",
			req:  Request{Messages: []transcript.Message{{Role: transcript.Role("tool"), Content: "x"}}},
		},
		{
			name: "media after assistant turn",
			req: Request{
				Messages: []transcript.Message{
					transcript.UserMessage("q"),
					transcript.AssistantMessage("a"),
				},
				Media: []Media{media},
			},
		},
		{
			name: "non-image media",
			req: Request{
				Messages: []transcript.Message{transcript.UserMessage("q")},
				Media:    []Media{media},
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := buildConverseStreamInput(tc.req, "model-x")
			var merr *Error
			if !errors.As(err, &merr) || merr.Kind != ErrInvalidRequest {
				t.Fatalf("expected invalid_request error, got %v", err)
			}
		})
	}
}

func TestClassifyBedrockError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "throttled", err: &types.ThrottlingException{}, want: ErrRateLimit},
		{name: "denied", err: &types.AccessDeniedException{}, want: ErrAuthentication},
		{name: "validation", err: &types.ValidationException{}, want: ErrInvalidRequest},
		{name: "model timeout", err: &types.ModelTimeoutException{}, want: ErrTimeout},
		{name: "guardrail text", err: errors.New("blocked by guardrail policy"), want: ErrContentFilter},
		{name: "opaque", err: errors.New("boom"), want: ErrServer},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := classifyBedrockError(tc.err)
			var merr *Error
			if !errors.As(got, &merr) {
				t.Fatalf("expected *Error, got %T", got)
			}
			if merr.Kind != tc.want {
				t.Fatalf("Kind=%v want=%v", merr.Kind, tc.want)
			}
		})
	}
}
