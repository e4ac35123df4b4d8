package chat

import (
	"context"
	"fmt"
	"strings"

	"loom/cmd/internal/history"
	"loom/cmd/internal/transcript"
)

// MsgView is the role-normalized transcript entry served to clients.
// Internal role tags outside {user, assistant, system} surface with an
// empty role so message counts are preserved.
type MsgView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Registry is the read-side facade over the history and transcript stores.
type Registry struct {
	history     history.Store
	transcripts transcript.Store
}

// NewRegistry constructs the facade.
func NewRegistry(hist history.Store, transcripts transcript.Store) *Registry {
	return &Registry{history: hist, transcripts: transcripts}
}

// ListConversations returns the recorded conversation ids for businessType,
// sorted ascending. Unknown types yield an empty slice.
func (r *Registry) ListConversations(ctx context.Context, businessType string) ([]string, error) {
	if strings.TrimSpace(businessType) == "" {
		return nil, ErrMissingBusinessType
	}
	ids, err := r.history.ListIDs(ctx, businessType)
	if err != nil {
		return nil, fmt.Errorf("chat: list conversations: %w", err)
	}
	return ids, nil
}

// GetTranscript returns the role-normalized transcript for conversationID.
// businessType is accepted for routing symmetry; transcripts are keyed by
// conversation id alone.
func (r *Registry) GetTranscript(ctx context.Context, businessType, conversationID string) ([]MsgView, error) {
	if strings.TrimSpace(businessType) == "" {
		return nil, ErrMissingBusinessType
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrMissingConversationID
	}

	msgs, err := r.transcripts.ReadAll(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("chat: read transcript: %w", err)
	}

	out := make([]MsgView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MsgView{
			Role:    string(transcript.Normalize(m.Role)),
			Content: m.Content,
		})
	}
	return out, nil
}
