package chat

import (
	"errors"

	"loom/cmd/internal/model"
)

// Validation errors: rejected before any side effect.
var (
	ErrMissingPrompt         = errors.New("chat: missing prompt")
	ErrMissingConversationID = errors.New("chat: missing conversation id")
	ErrMissingBusinessType   = errors.New("chat: missing business type")
)

// IsValidationError reports whether err is a caller error that should map
// to a 4xx response rather than a server failure.
func IsValidationError(err error) bool {
	if errors.Is(err, ErrMissingPrompt) ||
		errors.Is(err, ErrMissingConversationID) ||
		errors.Is(err, ErrMissingBusinessType) {
		return true
	}
	var merr *model.Error
	return errors.As(err, &merr) && merr.Kind == model.ErrInvalidRequest
}
