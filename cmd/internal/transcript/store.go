package transcript

import "context"

// Store persists per-conversation message logs.
//
// Requirements:
//   - Append adds the given messages to the end of the log, in argument
//     order, atomically: either all of them become visible or none do.
//   - ReadAll returns the full transcript ordered oldest first. There is no
//     numeric "read everything" sentinel; reading all is its own operation.
//   - An unknown conversation id is not an error; it yields an empty slice.
type Store interface {
	Append(ctx context.Context, conversationID string, msgs ...Message) error
	ReadAll(ctx context.Context, conversationID string) ([]Message, error)
	Close() error
}
