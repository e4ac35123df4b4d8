// Package history tracks which conversation ids exist under each business
// type ("chat", "service", "pdf", ...). Ids under different types are
// independent namespaces even when they collide.
package history

import "context"

// Store persists conversation id membership per business type.
//
// Requirements:
//   - Record is idempotent: recording an existing id is a no-op.
//   - ListIDs returns ids sorted ascending by string comparison.
//   - An unknown business type is not an error; it yields an empty slice.
type Store interface {
	Record(ctx context.Context, businessType, conversationID string) error
	ListIDs(ctx context.Context, businessType string) ([]string, error)
	Close() error
}
