package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newTurnID returns a ULID correlating one chat call across log lines.
// ULIDs are lexicographically sortable, which keeps log greps in
// chronological order.
func newTurnID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}
